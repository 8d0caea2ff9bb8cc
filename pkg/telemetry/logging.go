// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/hive/pkg/core"
)

// ConfigureSlog installs the process logger. Records logged with a context
// carry the session, turn and trace the context belongs to.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var base slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}
	logger := slog.New(contextHandler{next: base})
	slog.SetDefault(logger)
	return logger
}

// Component returns logger tagged with the component name, falling back to
// slog.Default when logger is nil.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

// contextAttrs are copied from the context onto each record, unless the
// caller already logged the key.
var contextAttrs = []struct {
	key   string
	value func(context.Context) (string, bool)
}{
	{key: "session_id", value: core.SessionID},
	{key: "turn_id", value: core.TurnID},
	{key: "trace_id", value: traceID},
	{key: "span_id", value: spanID},
}

type contextHandler struct {
	next slog.Handler
}

func (h contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h contextHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx == nil {
		return h.next.Handle(ctx, record)
	}
	logged := make(map[string]bool, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		logged[a.Key] = true
		return true
	})
	for _, ca := range contextAttrs {
		if logged[ca.key] {
			continue
		}
		if v, ok := ca.value(ctx); ok {
			record.AddAttrs(slog.String(ca.key, v))
		}
	}
	return h.next.Handle(ctx, record)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{next: h.next.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	switch v := strings.ToLower(strings.TrimSpace(level)); v {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	default:
		if err := l.UnmarshalText([]byte(v)); err != nil {
			return slog.LevelInfo
		}
		return l
	}
}

func traceID(ctx context.Context) (string, bool) {
	sc := trace.SpanContextFromContext(ctx)
	return sc.TraceID().String(), sc.HasTraceID()
}

func spanID(ctx context.Context) (string, bool) {
	sc := trace.SpanContextFromContext(ctx)
	return sc.SpanID().String(), sc.HasSpanID()
}
