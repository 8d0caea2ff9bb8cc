// SPDX-License-Identifier: Apache-2.0
// Package telemetry wires slog, OpenTelemetry tracing and gateway metrics.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/hive/pkg/errors"
)

// GatewayMetrics records tool call, handover and turn activity.
// A nil *GatewayMetrics is valid and records nothing.
type GatewayMetrics struct {
	toolCalls    metric.Int64Counter
	toolDuration metric.Float64Histogram
	handovers    metric.Int64Counter
	turns        metric.Int64Counter
	errorCounter metric.Int64Counter
	servers      metric.Int64Gauge
}

// NewGatewayMetrics creates the gateway instruments on the global meter provider.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	meter := otel.Meter("hive/gateway")

	toolCalls, err := meter.Int64Counter(
		"hive.tool.calls",
		metric.WithDescription("Tool invocations by server, tool and outcome"),
	)
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram(
		"hive.tool.duration",
		metric.WithDescription("Tool invocation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	handovers, err := meter.Int64Counter(
		"hive.handovers",
		metric.WithDescription("Agent handovers by source and target"),
	)
	if err != nil {
		return nil, err
	}

	turns, err := meter.Int64Counter(
		"hive.turns",
		metric.WithDescription("Completed swarm turns by outcome"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"hive.errors",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	servers, err := meter.Int64Gauge(
		"hive.registry.servers",
		metric.WithDescription("Connected tool servers"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{
		toolCalls:    toolCalls,
		toolDuration: toolDuration,
		handovers:    handovers,
		turns:        turns,
		errorCounter: errorCounter,
		servers:      servers,
	}, nil
}

// RecordToolCall records one tool invocation.
func (m *GatewayMetrics) RecordToolCall(ctx context.Context, server, tool string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(errors.CodeOf(err))
	}
	attrs := append(ToolAttributes(server, tool), attribute.String(AttrOutcome, outcome))
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(ToolAttributes(server, tool)...))
}

// RecordHandover records an agent switch.
func (m *GatewayMetrics) RecordHandover(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.handovers.Add(ctx, 1, metric.WithAttributes(HandoverAttributes(from, to)...))
}

// RecordTurn records the outcome of a turn.
func (m *GatewayMetrics) RecordTurn(ctx context.Context, agent string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(errors.CodeOf(err))
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAgent, agent),
		attribute.String(AttrOutcome, outcome),
	))
}

// RecordError increments the error counter for err in component.
func (m *GatewayMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	recoverable := "unknown"
	if he := errors.AsHiveError(err); he != nil && he.Code != errors.CodeInternal {
		recoverable = he.RecoverableString()
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(errors.CodeOf(err))),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordServers records how many tool servers are connected.
func (m *GatewayMetrics) RecordServers(ctx context.Context, connected int) {
	if m == nil {
		return
	}
	m.servers.Record(ctx, int64(connected))
}
