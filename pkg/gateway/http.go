// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/hive/pkg/core"
	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/hive"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/telemetry"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type messageBody struct {
	Message     string               `json:"message"`
	Credentials protocol.Credentials `json:"credentials,omitempty"`
}

type messageResponse struct {
	SessionID string                `json:"session_id"`
	Text      string                `json:"text"`
	Agent     string                `json:"agent"`
	Context   map[string]any        `json:"context,omitempty"`
	Handovers []hive.HandoverRecord `json:"handovers,omitempty"`
	Steps     int                   `json:"steps"`
}

type toolInfo struct {
	Name         string         `json:"name"`
	Server       string         `json:"server"`
	Description  string         `json:"description,omitempty"`
	RequiresAuth bool           `json:"requires_auth,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// Handler returns the HTTP surface:
//
//	POST /v1/sessions/{id}/messages   run a turn, SSE unless ?stream=false
//	POST /v1/sessions/{id}/prewarm    build the session ahead of time
//	GET  /v1/tools                    list registered tools
//	GET  /healthz                     component health
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(g.observe)

	r.Get("/healthz", g.handleHealth)
	r.Get("/v1/tools", g.handleTools)
	r.Route("/v1/sessions/{id}", func(r chi.Router) {
		r.Post("/messages", g.handleMessage)
		r.Post("/prewarm", g.handlePrewarm)
	})
	return r
}

// observe traces and logs every request under its route pattern.
func (g *Gateway) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := telemetry.Tracer(telemetry.ScopeGateway).Start(r.Context(), "http "+r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		r = r.WithContext(ctx)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		span.SetName("http " + r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", ww.Status()),
		)
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
		g.logger.DebugContext(ctx, "http request",
			"method", r.Method, "route", route, "status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(), "request_id", middleware.GetReqID(ctx))
	})
}

func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, errors.New(errors.CodeInvalidInput, "invalid request body", err))
		return
	}
	req := ChatRequest{
		SessionID:   chi.URLParam(r, "id"),
		Message:     body.Message,
		Credentials: requestCredentials(r, body.Credentials),
	}

	if r.URL.Query().Get("stream") == "false" {
		buf := hive.NewBufferHandler()
		result, err := g.Chat(r.Context(), req, buf)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, messageResponse{
			SessionID: req.SessionID,
			Text:      result.Text,
			Agent:     result.ActiveAgent,
			Context:   result.Context,
			Handovers: result.Handovers,
			Steps:     result.Steps,
		})
		return
	}

	sse, err := hive.NewSSEHandler(w)
	if err != nil {
		writeError(w, err)
		return
	}
	// Errors have already been sent as an error event.
	_, _ = g.Chat(r.Context(), req, sse)
}

// requestCredentials merges body credentials with a bearer token, which
// applies to any server the body does not name.
func requestCredentials(r *http.Request, creds protocol.Credentials) protocol.Credentials {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return creds
	}
	out := make(protocol.Credentials, len(creds)+1)
	out["*"] = token
	for server, t := range creds {
		out[server] = t
	}
	return out
}

func (g *Gateway) handlePrewarm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	created, err := g.Prewarm(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"session_id": id, "created": created})
}

func (g *Gateway) handleTools(w http.ResponseWriter, _ *http.Request) {
	entries := g.reg.Tools()
	out := make([]toolInfo, 0, len(entries))
	for _, e := range entries {
		info := toolInfo{
			Name:         e.QualifiedName,
			Server:       e.Server,
			Description:  e.Description,
			RequiresAuth: e.RequiresAuth(),
		}
		if e.Schema != nil {
			info.Parameters = e.Schema.JSON()
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := g.Status(r.Context())
	code := http.StatusOK
	if st.Status == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	he := errors.AsHiveError(err)
	writeJSON(w, statusFor(he.Code), map[string]any{"error": err.Error(), "code": he.Code})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeUnauthorized:
		return http.StatusUnauthorized
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeLLMError, errors.CodeTransport, errors.CodeProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
