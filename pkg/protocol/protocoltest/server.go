// Package protocoltest provides an in-process fake tool server for tests.
package protocoltest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// SessionMode selects how the fake server reports its session id.
type SessionMode int

const (
	// SessionHeader sends the id in the session-id response header.
	SessionHeader SessionMode = iota
	// SessionBody embeds the id in the initialize result only.
	SessionBody
	// SessionNone reports no session id at all.
	SessionNone
)

// ToolFunc produces the result of a tool call. Returned errors become
// isError results.
type ToolFunc func(args map[string]any) (any, error)

// Tool is a tool advertised by the fake server.
type Tool struct {
	Name         string
	Description  string
	InputSchema  string
	RequiresAuth bool
	Handler      ToolFunc
}

// Request is a recorded incoming request.
type Request struct {
	Method        string
	SessionID     string
	Authorization string
	Traceparent   string
	Params        json.RawMessage
}

// Server is a fake tool server backed by httptest.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	tools        []Tool
	sessionID    string
	sessionMode  SessionMode
	sse          bool
	callDelay    time.Duration
	healthStatus int
	requests     []Request
	healthHits   int
}

// Option configures the fake server.
type Option func(*Server)

// WithTool registers a tool.
func WithTool(t Tool) Option {
	return func(s *Server) { s.tools = append(s.tools, t) }
}

// WithSessionMode sets how the session id is reported.
func WithSessionMode(mode SessionMode) Option {
	return func(s *Server) { s.sessionMode = mode }
}

// WithSessionID sets the session id handed out on initialize.
func WithSessionID(id string) Option {
	return func(s *Server) { s.sessionID = id }
}

// WithSSE frames every response as a server-push event.
func WithSSE() Option {
	return func(s *Server) { s.sse = true }
}

// WithCallDelay delays tools/call responses until d elapses or the client
// goes away.
func WithCallDelay(d time.Duration) Option {
	return func(s *Server) { s.callDelay = d }
}

// WithHealthStatus sets the status code of GET /health.
func WithHealthStatus(code int) Option {
	return func(s *Server) { s.healthStatus = code }
}

// New starts a fake server. Call Close when done.
func New(opts ...Option) *Server {
	s := &Server{
		sessionID:    "sess-123",
		healthStatus: http.StatusOK,
	}
	for _, opt := range opts {
		opt(s)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/health", s.handleHealth)
	s.Server = httptest.NewServer(mux)
	return s
}

// RPCURL is the JSON-RPC endpoint.
func (s *Server) RPCURL() string { return s.URL + "/rpc" }

// HealthURL is the health endpoint.
func (s *Server) HealthURL() string { return s.URL + "/health" }

// Requests returns a copy of the recorded JSON-RPC requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests used method.
func (s *Server) Count(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

// Total returns the number of JSON-RPC and health requests received.
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests) + s.healthHits
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.healthHits++
	status := s.healthStatus
	s.mu.Unlock()
	w.WriteHeader(status)
}

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:        req.Method,
		SessionID:     r.Header.Get("session-id"),
		Authorization: r.Header.Get("Authorization"),
		Traceparent:   r.Header.Get("traceparent"),
		Params:        req.Params,
	})
	s.mu.Unlock()

	switch req.Method {
	case "initialize":
		result := map[string]any{
			"protocolVersion": "2025-06-18",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "fake", "version": "1.0.0"},
		}
		switch s.sessionMode {
		case SessionHeader:
			w.Header().Set("session-id", s.sessionID)
		case SessionBody:
			result["sessionId"] = s.sessionID
		}
		s.reply(w, req.ID, result, nil)
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
	case "tools/list":
		s.reply(w, req.ID, map[string]any{"tools": s.listTools()}, nil)
	case "tools/call":
		s.handleCall(w, r, req)
	default:
		s.reply(w, req.ID, nil, map[string]any{"code": -32601, "message": "Method not found"})
	}
}

func (s *Server) listTools() []map[string]any {
	tools := make([]map[string]any, 0, len(s.tools))
	for _, t := range s.tools {
		entry := map[string]any{"name": t.Name, "description": t.Description}
		if t.InputSchema != "" {
			entry["inputSchema"] = json.RawMessage(t.InputSchema)
		} else {
			entry["inputSchema"] = map[string]any{"type": "object"}
		}
		if t.RequiresAuth {
			entry["requiresAuth"] = true
		}
		tools = append(tools, entry)
	}
	return tools
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	if s.callDelay > 0 {
		select {
		case <-time.After(s.callDelay):
		case <-r.Context().Done():
			return
		}
	}

	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	_ = json.Unmarshal(req.Params, &params)

	var tool *Tool
	for i := range s.tools {
		if s.tools[i].Name == params.Name {
			tool = &s.tools[i]
		}
	}
	if tool == nil {
		s.reply(w, req.ID, nil, map[string]any{"code": -32602, "message": fmt.Sprintf("unknown tool %s", params.Name)})
		return
	}
	if tool.Handler == nil {
		s.reply(w, req.ID, textContent("ok", false), nil)
		return
	}

	out, err := tool.Handler(params.Arguments)
	if err != nil {
		s.reply(w, req.ID, textContent(err.Error(), true), nil)
		return
	}
	text, ok := out.(string)
	if !ok {
		data, _ := json.Marshal(out)
		text = string(data)
	}
	s.reply(w, req.ID, textContent(text, false), nil)
}

func textContent(text string, isError bool) map[string]any {
	result := map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
	if isError {
		result["isError"] = true
	}
	return result
}

func (s *Server) reply(w http.ResponseWriter, id json.RawMessage, result any, rpcErr any) {
	msg := map[string]any{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		msg["error"] = rpcErr
	} else {
		msg["result"] = result
	}
	data, _ := json.Marshal(msg)

	if s.sse {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
