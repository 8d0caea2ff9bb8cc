// SPDX-License-Identifier: Apache-2.0
// Package protocol implements the session-based JSON-RPC client used to talk
// to remote tool servers over HTTP.
//
// A Client performs the handshake (optional health probe, initialize,
// initialized notification), lists tools and calls them. Responses may be a
// single JSON object or server-push framed; both decode identically.
package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/resilience"
	"github.com/jllopis/hive/pkg/telemetry"
)

const (
	DefaultCallTimeout   = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second

	maxResponseBytes = 16 << 20
)

// Client talks to one tool server. It is safe for concurrent use once
// Initialize has returned.
type Client struct {
	cfg             ServerConfig
	httpClient      *http.Client
	callTimeout     time.Duration
	healthTimeout   time.Duration
	clientInfo      mcp.Implementation
	protocolVersion string
	retry           resilience.RetryConfig
	logger          *slog.Logger
	breaker         *gobreaker.CircuitBreaker[*Response]

	mu      sync.RWMutex
	session *Session
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithCallTimeout sets the per tool call timeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithHealthTimeout sets the timeout of the health probe.
func WithHealthTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.healthTimeout = d
		}
	}
}

// WithClientInfo sets the implementation name and version sent on initialize.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.clientInfo = mcp.Implementation{Name: name, Version: version}
	}
}

// WithProtocolVersion overrides the protocol version sent on initialize.
func WithProtocolVersion(version string) ClientOption {
	return func(c *Client) {
		if version != "" {
			c.protocolVersion = version
		}
	}
}

// WithRetry sets the retry policy of the initialize request.
func WithRetry(rc resilience.RetryConfig) ClientOption {
	return func(c *Client) {
		c.retry = rc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBreaker overrides the circuit breaker settings used for tool calls.
func WithBreaker(cfg BreakerConfig) ClientOption {
	return func(c *Client) {
		c.breaker = newBreaker(c.cfg.Name, cfg, c.logger)
	}
}

// NewClient creates a client for cfg. No network I/O happens until Initialize.
func NewClient(cfg ServerConfig, opts ...ClientOption) *Client {
	c := &Client{
		cfg:             cfg,
		httpClient:      http.DefaultClient,
		callTimeout:     DefaultCallTimeout,
		healthTimeout:   DefaultHealthTimeout,
		clientInfo:      mcp.Implementation{Name: "hive", Version: "0.1.0"},
		protocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		retry:           resilience.DefaultRetryConfig(),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = c.logger.With("server", cfg.Name)
	if c.breaker == nil {
		c.breaker = newBreaker(cfg.Name, BreakerConfig{}, c.logger)
	}
	return c
}

// Name returns the server name.
func (c *Client) Name() string { return c.cfg.Name }

// Config returns the server configuration.
func (c *Client) Config() ServerConfig { return c.cfg }

// Session returns the current session or nil before Initialize.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// BreakerState reports the state of the tool call breaker.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Initialize runs the handshake and fetches the tool list. The health
// probe, when configured, must pass before anything else is sent.
func (c *Client) Initialize(ctx context.Context) (*Session, error) {
	if c.cfg.HealthURL != "" {
		if err := c.HealthCheck(ctx); err != nil {
			return nil, err
		}
	}

	params := initializeParams{
		ProtocolVersion: c.protocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ClientInfo:      c.clientInfo,
	}

	var (
		resp    *Response
		headers http.Header
		body    []byte
	)
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, headers, body, err = c.post(ctx, MethodInitialize, params, "", "")
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errors.New(errors.CodeProtocol, "initialize rejected", resp.Error).
			WithContext("server", c.cfg.Name)
	}

	session := &Session{CreatedAt: time.Now()}
	session.ID = sessionIDFromHeaders(headers)
	if session.ID == "" {
		session.ID = sessionIDFromBody(body)
	}
	if session.ID == "" {
		session.ID = DefaultSessionID
		session.Fallback = true
		c.logger.WarnContext(ctx, "server returned no session id, using default", "session_id", DefaultSessionID)
	}

	if _, _, _, err := c.post(ctx, MethodInitialized, nil, session.ID, ""); err != nil {
		c.logger.WarnContext(ctx, "initialized notification failed", "error", err)
	}

	tools, err := c.listTools(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.Tools = tools

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "tool server initialized", "session_id", session.ID, "tools", len(tools))
	return session, nil
}

// ListTools re-fetches the tool list for the current session.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	session := c.Session()
	if session == nil {
		return nil, errSessionNotInitialized(c.cfg.Name)
	}
	tools, err := c.listTools(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.session != nil && c.session.ID == session.ID {
		updated := *c.session
		updated.Tools = tools
		c.session = &updated
	}
	c.mu.Unlock()
	return tools, nil
}

func (c *Client) listTools(ctx context.Context, sessionID string) ([]ToolDescriptor, error) {
	resp, _, _, err := c.post(ctx, MethodToolsList, map[string]any{}, sessionID, "")
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errors.New(errors.CodeProtocol, "tools/list failed", resp.Error).
			WithContext("server", c.cfg.Name)
	}

	var list toolsListResult
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		return nil, errors.New(errors.CodeProtocol, "invalid tools/list result", err).
			WithContext("server", c.cfg.Name)
	}

	tools := make([]ToolDescriptor, 0, len(list.Tools))
	for _, t := range list.Tools {
		if t.Name == "" {
			continue
		}
		tools = append(tools, ToolDescriptor{
			Tool: mcp.Tool{
				Name:           t.Name,
				Description:    t.Description,
				RawInputSchema: t.InputSchema,
			},
			RequiresAuth: t.RequiresAuth,
		})
	}
	return tools, nil
}

// CallOptions tune a single tool call.
type CallOptions struct {
	// RequiresAuth forces a credential even when neither the server nor the
	// tool declares one is needed.
	RequiresAuth bool
	// Credential is sent when auth is required. When empty the
	// request-scoped credential on the context is used.
	Credential string
}

// CallTool invokes a tool. Timeouts are reported as an error Result with a
// nil error so the caller can hand them back to the model. Missing
// credentials fail before any request is sent.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, opts CallOptions) (Result, error) {
	session := c.Session()
	if session == nil {
		return Result{}, errSessionNotInitialized(c.cfg.Name)
	}

	descriptor, _ := session.Tool(name)
	needsAuth := opts.RequiresAuth || c.cfg.RequiresAuth || descriptor.RequiresAuth

	var token string
	if needsAuth {
		token = opts.Credential
		if token == "" {
			token, _ = CredentialFromContext(ctx, c.cfg.Name)
		}
		if token == "" {
			return Result{}, errors.Errorf(errors.CodeUnauthorized, "tool %q on server %q requires an access token", name, c.cfg.Name).
				WithContext("server", c.cfg.Name).
				WithContext("tool", name)
		}
	}

	if args == nil {
		args = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	resp, err := c.breaker.Execute(func() (*Response, error) {
		resp, _, _, err := c.post(callCtx, MethodToolsCall, callParams{Name: name, Arguments: args}, session.ID, token)
		return resp, err
	})
	if err != nil {
		if ctx.Err() == nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			c.logger.WarnContext(ctx, "tool call timed out", "tool", name, "timeout", c.callTimeout)
			return ErrorResult(timeoutMessage(name, c.callTimeout)), nil
		}
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, errors.New(errors.CodeTransport, "circuit open", err).
				WithContext("server", c.cfg.Name).
				WithContext("tool", name)
		}
		return Result{}, err
	}
	if resp.Error != nil {
		return Result{}, errors.New(errors.CodeProtocol, fmt.Sprintf("tool %q failed", name), resp.Error).
			WithContext("server", c.cfg.Name).
			WithContext("tool", name)
	}
	return unwrapResult(resp.Result), nil
}

func timeoutMessage(tool string, d time.Duration) string {
	return fmt.Sprintf("tool %q timed out after %s seconds", tool, strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
}

// HealthCheck probes the health URL. Servers without one are always healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.HealthURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.HealthURL, nil)
	if err != nil {
		return errors.New(errors.CodeConfig, "invalid health url", err).WithContext("server", c.cfg.Name)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(errors.CodeTransport, "health check failed", err).
			WithContext("server", c.cfg.Name)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf(errors.CodeTransport, "health check returned HTTP %d", resp.StatusCode).
			WithContext("server", c.cfg.Name)
	}
	return nil
}

// Close discards the session. The client can be initialized again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	return nil
}

// post sends one JSON-RPC message. Notifications (MethodInitialized) carry no
// id and their response body is ignored.
func (c *Client) post(ctx context.Context, method string, params any, sessionID, token string) (*Response, http.Header, []byte, error) {
	notification := method == MethodInitialized
	req := rpcRequest{JSONRPC: jsonRPCVersion, Method: method, Params: params}
	if !notification {
		req.ID = uuid.NewString()
	}

	ctx, span := telemetry.Tracer(telemetry.ScopeProtocol).Start(ctx, "protocol."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.RPCAttributes(c.cfg.Name, method, req.ID)...),
	)
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, nil, errors.New(errors.CodeInternal, "failed to marshal request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, nil, errors.New(errors.CodeConfig, "failed to create request", err).
			WithContext("server", c.cfg.Name)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		httpReq.Header.Set(HeaderSessionID, sessionID)
		httpReq.Header.Set(HeaderMCPSessionID, sessionID)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.logger.DebugContext(ctx, "tool server request failed", "method", method, "error", err)
		return nil, nil, nil, errors.New(errors.CodeTransport, "request failed", err).
			WithContext("server", c.cfg.Name).
			WithContext("method", method).
			WithRecoverable(ctx.Err() == nil)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		return nil, nil, nil, errors.New(errors.CodeTransport, "failed to read response", err).
			WithContext("server", c.cfg.Name).
			WithContext("method", method)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		span.SetStatus(codes.Error, httpResp.Status)
		return nil, httpResp.Header, raw, errors.Errorf(errors.CodeTransport, "HTTP %d: %s", httpResp.StatusCode, truncate(string(raw), 256)).
			WithContext("server", c.cfg.Name).
			WithContext("method", method).
			WithRecoverable(httpResp.StatusCode >= 500)
	}

	if notification {
		return &Response{JSONRPC: jsonRPCVersion}, httpResp.Header, raw, nil
	}

	resp := ParseResponse(raw)
	if resp.Error != nil {
		span.SetStatus(codes.Error, resp.Error.Message)
	}
	return resp, httpResp.Header, raw, nil
}

func sessionIDFromHeaders(h http.Header) string {
	if h == nil {
		return ""
	}
	if id := h.Get(HeaderSessionID); id != "" {
		return id
	}
	return h.Get(HeaderMCPSessionID)
}

func errSessionNotInitialized(server string) error {
	return errors.Errorf(errors.CodeNotFound, "session not initialized for server %q", server).
		WithContext("server", server)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
