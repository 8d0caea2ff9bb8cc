package protocol_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/protocol/protocoltest"
	"github.com/jllopis/hive/pkg/resilience"
)

func echoTool() protocoltest.Tool {
	return protocoltest.Tool{
		Name:        "echo",
		Description: "Echo the input",
		InputSchema: `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
		Handler: func(args map[string]any) (any, error) {
			return map[string]any{"echo": args["text"]}, nil
		},
	}
}

func newClient(srv *protocoltest.Server, opts ...protocol.ClientOption) *protocol.Client {
	cfg := protocol.ServerConfig{Name: "fake", BaseURL: srv.RPCURL(), Enabled: true}
	opts = append([]protocol.ClientOption{protocol.WithRetry(resilience.NoRetry())}, opts...)
	return protocol.NewClient(cfg, opts...)
}

func TestInitializeHandshakeOrder(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(echoTool()))
	defer srv.Close()

	c := newClient(srv)
	session, err := c.Initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sess-123", session.ID)
	assert.False(t, session.Fallback)
	require.Len(t, session.Tools, 1)
	assert.Equal(t, "echo", session.Tools[0].Name())
	assert.JSONEq(t, `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`,
		string(session.Tools[0].Tool.RawInputSchema))

	reqs := srv.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "initialize", reqs[0].Method)
	assert.Equal(t, "notifications/initialized", reqs[1].Method)
	assert.Equal(t, "tools/list", reqs[2].Method)
	assert.Equal(t, "", reqs[0].SessionID)
	assert.Equal(t, "sess-123", reqs[1].SessionID)
	assert.Equal(t, "sess-123", reqs[2].SessionID)
}

func TestInitializeSessionIDResolution(t *testing.T) {
	tests := []struct {
		name         string
		mode         protocoltest.SessionMode
		wantID       string
		wantFallback bool
	}{
		{name: "header", mode: protocoltest.SessionHeader, wantID: "abc", wantFallback: false},
		{name: "body", mode: protocoltest.SessionBody, wantID: "abc", wantFallback: false},
		{name: "none", mode: protocoltest.SessionNone, wantID: protocol.DefaultSessionID, wantFallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := protocoltest.New(protocoltest.WithSessionMode(tt.mode), protocoltest.WithSessionID("abc"))
			defer srv.Close()

			session, err := newClient(srv).Initialize(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, session.ID)
			assert.Equal(t, tt.wantFallback, session.Fallback)
		})
	}
}

func TestInitializeHealthFailureAborts(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithHealthStatus(http.StatusServiceUnavailable))
	defer srv.Close()

	cfg := protocol.ServerConfig{Name: "fake", BaseURL: srv.RPCURL(), HealthURL: srv.HealthURL(), Enabled: true}
	c := protocol.NewClient(cfg, protocol.WithRetry(resilience.NoRetry()))

	_, err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeTransport))
	assert.Zero(t, srv.Count("initialize"), "initialize must not be sent after a failed health check")
	assert.Nil(t, c.Session())
}

func TestCallToolJSONAndSSEAgree(t *testing.T) {
	plain := protocoltest.New(protocoltest.WithTool(echoTool()))
	defer plain.Close()
	framed := protocoltest.New(protocoltest.WithTool(echoTool()), protocoltest.WithSSE())
	defer framed.Close()

	var results []protocol.Result
	for _, srv := range []*protocoltest.Server{plain, framed} {
		c := newClient(srv)
		_, err := c.Initialize(context.Background())
		require.NoError(t, err)

		res, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"}, protocol.CallOptions{})
		require.NoError(t, err)
		results = append(results, res)
	}

	assert.Equal(t, protocol.KindObject, results[0].Kind)
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, map[string]any{"echo": "hi"}, results[0].Value)
}

func TestCallToolRequiresSession(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(echoTool()))
	defer srv.Close()

	_, err := newClient(srv).CallTool(context.Background(), "echo", nil, protocol.CallOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	assert.Zero(t, srv.Count("tools/call"))
}

func TestCallToolMissingCredentialSendsNothing(t *testing.T) {
	secured := echoTool()
	secured.Name = "send_email"
	secured.RequiresAuth = true
	srv := protocoltest.New(protocoltest.WithTool(secured))
	defer srv.Close()

	c := newClient(srv)
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)
	before := srv.Total()

	_, err = c.CallTool(context.Background(), "send_email", map[string]any{"text": "x"}, protocol.CallOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnauthorized))
	assert.Equal(t, before, srv.Total(), "no request may be sent without a credential")
}

func TestCallToolCredentialSources(t *testing.T) {
	secured := echoTool()
	secured.RequiresAuth = true
	srv := protocoltest.New(protocoltest.WithTool(secured))
	defer srv.Close()

	c := newClient(srv)
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	ctx := protocol.WithCredentials(context.Background(), protocol.Credentials{"fake": "from-context"})
	_, err = c.CallTool(ctx, "echo", map[string]any{"text": "a"}, protocol.CallOptions{})
	require.NoError(t, err)

	_, err = c.CallTool(ctx, "echo", map[string]any{"text": "b"}, protocol.CallOptions{Credential: "explicit"})
	require.NoError(t, err)

	var auths []string
	for _, r := range srv.Requests() {
		if r.Method == "tools/call" {
			auths = append(auths, r.Authorization)
		}
	}
	assert.Equal(t, []string{"Bearer from-context", "Bearer explicit"}, auths)
}

func TestCallToolNoAuthHeaderWhenNotRequired(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(echoTool()))
	defer srv.Close()

	c := newClient(srv)
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	ctx := protocol.WithCredentials(context.Background(), protocol.Credentials{"*": "token"})
	_, err = c.CallTool(ctx, "echo", map[string]any{"text": "a"}, protocol.CallOptions{})
	require.NoError(t, err)

	for _, r := range srv.Requests() {
		assert.Empty(t, r.Authorization)
	}
}

func TestCallToolCallerForcesAuth(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(echoTool()))
	defer srv.Close()

	c := newClient(srv)
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	_, err = c.CallTool(context.Background(), "echo", nil, protocol.CallOptions{RequiresAuth: true})
	assert.True(t, errors.IsCode(err, errors.CodeUnauthorized))
}

func TestCallToolTimeout(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(echoTool()), protocoltest.WithCallDelay(2*time.Second))
	defer srv.Close()

	c := newClient(srv, protocol.WithCallTimeout(100*time.Millisecond))
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	start := time.Now()
	res, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "x"}, protocol.CallOptions{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, protocol.KindError, res.Kind)
	assert.Contains(t, res.Error, "timed out after 0.1 seconds")

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"tool \"echo\" timed out after 0.1 seconds"}`, string(data))
	assert.Equal(t, gobreaker.StateClosed, c.BreakerState(), "timeouts must not trip the breaker")
}

func TestCallToolErrorResult(t *testing.T) {
	failing := protocoltest.Tool{
		Name: "book",
		Handler: func(map[string]any) (any, error) {
			return nil, stderrors.New("no rooms left")
		},
	}
	srv := protocoltest.New(protocoltest.WithTool(failing))
	defer srv.Close()

	c := newClient(srv)
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	res, err := c.CallTool(context.Background(), "book", nil, protocol.CallOptions{})
	require.NoError(t, err)
	assert.True(t, res.IsError())
	assert.Equal(t, "no rooms left", res.Error)
}

func TestCallToolRPCError(t *testing.T) {
	srv := protocoltest.New()
	defer srv.Close()

	c := newClient(srv)
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)

	_, err = c.CallTool(context.Background(), "missing", nil, protocol.CallOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeProtocol))

	var rpcErr *protocol.RPCError
	require.True(t, stderrors.As(err, &rpcErr))
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(echoTool()))
	c := newClient(srv, protocol.WithBreaker(protocol.BreakerConfig{MaxFailures: 2, Timeout: time.Minute}))
	_, err := c.Initialize(context.Background())
	require.NoError(t, err)
	srv.Close()

	for i := 0; i < 2; i++ {
		_, err = c.CallTool(context.Background(), "echo", nil, protocol.CallOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeTransport))
	}
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())

	_, err = c.CallTool(context.Background(), "echo", nil, protocol.CallOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
}

func TestListToolsAndClose(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(echoTool()))
	defer srv.Close()

	c := newClient(srv)
	_, err := c.ListTools(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	_, err = c.Initialize(context.Background())
	require.NoError(t, err)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 1)

	require.NoError(t, c.Close())
	assert.Nil(t, c.Session())
}
