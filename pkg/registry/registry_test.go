// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/hive/pkg/core"
	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/protocol/protocoltest"
	"github.com/jllopis/hive/pkg/resilience"
)

func searchTool() protocoltest.Tool {
	return protocoltest.Tool{
		Name:        "search",
		InputSchema: `{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`,
		Handler: func(args map[string]any) (any, error) {
			return map[string]any{"hits": 1, "q": args["q"]}, nil
		},
	}
}

func noRetry() Option {
	return WithClientOptions(protocol.WithRetry(resilience.NoRetry()))
}

func serverConfig(name string, srv *protocoltest.Server) ServerConfig {
	return ServerConfig{Name: name, BaseURL: srv.RPCURL(), HealthURL: srv.HealthURL(), Enabled: true}
}

func TestDisabledServersAreNeverConstructed(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer srv.Close()

	var built atomic.Int32
	reg := New(noRetry(), WithClientFactory(func(cfg ServerConfig) ToolClient {
		built.Add(1)
		return protocol.NewClient(cfg, protocol.WithRetry(resilience.NoRetry()))
	}))
	defer reg.Close()

	disabled := serverConfig("web", srv)
	disabled.Enabled = false

	require.NoError(t, reg.Initialize(context.Background(), []ServerConfig{disabled}))
	assert.Zero(t, built.Load())
	assert.Zero(t, srv.Total(), "a disabled server must never be contacted")
	assert.False(t, reg.Status()["web"].Enabled)
	assert.Empty(t, reg.Tools())
}

func TestQualifiedNamesAreUniqueAcrossServers(t *testing.T) {
	a := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer a.Close()
	b := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer b.Close()

	reg := New(noRetry())
	defer reg.Close()
	require.NoError(t, reg.Initialize(context.Background(), []ServerConfig{
		serverConfig("web", a),
		serverConfig("docs", b),
	}))

	tools := reg.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "docs_search", tools[0].QualifiedName)
	assert.Equal(t, "web_search", tools[1].QualifiedName)

	web, ok := reg.Tool("web_search")
	require.True(t, ok)
	assert.Equal(t, "search", web.Name)
	assert.Equal(t, "web", web.Server)

	assert.Contains(t, reg.ServerTools("web"), "search")
	assert.Contains(t, reg.ServerTools("docs"), "search")
	assert.NotSame(t, reg.ServerTools("web")["search"], reg.ServerTools("docs")["search"])
}

func TestOneUnreachableServerDoesNotFailOthers(t *testing.T) {
	ok1 := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer ok1.Close()
	ok2 := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer ok2.Close()
	down := protocoltest.New(protocoltest.WithHealthStatus(http.StatusServiceUnavailable))
	defer down.Close()

	reg := New(noRetry())
	defer reg.Close()
	err := reg.Initialize(context.Background(), []ServerConfig{
		serverConfig("a", ok1),
		serverConfig("b", down),
		serverConfig("c", ok2),
	})
	require.NoError(t, err)

	status := reg.Status()
	assert.True(t, status["a"].Connected)
	assert.False(t, status["b"].Connected)
	assert.NotEmpty(t, status["b"].Error)
	assert.True(t, status["c"].Connected)
	assert.Len(t, reg.current().clients, 2)
	assert.Len(t, reg.Tools(), 2)
	assert.Zero(t, down.Count("initialize"))
}

func TestStatusReportsFallbackSession(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(searchTool()), protocoltest.WithSessionMode(protocoltest.SessionNone))
	defer srv.Close()

	reg := New(noRetry())
	defer reg.Close()
	require.NoError(t, reg.Initialize(context.Background(), []ServerConfig{serverConfig("web", srv)}))

	st := reg.Status()["web"]
	assert.True(t, st.Connected)
	assert.True(t, st.Fallback)
	assert.Equal(t, protocol.DefaultSessionID, st.SessionID)
}

func TestInitializeRejectsBadConfig(t *testing.T) {
	reg := New()
	defer reg.Close()

	err := reg.Initialize(context.Background(), []ServerConfig{{Name: ""}})
	assert.True(t, errors.IsCode(err, errors.CodeConfig))

	err = reg.Initialize(context.Background(), []ServerConfig{{Name: "x"}, {Name: "x"}})
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}

func TestInvokeValidatesArguments(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer srv.Close()

	reg := New(noRetry())
	defer reg.Close()
	require.NoError(t, reg.Initialize(context.Background(), []ServerConfig{serverConfig("web", srv)}))

	entry, ok := reg.Tool("web_search")
	require.True(t, ok)

	_, err := entry.Invoke(context.Background(), map[string]any{})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
	assert.Zero(t, srv.Count("tools/call"))

	res, err := entry.Invoke(context.Background(), map[string]any{"q": "bees"})
	require.NoError(t, err)
	assert.Equal(t, protocol.KindObject, res.Kind)
	assert.Equal(t, 1, srv.Count("tools/call"))
}

func TestCredentialScoping(t *testing.T) {
	secure := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer secure.Close()
	open := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer open.Close()

	secureCfg := serverConfig("mail", secure)
	secureCfg.RequiresAuth = true

	reg := New(noRetry())
	defer reg.Close()
	require.NoError(t, reg.Initialize(context.Background(), []ServerConfig{secureCfg, serverConfig("web", open)}))

	mail, _ := reg.Tool("mail_search")
	web, _ := reg.Tool("web_search")
	args := map[string]any{"q": "x"}

	_, err := mail.Invoke(context.Background(), args)
	assert.True(t, errors.IsCode(err, errors.CodeUnauthorized))
	assert.Zero(t, secure.Count("tools/call"))

	reg.SetAccessTokenForAll("shared")
	_, err = mail.Invoke(context.Background(), args)
	require.NoError(t, err)
	_, err = web.Invoke(context.Background(), args)
	require.NoError(t, err)

	require.NoError(t, reg.SetAccessTokenForTool("mail_search", "tool-scoped"))
	_, err = mail.Invoke(context.Background(), args)
	require.NoError(t, err)

	ctx := protocol.WithCredentials(context.Background(), protocol.Credentials{"mail": "per-request"})
	_, err = mail.Invoke(ctx, args)
	require.NoError(t, err)

	var mailAuth []string
	for _, r := range secure.Requests() {
		if r.Method == "tools/call" {
			mailAuth = append(mailAuth, r.Authorization)
		}
	}
	assert.Equal(t, []string{"Bearer shared", "Bearer tool-scoped", "Bearer per-request"}, mailAuth)

	for _, r := range open.Requests() {
		assert.Empty(t, r.Authorization, "tokens must never reach servers that do not require auth")
	}

	assert.True(t, errors.IsCode(reg.SetAccessTokenForServer("nope", "t"), errors.CodeNotFound))
	assert.True(t, errors.IsCode(reg.SetAccessTokenForTool("nope_tool", "t"), errors.CodeNotFound))
}

func TestRebuildSwapsIndex(t *testing.T) {
	a := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer a.Close()
	b := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer b.Close()

	reg := New(noRetry())
	defer reg.Close()
	require.NoError(t, reg.Initialize(context.Background(), []ServerConfig{serverConfig("a", a)}))
	old, ok := reg.Tool("a_search")
	require.True(t, ok)

	require.NoError(t, reg.Rebuild(context.Background(), []ServerConfig{serverConfig("b", b)}))
	_, ok = reg.Tool("a_search")
	assert.False(t, ok)
	_, ok = reg.Tool("b_search")
	assert.True(t, ok)

	_, err := old.Invoke(context.Background(), map[string]any{"q": "x"})
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "clients of the old generation are closed")
}

func TestEntryHeldAcrossRebuildUsesNewClient(t *testing.T) {
	srv := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer srv.Close()

	reg := New(noRetry())
	defer reg.Close()
	cfgs := []ServerConfig{serverConfig("web", srv)}
	require.NoError(t, reg.Initialize(context.Background(), cfgs))
	held, ok := reg.Tool("web_search")
	require.True(t, ok)

	require.NoError(t, reg.Rebuild(context.Background(), cfgs))
	fresh, _ := reg.Tool("web_search")
	assert.NotSame(t, held, fresh)

	res, err := held.Invoke(context.Background(), map[string]any{"q": "bees"})
	require.NoError(t, err)
	assert.Equal(t, protocol.KindObject, res.Kind)
	assert.Equal(t, 1, srv.Count("tools/call"))
	assert.Equal(t, 2, srv.Count("initialize"))
}

func TestHealthChecker(t *testing.T) {
	up := protocoltest.New(protocoltest.WithTool(searchTool()))
	defer up.Close()
	empty := protocoltest.New()
	defer empty.Close()
	down := protocoltest.New(protocoltest.WithHealthStatus(http.StatusInternalServerError))
	defer down.Close()

	reg := New(noRetry())
	defer reg.Close()
	require.NoError(t, reg.Initialize(context.Background(), []ServerConfig{
		serverConfig("up", up),
		serverConfig("empty", empty),
		serverConfig("down", down),
	}))

	health := core.NewHealthRegistry()
	reg.RegisterHealth(health)
	results, overall := health.CheckAll(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, core.HealthUnhealthy, overall)

	byName := map[string]core.HealthStatus{}
	for _, r := range results {
		byName[r.Component] = r.Status
	}
	assert.Equal(t, core.HealthHealthy, byName["server:up"])
	assert.Equal(t, core.HealthDegraded, byName["server:empty"])
	assert.Equal(t, core.HealthUnhealthy, byName["server:down"])
}

func TestClose(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())
	err := reg.Initialize(context.Background(), nil)
	assert.Error(t, err)
}
