// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway ties the tool registry, the hive and the session cache into
// one conversational front door.
//
// Each request names a session. The gateway fetches that session's swarm from
// the cache, building it on first use and rehydrating it from the history
// store when the session was seen before. It attaches the request's
// credentials to the context for the duration of the turn, streams the turn
// through the caller's handler and appends the new messages to the history
// store.
//
// Example usage:
//
//	gw, err := gateway.New(gateway.Config{HistoryLimit: 50}, reg, h, mem)
//	if err != nil {
//	    return err
//	}
//	defer gw.Close()
//	_, err = gw.Chat(ctx, gateway.ChatRequest{SessionID: "u-42", Message: "hi"},
//	    hive.NewConsoleHandler(os.Stdout))
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jllopis/hive/pkg/core"
	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/hive"
	"github.com/jllopis/hive/pkg/llm"
	"github.com/jllopis/hive/pkg/memory"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/registry"
	"github.com/jllopis/hive/pkg/session"
	"github.com/jllopis/hive/pkg/telemetry"
)

// Metadata keys stored on the last message of every turn. They let an
// evicted session resume on the agent and context it ended with.
const (
	MetaAgent   = "hive.agent"
	MetaContext = "hive.context"
)

// RebuildFunc produces a hive over the registry's current tools.
type RebuildFunc func(ctx context.Context, reg *registry.Registry) (*hive.Hive, error)

// Config configures a Gateway.
type Config struct {
	// HistoryLimit bounds the stored messages replayed into a rehydrated
	// swarm. Zero replays everything.
	HistoryLimit int
	// SessionOptions configure the session cache.
	SessionOptions []session.Option
	// Rebuild is called after Reload so agents see the new tool set.
	// Without it Reload only refreshes the registry.
	Rebuild RebuildFunc
	// Probes are extra health checks keyed by component name.
	Probes map[string]func(ctx context.Context) error

	Logger  *slog.Logger
	Metrics *telemetry.GatewayMetrics
}

// ChatRequest is one user message for a session.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	// Credentials are access tokens by server name, "*" for any server. They
	// live only for this request.
	Credentials protocol.Credentials `json:"credentials,omitempty"`
}

// Status is the gateway health snapshot.
type Status struct {
	Status     core.HealthStatus                `json:"status"`
	Servers    map[string]registry.ServerStatus `json:"servers"`
	Components []core.HealthResult              `json:"components"`
	Tools      int                              `json:"tools"`
	Sessions   int                              `json:"sessions"`
}

// pinger is implemented by history stores that can probe their backend.
type pinger interface {
	Ping(ctx context.Context) error
}

// Gateway is safe for concurrent use.
type Gateway struct {
	cfg     Config
	reg     *registry.Registry
	mem     memory.ConversationMemory
	cache   *session.Cache
	health  *core.HealthRegistry
	logger  *slog.Logger
	metrics *telemetry.GatewayMetrics

	mu      sync.RWMutex
	hive    *hive.Hive
	servers []string
}

// New creates a gateway. mem may be nil, in which case sessions live only as
// long as they stay cached.
func New(cfg Config, reg *registry.Registry, h *hive.Hive, mem memory.ConversationMemory) (*Gateway, error) {
	if reg == nil {
		return nil, errors.Errorf(errors.CodeConfig, "gateway requires a tool registry")
	}
	if h == nil {
		return nil, errors.Errorf(errors.CodeConfig, "gateway requires a hive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:     cfg,
		reg:     reg,
		mem:     mem,
		hive:    h,
		health:  core.NewHealthRegistry(),
		logger:  telemetry.Component(logger, "gateway"),
		metrics: cfg.Metrics,
	}

	opts := append([]session.Option{
		session.WithLogger(logger),
		session.WithOnEvict(func(id string, _ *hive.Swarm) {
			g.logger.Debug("session left the cache", "session_id", id)
		}),
	}, cfg.SessionOptions...)
	cache, err := session.New(g.spawn, opts...)
	if err != nil {
		return nil, err
	}
	g.cache = cache

	for name, probe := range cfg.Probes {
		g.health.Register(name, core.NewProbeChecker(probe))
	}
	if p, ok := mem.(pinger); ok {
		g.health.Register("history", core.NewProbeChecker(p.Ping))
	}
	g.registerServers()
	return g, nil
}

// Hive returns the hive new sessions are spawned from.
func (g *Gateway) Hive() *hive.Hive {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hive
}

// Registry returns the tool registry.
func (g *Gateway) Registry() *registry.Registry { return g.reg }

// Sessions returns the session cache.
func (g *Gateway) Sessions() *session.Cache { return g.cache }

func (g *Gateway) spawn(ctx context.Context, id string) (*hive.Swarm, error) {
	opts := []hive.SpawnOption{hive.WithSessionID(id)}
	if g.mem != nil {
		stored, err := g.loadHistory(ctx, id)
		if err != nil {
			return nil, err
		}
		opts = append(opts, resume(stored)...)
		if len(stored) > 0 {
			g.logger.InfoContext(ctx, "session rehydrated", "session_id", id, "messages", len(stored))
		}
	}
	return g.Hive().Spawn(opts...)
}

func (g *Gateway) loadHistory(ctx context.Context, id string) ([]memory.ConversationMessage, error) {
	var (
		stored []memory.ConversationMessage
		err    error
	)
	if g.cfg.HistoryLimit > 0 {
		stored, err = g.mem.GetRecentMessages(ctx, id, g.cfg.HistoryLimit)
	} else {
		stored, err = g.mem.GetMessages(ctx, id)
	}
	if err != nil {
		return nil, errors.AsHiveError(err).WithContext("session_id", id)
	}
	for len(stored) > 0 && stored[0].Role == llm.RoleTool {
		stored = stored[1:]
	}
	return stored, nil
}

// resume turns stored messages into spawn options: the history itself plus
// the agent and context recorded on the last message.
func resume(stored []memory.ConversationMessage) []hive.SpawnOption {
	if len(stored) == 0 {
		return nil
	}
	opts := []hive.SpawnOption{hive.WithHistory(memory.ToLLM(stored))}
	last := stored[len(stored)-1].Metadata
	if agentID := last[MetaAgent]; agentID != "" {
		opts = append(opts, hive.WithActiveAgent(agentID))
	}
	if raw := last[MetaContext]; raw != "" {
		var sessionCtx map[string]any
		if err := json.Unmarshal([]byte(raw), &sessionCtx); err == nil && len(sessionCtx) > 0 {
			opts = append(opts, hive.WithContext(sessionCtx))
		}
	}
	return opts
}

// Chat runs one turn. Failures are reported through h as well as returned;
// the session stays cached either way.
func (g *Gateway) Chat(ctx context.Context, req ChatRequest, h hive.StreamHandler) (*hive.TurnResult, error) {
	if h == nil {
		h = hive.HandlerFuncs{}
	}
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		err := errors.Errorf(errors.CodeInvalidInput, "session id and message are required")
		h.OnError(err.Error())
		return nil, err
	}
	if len(req.Credentials) > 0 {
		ctx = protocol.WithCredentials(ctx, req.Credentials)
	}
	ctx = core.WithSessionID(ctx, req.SessionID)

	swarm, release, err := g.cache.Acquire(ctx, req.SessionID)
	if err != nil {
		g.metrics.RecordError(ctx, err, "gateway")
		g.logger.ErrorContext(ctx, "cannot build session", "session_id", req.SessionID, "error", err)
		h.OnError(err.Error())
		return nil, err
	}
	defer release()

	result, err := swarm.Run(ctx, req.Message, h)
	if err != nil {
		return nil, err
	}
	g.persist(ctx, req.SessionID, result)
	return result, nil
}

// persist appends the turn to the history store. The turn has already been
// delivered, so a store failure is logged rather than returned.
func (g *Gateway) persist(ctx context.Context, id string, result *hive.TurnResult) {
	if g.mem == nil || len(result.Messages) == 0 {
		return
	}
	msgs := make([]memory.ConversationMessage, 0, len(result.Messages))
	for _, m := range result.Messages {
		msgs = append(msgs, memory.FromLLM(id, m))
	}
	last := &msgs[len(msgs)-1]
	last.Metadata = map[string]string{MetaAgent: result.ActiveAgent}
	if data, err := json.Marshal(result.Context); err == nil {
		last.Metadata[MetaContext] = string(data)
	}

	if err := g.mem.AppendMessages(ctx, id, msgs...); err != nil {
		g.metrics.RecordError(ctx, err, "history")
		g.logger.ErrorContext(ctx, "failed to store turn", "session_id", id, "error", err)
	}
}

// Prewarm builds the swarm of a session ahead of its first message.
func (g *Gateway) Prewarm(ctx context.Context, sessionID string) (bool, error) {
	return g.cache.Prewarm(ctx, sessionID)
}

// Reload rebuilds the registry from servers, rebuilds the hive when a
// RebuildFunc is configured and drops cached sessions so they respawn
// against the new tools. Without a RebuildFunc, or when it fails, the
// current agents stay in place and their tools call through the new
// registry generation.
func (g *Gateway) Reload(ctx context.Context, servers []registry.ServerConfig) error {
	if err := g.reg.Rebuild(ctx, servers); err != nil {
		return err
	}
	g.registerServers()
	if g.cfg.Rebuild == nil {
		g.logger.InfoContext(ctx, "gateway reloaded", "servers", len(servers), "agents_rebuilt", false)
		return nil
	}

	h, err := g.cfg.Rebuild(ctx, g.reg)
	if err != nil {
		g.metrics.RecordError(ctx, err, "gateway")
		g.logger.ErrorContext(ctx, "hive rebuild failed, keeping previous agents", "error", err)
		return err
	}
	g.mu.Lock()
	g.hive = h
	g.mu.Unlock()

	dropped := g.cache.Len()
	g.cache.Purge()
	g.logger.InfoContext(ctx, "gateway reloaded", "servers", len(servers), "agents_rebuilt", true, "sessions_dropped", dropped)
	return nil
}

func (g *Gateway) registerServers() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range g.servers {
		g.health.Unregister("server:" + name)
	}
	g.reg.RegisterHealth(g.health)
	g.servers = g.reg.Servers()
}

// Status checks every component.
func (g *Gateway) Status(ctx context.Context) Status {
	results, overall := g.health.CheckAll(ctx)
	return Status{
		Status:     overall,
		Servers:    g.reg.Status(),
		Components: results,
		Tools:      len(g.reg.Tools()),
		Sessions:   g.cache.Len(),
	}
}

// Close drops every session, closes the registry and the history store.
func (g *Gateway) Close() error {
	g.cache.Purge()
	err := g.reg.Close()
	if c, ok := g.mem.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
