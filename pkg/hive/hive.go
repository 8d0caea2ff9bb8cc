// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package hive runs conversations across a graph of agents.
//
// A Hive is the template: the agent graph plus the default model and default
// session context. Spawn creates a Swarm, the per-session instance that owns
// the active agent, the session context and the message history. A turn
// moves through ROUTING → STREAMING ⇄ HANDOVER → ROUTING, with ERROR
// reachable from any state and always returning to ROUTING.
//
// Example usage:
//
//	h, err := hive.New(graph,
//	    hive.WithDefaultModel("llama3.1"),
//	    hive.WithDefaultContext(map[string]any{"locale": "en"}),
//	    hive.WithProvider(provider),
//	)
//	swarm, err := h.Spawn(hive.WithSessionID("user-42"))
//	result, err := swarm.Run(ctx, "book me a room", hive.NewConsoleHandler(os.Stdout))
package hive

import (
	"log/slog"
	"maps"

	"github.com/jllopis/hive/pkg/agent"
	"github.com/jllopis/hive/pkg/core"
	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/llm"
	"github.com/jllopis/hive/pkg/telemetry"
)

// DefaultMaxSteps bounds the model calls of a single turn.
const DefaultMaxSteps = 8

// settings are shared by New and Spawn. Options given to New become the
// template defaults; options given to Spawn override them for one swarm.
type settings struct {
	model          string
	defaultContext map[string]any
	context        map[string]any
	history        []llm.Message
	active         string
	sessionID      string
	provider       llm.Provider
	pin            *PinPolicy
	maxSteps       int
	concurrency    int
	emitter        core.EventEmitter
	logger         *slog.Logger
	metrics        *telemetry.GatewayMetrics
}

// Option configures a Hive or a spawned Swarm.
type Option func(*settings)

// SpawnOption configures a spawned Swarm.
type SpawnOption = Option

// WithDefaultModel sets the model for agents that do not name one.
func WithDefaultModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// WithDefaultContext sets the template session context.
func WithDefaultContext(ctx map[string]any) Option {
	return func(s *settings) { s.defaultContext = ctx }
}

// WithContext overrides the default context for a spawned swarm.
func WithContext(ctx map[string]any) Option {
	return func(s *settings) { s.context = ctx }
}

// WithHistory seeds the message history.
func WithHistory(msgs []llm.Message) Option {
	return func(s *settings) { s.history = msgs }
}

// WithActiveAgent resumes a swarm on agent id instead of the queen. Unknown
// ids are ignored.
func WithActiveAgent(id string) Option {
	return func(s *settings) { s.active = id }
}

// WithSessionID names the session the swarm serves.
func WithSessionID(id string) Option {
	return func(s *settings) { s.sessionID = id }
}

// WithProvider sets the model provider.
func WithProvider(p llm.Provider) Option {
	return func(s *settings) { s.provider = p }
}

// WithPin sets the policy that pins the active agent to the queen.
func WithPin(p *PinPolicy) Option {
	return func(s *settings) { s.pin = p }
}

// WithMaxSteps bounds the model calls per turn.
func WithMaxSteps(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

// WithToolConcurrency limits how many tool calls of one batch run at once.
// Zero means unlimited.
func WithToolConcurrency(n int) Option {
	return func(s *settings) { s.concurrency = n }
}

// WithEmitter sets the semantic event sink.
func WithEmitter(e core.EventEmitter) Option {
	return func(s *settings) {
		if e != nil {
			s.emitter = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records turns, handovers and errors.
func WithMetrics(m *telemetry.GatewayMetrics) Option {
	return func(s *settings) { s.metrics = m }
}

// Hive is the template swarms are spawned from. It is immutable and safe
// for concurrent use.
type Hive struct {
	graph    *agent.Graph
	defaults settings
}

// New creates a hive over graph.
func New(graph *agent.Graph, opts ...Option) (*Hive, error) {
	if graph == nil {
		return nil, errors.Errorf(errors.CodeConfig, "hive requires an agent graph")
	}
	h := &Hive{
		graph: graph,
		defaults: settings{
			maxSteps: DefaultMaxSteps,
			emitter:  core.NoopEventEmitter{},
			logger:   slog.Default(),
		},
	}
	for _, opt := range opts {
		opt(&h.defaults)
	}
	return h, nil
}

// Graph returns the agent graph.
func (h *Hive) Graph() *agent.Graph { return h.graph }

// Queen returns the root agent.
func (h *Hive) Queen() *agent.Agent { return h.graph.Queen() }

// DefaultModel returns the template model.
func (h *Hive) DefaultModel() string { return h.defaults.model }

// DefaultContext returns a copy of the template context.
func (h *Hive) DefaultContext() map[string]any { return maps.Clone(h.defaults.defaultContext) }

// Spawn creates a swarm. A swarm needs a non-empty session context, taken
// from WithContext or the template default, and a provider.
func (h *Hive) Spawn(opts ...SpawnOption) (*Swarm, error) {
	cfg := h.defaults
	for _, opt := range opts {
		opt(&cfg)
	}

	sessionCtx := cfg.context
	if sessionCtx == nil {
		sessionCtx = cfg.defaultContext
	}
	if len(sessionCtx) == 0 {
		return nil, errors.Errorf(errors.CodeConfig, "cannot spawn swarm: no default context and no override").
			WithContext("session_id", cfg.sessionID)
	}
	if cfg.provider == nil {
		return nil, errors.Errorf(errors.CodeConfig, "cannot spawn swarm: no model provider").
			WithContext("session_id", cfg.sessionID)
	}

	active := h.graph.Queen().ID
	if _, ok := h.graph.Agent(cfg.active); ok {
		active = cfg.active
	}

	s := &Swarm{
		id:      cfg.sessionID,
		graph:   h.graph,
		cfg:     cfg,
		logger:  telemetry.Component(cfg.logger, "hive").With("session_id", cfg.sessionID),
		active:  active,
		context: maps.Clone(sessionCtx),
		history: append([]llm.Message(nil), cfg.history...),
		state:   StateRouting,
	}
	return s, nil
}
