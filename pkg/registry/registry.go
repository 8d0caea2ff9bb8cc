// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry owns one protocol client per enabled tool server and
// presents their tools through a unified view.
//
// Every tool is indexed twice: under its qualified name ("server_tool") in a
// flat map shared by all servers, and under its bare name in a per-server
// map. Both indices are read-only once built; Rebuild swaps in a complete new
// set.
//
// Example usage:
//
//	reg := registry.New(registry.WithLogger(logger))
//	if err := reg.Initialize(ctx, configs); err != nil {
//	    return err // only configuration errors are returned
//	}
//	defer reg.Close()
//
//	entry, ok := reg.Tool("calendar_list_events")
//	result, err := entry.Invoke(ctx, map[string]any{"day": "today"})
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/schema"
	"github.com/jllopis/hive/pkg/telemetry"
)

// ServerConfig describes one tool server.
type ServerConfig = protocol.ServerConfig

// ToolClient is the subset of *protocol.Client the registry depends on.
type ToolClient interface {
	Name() string
	Initialize(ctx context.Context) (*protocol.Session, error)
	CallTool(ctx context.Context, name string, args map[string]any, opts protocol.CallOptions) (protocol.Result, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// ClientFactory builds the client for one server.
type ClientFactory func(cfg ServerConfig) ToolClient

// ServerStatus is a per-server snapshot. Fallback marks a session id the
// server never supplied.
type ServerStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	SessionID string `json:"session_id,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
	Error     string `json:"error,omitempty"`
}

// index is one immutable generation of registry state.
type index struct {
	configs   map[string]ServerConfig
	clients   map[string]ToolClient
	flat      map[string]*Entry
	perServer map[string]map[string]*Entry
	status    map[string]ServerStatus
}

func emptyIndex() *index {
	return &index{
		configs:   map[string]ServerConfig{},
		clients:   map[string]ToolClient{},
		flat:      map[string]*Entry{},
		perServer: map[string]map[string]*Entry{},
		status:    map[string]ServerStatus{},
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	factory    ClientFactory
	clientOpts []protocol.ClientOption
	logger     *slog.Logger
	metrics    *telemetry.GatewayMetrics

	mu     sync.RWMutex
	idx    *index
	closed bool

	credMu      sync.RWMutex
	serverCreds map[string]string
	toolCreds   map[string]string
}

// Option configures a Registry.
type Option func(*Registry)

// WithClientOptions sets options applied to every protocol client.
func WithClientOptions(opts ...protocol.ClientOption) Option {
	return func(r *Registry) {
		r.clientOpts = append(r.clientOpts, opts...)
	}
}

// WithClientFactory replaces how clients are built.
func WithClientFactory(f ClientFactory) Option {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records tool calls and server counts.
func WithMetrics(m *telemetry.GatewayMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:      slog.Default(),
		idx:         emptyIndex(),
		serverCreds: make(map[string]string),
		toolCreds:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		r.factory = func(cfg ServerConfig) ToolClient {
			return protocol.NewClient(cfg, append([]protocol.ClientOption{protocol.WithLogger(r.logger)}, r.clientOpts...)...)
		}
	}
	r.logger = telemetry.Component(r.logger, "registry")
	return r
}

// Initialize connects to every enabled server concurrently. A server that
// fails is logged and left out; only invalid configuration is returned as an
// error.
func (r *Registry) Initialize(ctx context.Context, configs []ServerConfig) error {
	return r.Rebuild(ctx, configs)
}

// Rebuild builds a complete new index from configs and swaps it in. Clients
// of the previous generation are closed afterwards.
func (r *Registry) Rebuild(ctx context.Context, configs []ServerConfig) error {
	if err := validate(configs); err != nil {
		return err
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return errRegistryClosed
	}

	next := r.build(ctx, configs)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		closeClients(next)
		return errRegistryClosed
	}
	prev := r.idx
	r.idx = next
	r.mu.Unlock()

	closeClients(prev)

	connected := 0
	for _, st := range next.status {
		if st.Connected {
			connected++
		}
	}
	r.metrics.RecordServers(ctx, connected)
	r.logger.InfoContext(ctx, "registry ready", "servers", len(configs), "connected", connected, "tools", len(next.flat))
	return nil
}

var errRegistryClosed = errors.Errorf(errors.CodeInternal, "registry is closed")

func validate(configs []ServerConfig) error {
	seen := make(map[string]struct{}, len(configs))
	for i, cfg := range configs {
		if cfg.Name == "" {
			return errors.Errorf(errors.CodeConfig, "server %d has no name", i)
		}
		if _, dup := seen[cfg.Name]; dup {
			return errors.Errorf(errors.CodeConfig, "duplicate server name %q", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
	}
	return nil
}

type outcome struct {
	client  ToolClient
	session *protocol.Session
	err     error
}

func (r *Registry) build(ctx context.Context, configs []ServerConfig) *index {
	idx := emptyIndex()
	outcomes := make([]outcome, len(configs))

	// Every goroutine records its own outcome and returns nil so one failing
	// server never cancels or hides the others.
	var g errgroup.Group
	for i, cfg := range configs {
		idx.configs[cfg.Name] = cfg
		if !cfg.Enabled {
			idx.status[cfg.Name] = ServerStatus{}
			r.logger.DebugContext(ctx, "server disabled, skipping", "server", cfg.Name)
			continue
		}
		g.Go(func() error {
			client := r.factory(cfg)
			session, err := client.Initialize(ctx)
			outcomes[i] = outcome{client: client, session: session, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		out := outcomes[i]
		if out.err != nil {
			r.logger.ErrorContext(ctx, "server initialization failed", "server", cfg.Name, "error", out.err)
			r.metrics.RecordError(ctx, out.err, "registry")
			idx.status[cfg.Name] = ServerStatus{Enabled: true, Error: out.err.Error()}
			if out.client != nil {
				_ = out.client.Close()
			}
			continue
		}

		idx.clients[cfg.Name] = out.client
		bare := make(map[string]*Entry, len(out.session.Tools))
		for _, d := range out.session.Tools {
			name := d.Name()
			if _, dup := bare[name]; dup {
				r.logger.WarnContext(ctx, "duplicate tool name, keeping first", "server", cfg.Name, "tool", name)
				continue
			}
			qualified := QualifiedName(cfg.Name, name)
			if existing, clash := idx.flat[qualified]; clash {
				r.logger.WarnContext(ctx, "qualified tool name collision, keeping first",
					"tool", qualified, "kept_server", existing.Server, "dropped_server", cfg.Name)
				continue
			}
			entry := &Entry{
				QualifiedName: qualified,
				Name:          name,
				Server:        cfg.Name,
				Description:   d.Tool.Description,
				Schema:        schema.Translate(d.Tool.RawInputSchema),
				Descriptor:    d,
				registry:      r,
			}
			bare[name] = entry
			idx.flat[qualified] = entry
		}
		idx.perServer[cfg.Name] = bare
		idx.status[cfg.Name] = ServerStatus{
			Enabled:   true,
			Connected: true,
			ToolCount: len(bare),
			SessionID: out.session.ID,
			Fallback:  out.session.Fallback,
		}
	}
	return idx
}

func closeClients(idx *index) {
	for _, c := range idx.clients {
		_ = c.Close()
	}
}

// QualifiedName joins a server and tool name into the flat key.
func QualifiedName(server, tool string) string {
	return server + "_" + tool
}

func (r *Registry) current() *index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx
}

// Tools returns every tool sorted by qualified name.
func (r *Registry) Tools() []*Entry {
	idx := r.current()
	out := make([]*Entry, 0, len(idx.flat))
	for _, e := range idx.flat {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

// ServerTools returns the tools of one server keyed by bare name.
// The returned map must not be modified.
func (r *Registry) ServerTools(server string) map[string]*Entry {
	return r.current().perServer[server]
}

// Tool looks up a tool by qualified name.
func (r *Registry) Tool(qualified string) (*Entry, bool) {
	e, ok := r.current().flat[qualified]
	return e, ok
}

// Servers returns configured server names in sorted order.
func (r *Registry) Servers() []string {
	idx := r.current()
	names := make([]string, 0, len(idx.configs))
	for name := range idx.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns a per-server snapshot.
func (r *Registry) Status() map[string]ServerStatus {
	idx := r.current()
	out := make(map[string]ServerStatus, len(idx.status))
	for name, st := range idx.status {
		out[name] = st
	}
	return out
}

// Close closes every client. The registry cannot be rebuilt afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	prev := r.idx
	r.idx = emptyIndex()
	r.mu.Unlock()

	closeClients(prev)
	return nil
}
