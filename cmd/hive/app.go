// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/jllopis/hive/pkg/agent"
	"github.com/jllopis/hive/pkg/config"
	"github.com/jllopis/hive/pkg/core"
	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/gateway"
	"github.com/jllopis/hive/pkg/hive"
	"github.com/jllopis/hive/pkg/llm"
	"github.com/jllopis/hive/pkg/memory"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/registry"
	"github.com/jllopis/hive/pkg/resilience"
	"github.com/jllopis/hive/pkg/session"
	"github.com/jllopis/hive/pkg/telemetry"
)

// defaultAgents is used when hive.agents_file is not set: a single
// assistant that may use every tool.
var defaultAgents = agent.Definitions{
	Queen: agent.AgentDefinition{
		ID:           "assistant",
		Description:  "General assistant.",
		Instructions: "Help the user. Use the available tools when they help answer the request.",
		Tools:        []string{"*"},
	},
}

// app is everything a command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.GatewayMetrics
	reg      *registry.Registry
	gw       *gateway.Gateway
	shutdown telemetry.ShutdownFunc
}

func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.Load(cli.Config, cli.Set...)
	if err != nil {
		return nil, withHint(err, hintFor(errors.CodeConfig, cli.Config))
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	return cfg, nil
}

func loadDefinitions(cfg *config.Config) (*agent.Definitions, error) {
	defs := defaultAgents
	if cfg.Hive.AgentsFile != "" {
		loaded, err := agent.LoadDefinitions(cfg.Hive.AgentsFile)
		if err != nil {
			return nil, err
		}
		defs = *loaded
	}
	if cfg.Hive.DefaultModel != "" && defs.DefaultModel == "" {
		defs.DefaultModel = cfg.Hive.DefaultModel
	}
	if sessionCtx := parseContext(cfg.Hive.DefaultContext); sessionCtx != nil {
		defs.DefaultContext = sessionCtx
	}
	if len(defs.DefaultContext) == 0 {
		defs.DefaultContext = map[string]any{"channel": "hive"}
	}
	return &defs, nil
}

// parseContext accepts a JSON object or free text, which is stored under
// "description".
func parseContext(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj
	}
	return map[string]any{"description": raw}
}

func newProvider(cfg config.LLMConfig) (llm.Provider, func(context.Context) error, error) {
	switch cfg.Provider {
	case "ollama", "":
		p := llm.NewOllama(cfg.BaseURL)
		return p, p.Ping, nil
	case "mock":
		return &llm.MockProvider{}, nil, nil
	default:
		return nil, nil, errors.Errorf(errors.CodeConfig, "unknown llm provider %q", cfg.Provider)
	}
}

func clientOptions(cfg config.ProtocolConfig, logger *slog.Logger) []protocol.ClientOption {
	retry := resilience.DefaultRetryConfig()
	if cfg.HandshakeRetries > 0 {
		retry = retry.WithMaxAttempts(cfg.HandshakeRetries)
	}
	opts := []protocol.ClientOption{
		protocol.WithLogger(logger),
		protocol.WithCallTimeout(cfg.CallTimeout),
		protocol.WithHealthTimeout(cfg.HealthTimeout),
		protocol.WithClientInfo(cfg.ClientName, cfg.ClientVersion),
		protocol.WithRetry(retry),
	}
	if cfg.ProtocolVersion != "" {
		opts = append(opts, protocol.WithProtocolVersion(cfg.ProtocolVersion))
	}
	return opts
}

// hiveBuilder returns the function that binds agents to the registry's
// current tools and wraps them in a hive.
func hiveBuilder(cfg *config.Config, defs *agent.Definitions, provider llm.Provider, logger *slog.Logger, metrics *telemetry.GatewayMetrics) (gateway.RebuildFunc, error) {
	pin, err := hive.NewPinPolicy(cfg.Hive.PinModels...)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, reg *registry.Registry) (*hive.Hive, error) {
		graph, err := agent.Build(defs, reg, logger)
		if err != nil {
			return nil, err
		}
		return hive.New(graph,
			hive.WithDefaultModel(defs.DefaultModel),
			hive.WithDefaultContext(defs.DefaultContext),
			hive.WithProvider(provider),
			hive.WithPin(pin),
			hive.WithMaxSteps(cfg.Hive.MaxSteps),
			hive.WithEmitter(core.LogEmitter{Logger: logger}),
			hive.WithLogger(logger),
			hive.WithMetrics(metrics),
		)
	}, nil
}

// newApp wires configuration into a running gateway. Tool servers are
// contacted here; unreachable ones are logged and left out.
func newApp(ctx context.Context, cli *CLI) (*app, error) {
	cfg, err := loadConfig(cli)
	if err != nil {
		return nil, err
	}
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	var servers []string
	for _, s := range cfg.ServerConfigs() {
		servers = append(servers, s.Name)
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "hive",
		Version:        version(),
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		ExportInterval: cfg.Telemetry.ExportInterval,
		Servers:        servers,
	})
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to initialize telemetry", err)
	}
	metrics, err := telemetry.NewGatewayMetrics()
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
		metrics = nil
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics, shutdown: shutdown}
	if err := a.build(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	defs, err := loadDefinitions(cfg)
	if err != nil {
		return withHint(err, "check hive.agents_file")
	}
	provider, ping, err := newProvider(cfg.LLM)
	if err != nil {
		return withHint(err, "llm.provider must be ollama or mock")
	}

	a.reg = registry.New(
		registry.WithLogger(a.logger),
		registry.WithMetrics(a.metrics),
		registry.WithClientOptions(clientOptions(cfg.Protocol, a.logger)...),
	)
	if err := a.reg.Initialize(ctx, cfg.ServerConfigs()); err != nil {
		return withHint(err, hintFor(errors.CodeConfig, ""))
	}

	build, err := hiveBuilder(cfg, defs, provider, a.logger, a.metrics)
	if err != nil {
		return withHint(err, "check hive.pin_models")
	}
	h, err := build(ctx, a.reg)
	if err != nil {
		return withHint(err, "check agent ids, tool patterns and handover targets")
	}

	mem, err := memory.Open(ctx, cfg.History.Driver, cfg.History.DSN, memory.ConversationConfig{
		TruncationStrategy: memory.NewWindowStrategy(cfg.History.MaxMessages, false),
	})
	if err != nil {
		return withHint(err, "check history.driver and history.dsn")
	}

	probes := map[string]func(context.Context) error{}
	if ping != nil {
		probes["llm"] = ping
	}
	a.gw, err = gateway.New(gateway.Config{
		HistoryLimit: cfg.History.MaxMessages,
		SessionOptions: []session.Option{
			session.WithCapacity(cfg.Sessions.Capacity),
			session.WithIdleTTL(cfg.Sessions.IdleTTL),
		},
		Rebuild: build,
		Probes:  probes,
		Logger:  a.logger,
		Metrics: a.metrics,
	}, a.reg, h, mem)
	return err
}

func (a *app) close(ctx context.Context) error {
	var err error
	if a.gw != nil {
		err = a.gw.Close()
	} else if a.reg != nil {
		err = a.reg.Close()
	}
	if a.shutdown != nil {
		if serr := a.shutdown(ctx); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
