// Package config loads gateway configuration from defaults, a YAML file and
// HIVE_ prefixed environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/protocol"
)

// EnvPrefix is the prefix of environment overrides.
// HIVE_PROTOCOL_CALL_TIMEOUT maps to protocol.call_timeout.
const EnvPrefix = "HIVE_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Protocol  ProtocolConfig  `koanf:"protocol"`
	Servers   []ServerConfig  `koanf:"servers"`
	Hive      HiveConfig      `koanf:"hive"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	LLM       LLMConfig       `koanf:"llm"`
	History   HistoryConfig   `koanf:"history"`
	HTTP      HTTPConfig      `koanf:"http"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter       string        `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint   string        `koanf:"otlp_endpoint"`
	OTLPInsecure   bool          `koanf:"otlp_insecure"`
	ExportInterval time.Duration `koanf:"export_interval"` // metric push period
}

// ProtocolConfig tunes the tool protocol clients.
type ProtocolConfig struct {
	CallTimeout      time.Duration `koanf:"call_timeout"`
	HealthTimeout    time.Duration `koanf:"health_timeout"`
	ClientName       string        `koanf:"client_name"`
	ClientVersion    string        `koanf:"client_version"`
	ProtocolVersion  string        `koanf:"protocol_version"`
	HandshakeRetries int           `koanf:"handshake_retries"`
}

// ServerConfig describes one remote tool server.
type ServerConfig struct {
	Name         string `koanf:"name"`
	BaseURL      string `koanf:"base_url"`
	HealthURL    string `koanf:"health_url"`
	Enabled      *bool  `koanf:"enabled"`
	RequiresAuth bool   `koanf:"requires_auth"`
}

// IsEnabled reports whether the server is enabled. Servers are enabled unless
// the file says otherwise.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ServerConfigs converts the servers section for the registry.
func (c *Config) ServerConfigs() []protocol.ServerConfig {
	out := make([]protocol.ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, protocol.ServerConfig{
			Name:         s.Name,
			BaseURL:      s.BaseURL,
			HealthURL:    s.HealthURL,
			Enabled:      s.IsEnabled(),
			RequiresAuth: s.RequiresAuth,
		})
	}
	return out
}

type HiveConfig struct {
	AgentsFile     string   `koanf:"agents_file"`
	DefaultModel   string   `koanf:"default_model"`
	DefaultContext string   `koanf:"default_context"`
	PinModels      []string `koanf:"pin_models"`
	MaxSteps       int      `koanf:"max_steps"`
}

type SessionsConfig struct {
	Capacity int           `koanf:"capacity"`
	IdleTTL  time.Duration `koanf:"idle_ttl"`
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, mock
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
}

type HistoryConfig struct {
	Driver      string `koanf:"driver"` // memory, sqlite
	DSN         string `koanf:"dsn"`
	MaxMessages int    `koanf:"max_messages"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"log.level":                  "info",
		"log.format":                 "text",
		"telemetry.exporter":         "none",
		"telemetry.export_interval":  "60s",
		"protocol.call_timeout":      "30s",
		"protocol.health_timeout":    "5s",
		"protocol.client_name":       "hive",
		"protocol.client_version":    "0.1.0",
		"protocol.handshake_retries": 3,
		"hive.default_model":         "llama3.1",
		"hive.max_steps":             8,
		"sessions.capacity":          1024,
		"sessions.idle_ttl":          "30m",
		"llm.provider":               "ollama",
		"llm.model":                  "llama3.1",
		"llm.base_url":               "http://localhost:11434",
		"history.driver":             "memory",
		"history.max_messages":       50,
		"http.addr":                  ":8080",
	}
	for key, value := range defaults {
		_ = k.Set(key, value)
	}
}

// Load reads configuration from path (optional) and the environment.
// Each override is a "key=value" pair applied last; values that parse as
// JSON are stored decoded.
func Load(path string, overrides ...string) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeConfig, "failed to load config file", err).
				WithContext("path", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to load environment", err)
	}

	for _, override := range overrides {
		key, value, err := parseOverride(override)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, errors.New(errors.CodeConfig, "failed to apply override", err).
				WithContext("key", key)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseOverride(raw string) (string, any, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, errors.Errorf(errors.CodeConfig, "invalid override %q, expected key=value", raw)
	}
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err == nil {
		return key, decoded, nil
	}
	return key, value, nil
}

// Validate checks cross-field constraints that decoding cannot express.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if strings.TrimSpace(s.Name) == "" {
			return errors.Errorf(errors.CodeConfig, "servers[%d]: name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return errors.Errorf(errors.CodeConfig, "servers[%d]: duplicate server name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.BaseURL == "" {
			return errors.Errorf(errors.CodeConfig, "server %q: base_url is required", s.Name)
		}
	}
	switch c.History.Driver {
	case "memory", "sqlite":
	default:
		return errors.Errorf(errors.CodeConfig, "unknown history driver %q", c.History.Driver)
	}
	if c.History.Driver == "sqlite" && c.History.DSN == "" {
		return errors.Errorf(errors.CodeConfig, "history.dsn is required for the sqlite driver")
	}
	if c.Sessions.Capacity <= 0 {
		return errors.Errorf(errors.CodeConfig, "sessions.capacity must be positive, got %d", c.Sessions.Capacity)
	}
	if c.Hive.MaxSteps <= 0 {
		return errors.Errorf(errors.CodeConfig, "hive.max_steps must be positive, got %d", c.Hive.MaxSteps)
	}
	return nil
}

// String renders the config for the validate command.
func (c *Config) String() string {
	return fmt.Sprintf("servers=%d model=%s history=%s http=%s",
		len(c.Servers), c.Hive.DefaultModel, c.History.Driver, c.HTTP.Addr)
}
