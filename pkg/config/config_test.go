package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jllopis/hive/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hive.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Protocol.CallTimeout != 30*time.Second {
		t.Errorf("expected 30s call timeout, got %v", cfg.Protocol.CallTimeout)
	}
	if cfg.Protocol.HealthTimeout != 5*time.Second {
		t.Errorf("expected 5s health timeout, got %v", cfg.Protocol.HealthTimeout)
	}
	if cfg.Sessions.Capacity != 1024 || cfg.Sessions.IdleTTL != 30*time.Minute {
		t.Errorf("unexpected session defaults: %+v", cfg.Sessions)
	}
	if cfg.Hive.MaxSteps != 8 {
		t.Errorf("expected max steps 8, got %d", cfg.Hive.MaxSteps)
	}
	if cfg.History.Driver != "memory" {
		t.Errorf("expected memory history, got %s", cfg.History.Driver)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
protocol:
  call_timeout: 2s
servers:
  - name: calendar
    base_url: http://localhost:9001/rpc
    health_url: http://localhost:9001/health
  - name: email
    base_url: http://localhost:9002/rpc
    enabled: false
    requires_auth: true
hive:
  default_context: "user is a hotel guest"
  pin_models: ["gpt-4*", "llama3*"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Protocol.CallTimeout != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.Protocol.CallTimeout)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.Servers))
	}
	if !cfg.Servers[0].IsEnabled() {
		t.Errorf("servers default to enabled")
	}
	if cfg.Servers[1].IsEnabled() || !cfg.Servers[1].RequiresAuth {
		t.Errorf("unexpected email server config: %+v", cfg.Servers[1])
	}
	if len(cfg.Hive.PinModels) != 2 {
		t.Errorf("expected 2 pin models, got %v", cfg.Hive.PinModels)
	}

	servers := cfg.ServerConfigs()
	if len(servers) != 2 || !servers[0].Enabled || servers[1].Enabled || !servers[1].RequiresAuth {
		t.Errorf("unexpected registry configs: %+v", servers)
	}
	if servers[0].HealthURL != "http://localhost:9001/health" {
		t.Errorf("health url not carried over: %+v", servers[0])
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("HIVE_LLM_PROVIDER", "mock")
	t.Setenv("HIVE_PROTOCOL_CALL_TIMEOUT", "750ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Errorf("expected provider mock from env, got %s", cfg.LLM.Provider)
	}
	if cfg.Protocol.CallTimeout != 750*time.Millisecond {
		t.Errorf("expected 750ms from env, got %v", cfg.Protocol.CallTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load("", "hive.max_steps=3", "http.addr=:9999")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Hive.MaxSteps != 3 {
		t.Errorf("expected override max steps 3, got %d", cfg.Hive.MaxSteps)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Errorf("expected override addr, got %s", cfg.HTTP.Addr)
	}

	if _, err := Load("", "novalue"); !errors.IsCode(err, errors.CodeConfig) {
		t.Errorf("expected config error for malformed override, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "empty server name",
			yaml: "servers:\n  - base_url: http://x\n",
		},
		{
			name: "duplicate server name",
			yaml: "servers:\n  - name: a\n    base_url: http://x\n  - name: a\n    base_url: http://y\n",
		},
		{
			name: "missing base url",
			yaml: "servers:\n  - name: a\n",
		},
		{
			name: "sqlite without dsn",
			yaml: "history:\n  driver: sqlite\n",
		},
		{
			name: "unknown history driver",
			yaml: "history:\n  driver: redis\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if !errors.IsCode(err, errors.CodeConfig) {
				t.Errorf("expected CONFIG_ERROR, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.IsCode(err, errors.CodeConfig) {
		t.Errorf("expected CONFIG_ERROR, got %v", err)
	}
}
