package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jllopis/hive/pkg/config"
	"github.com/jllopis/hive/pkg/errors"
)

func offlineCLI(t *testing.T, set ...string) *CLI {
	t.Helper()
	return &CLI{Set: append([]string{"llm.provider=mock", "telemetry.exporter=none"}, set...), LogLevel: "error"}
}

func TestParseContext(t *testing.T) {
	if got := parseContext(""); got != nil {
		t.Errorf("expected nil for empty context, got %v", got)
	}
	if got := parseContext(`{"locale":"es"}`); got["locale"] != "es" {
		t.Errorf("expected JSON object, got %v", got)
	}
	if got := parseContext("hotel guest"); got["description"] != "hotel guest" {
		t.Errorf("expected free text under description, got %v", got)
	}
}

func TestLoadDefinitionsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defs, err := loadDefinitions(cfg)
	if err != nil {
		t.Fatalf("definitions: %v", err)
	}
	if defs.Queen.ID != "assistant" || defs.DefaultModel != "llama3.1" {
		t.Errorf("unexpected defaults: %+v", defs)
	}
	if len(defs.DefaultContext) == 0 {
		t.Errorf("a default context is required to spawn sessions")
	}
	if defaultAgents.DefaultContext != nil {
		t.Errorf("defaults must not be mutated")
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	agents := filepath.Join(dir, "agents.yaml")
	if err := os.WriteFile(agents, []byte(`
queen:
  id: reception
specialists:
  - id: booking
    tools: ["hotels_*"]
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := (&ValidateCmd{}).Run(offlineCLI(t, "hive.agents_file="+agents)); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	err := (&ValidateCmd{}).Run(offlineCLI(t, "hive.pin_models=[\"[\"]"))
	if !errors.IsCode(err, errors.CodeConfig) {
		t.Fatalf("expected config error for bad pin pattern, got %v", err)
	}

	err = (&ValidateCmd{}).Run(offlineCLI(t, "hive.agents_file="+filepath.Join(dir, "missing.yaml")))
	if !errors.IsCode(err, errors.CodeConfig) {
		t.Fatalf("expected config error for missing agents file, got %v", err)
	}
}

func TestChatREPL(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, offlineCLI(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close(ctx)

	var out bytes.Buffer
	cmd := &ChatCmd{Session: "t-1"}
	if err := cmd.repl(ctx, a.gw, strings.NewReader("hello\n\n/quit\n"), &out); err != nil {
		t.Fatalf("repl: %v", err)
	}
	if !strings.Contains(out.String(), "[assistant] echo: hello") {
		t.Errorf("unexpected output %q", out.String())
	}
	if _, ok := a.gw.Sessions().Peek("t-1"); !ok {
		t.Errorf("session should stay cached after the turn")
	}
}

func TestPrintErrorKeepsHint(t *testing.T) {
	err := withHint(errors.Errorf(errors.CodeConfig, "bad"), "fix it")
	if !strings.Contains(err.Error(), "Hint: fix it") {
		t.Errorf("hint missing from %q", err.Error())
	}
	if !errors.IsCode(err, errors.CodeConfig) {
		t.Errorf("code lost through CLIError")
	}
	if withHint(nil, "x") != nil {
		t.Errorf("nil stays nil")
	}
}
