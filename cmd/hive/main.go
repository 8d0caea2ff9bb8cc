// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Command hive runs the tool gateway and multi-agent orchestrator.
//
// Usage:
//
//	hive serve --config hive.yaml
//	hive chat --config hive.yaml --session demo
//	hive tools --config hive.yaml --json
//	hive validate --config hive.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Serve the HTTP gateway."`
	Chat     ChatCmd     `cmd:"" help:"Talk to the hive from the terminal."`
	Tools    ToolsCmd    `cmd:"" help:"List the tools of every configured server."`
	Status   StatusCmd   `cmd:"" help:"Check the health of servers, model and history store."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration and agent definitions without connecting."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string   `short:"c" help:"Path to config file." type:"path" env:"HIVE_CONFIG"`
	Set       []string `help:"Override a config key (key=value). Repeatable."`
	LogLevel  string   `help:"Log level (debug, info, warn, error). Overrides the config file."`
	LogFormat string   `help:"Log format (text, json). Overrides the config file."`
	JSON      bool     `help:"Print machine-readable output."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("hive version %s\n", version())
	return nil
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("hive"),
		kong.Description("Tool protocol gateway and multi-agent handover orchestrator."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	if err := kctx.Run(&cli); err != nil {
		printError(err, cli.JSON)
		stop()
		os.Exit(1)
	}
}
