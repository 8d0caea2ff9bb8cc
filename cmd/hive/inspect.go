// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/jllopis/hive/pkg/agent"
	"github.com/jllopis/hive/pkg/core"
	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/hive"
	"github.com/jllopis/hive/pkg/registry"
)

// ToolsCmd lists registered tools.
type ToolsCmd struct {
	Server string `help:"Only list the tools of this server."`
}

type toolRow struct {
	Name         string   `json:"name"`
	Server       string   `json:"server"`
	RequiresAuth bool     `json:"requires_auth"`
	Required     []string `json:"required,omitempty"`
	Description  string   `json:"description,omitempty"`
}

func (c *ToolsCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(ctx, cli)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()

	var rows []toolRow
	for _, e := range a.reg.Tools() {
		if c.Server != "" && e.Server != c.Server {
			continue
		}
		row := toolRow{Name: e.QualifiedName, Server: e.Server, RequiresAuth: e.RequiresAuth(), Description: e.Description}
		if e.Schema != nil {
			row.Required = e.Schema.RequiredFields()
		}
		rows = append(rows, row)
	}
	if cli.JSON {
		return writeJSON(os.Stdout, rows)
	}
	return printTools(os.Stdout, rows, a.reg.Status())
}

func printTools(out io.Writer, rows []toolRow, status map[string]registry.ServerStatus) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tSERVER\tAUTH\tREQUIRED\tDESCRIPTION")
	for _, r := range rows {
		auth := ""
		if r.RequiresAuth {
			auth = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", r.Name, r.Server, auth, r.Required, r.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if st := status[name]; st.Enabled && !st.Connected {
			fmt.Fprintf(out, "\nserver %s unavailable: %s", name, st.Error)
		}
	}
	fmt.Fprintln(out)
	return nil
}

// StatusCmd checks component health.
type StatusCmd struct{}

func (c *StatusCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(ctx, cli)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()

	st := a.gw.Status(ctx)
	if cli.JSON {
		if err := writeJSON(os.Stdout, st); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COMPONENT\tSTATUS\tMESSAGE")
		for _, r := range st.Components {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Component, r.Status, r.Message)
		}
		fmt.Fprintf(tw, "overall\t%s\t%d tools\n", st.Status, st.Tools)
		_ = tw.Flush()
	}
	if st.Status == core.HealthUnhealthy {
		return errors.Errorf(errors.CodeTransport, "hive is unhealthy")
	}
	return nil
}

// ValidateCmd checks configuration and agent definitions offline.
type ValidateCmd struct{}

// emptyTools satisfies agent.ToolSource without contacting any server, so
// only agent ids, handovers and pattern syntax are checked.
type emptyTools struct{}

func (emptyTools) Tools() []*registry.Entry { return nil }

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	defs, err := loadDefinitions(cfg)
	if err != nil {
		return withHint(err, "check hive.agents_file")
	}
	graph, err := agent.Build(defs, emptyTools{}, nil)
	if err != nil {
		return withHint(err, "check agent ids, tool patterns and handover targets")
	}
	if _, err := hive.NewPinPolicy(cfg.Hive.PinModels...); err != nil {
		return withHint(err, "check hive.pin_models")
	}

	if cli.JSON {
		ids := make([]string, 0, len(graph.Agents()))
		for _, a := range graph.Agents() {
			ids = append(ids, a.ID)
		}
		return writeJSON(os.Stdout, map[string]any{"valid": true, "queen": graph.Queen().ID, "agents": ids, "servers": len(cfg.Servers)})
	}
	fmt.Printf("config ok: %s\n", cfg)
	for _, a := range graph.Agents() {
		fmt.Printf("  agent %s, handovers %v\n", a.ID, handoverTargets(a))
	}
	return nil
}

func handoverTargets(a *agent.Agent) []string {
	var targets []string
	for _, name := range a.ToolNames() {
		if h, ok := a.Tools[name].(*agent.HandoverTool); ok {
			targets = append(targets, h.Target)
		}
	}
	return targets
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
