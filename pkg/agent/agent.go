// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent defines the agents of a hive and the explicit graph of
// handover edges between them.
//
// Agents never hold pointers to each other. A handover names its target by
// id and the Graph resolves it, so the queen ↔ specialist cycle exists only
// as data.
package agent

import (
	"sort"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/llm"
)

// Agent is a named set of instructions and tools.
type Agent struct {
	ID           string
	Description  string
	Instructions string
	// Model overrides the hive default model when set.
	Model string
	Tools map[string]ToolSpec
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates a new Agent with a required id and options.
func New(id string, opts ...Option) (*Agent, error) {
	if id == "" {
		return nil, errors.Errorf(errors.CodeConfig, "agent id is required")
	}
	a := &Agent{ID: id, Tools: make(map[string]ToolSpec)}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// WithInstructions sets the system instructions.
func WithInstructions(text string) Option {
	return func(a *Agent) error {
		a.Instructions = text
		return nil
	}
}

// WithDescription sets the description used in handover tool definitions.
func WithDescription(text string) Option {
	return func(a *Agent) error {
		a.Description = text
		return nil
	}
}

// WithModel sets the model the agent runs on.
func WithModel(model string) Option {
	return func(a *Agent) error {
		a.Model = model
		return nil
	}
}

// WithTools adds tools. Two tools with the same name are an error.
func WithTools(tools ...ToolSpec) Option {
	return func(a *Agent) error {
		for _, t := range tools {
			if err := a.addTool(t); err != nil {
				return err
			}
		}
		return nil
	}
}

func (a *Agent) addTool(t ToolSpec) error {
	if t == nil {
		return errors.Errorf(errors.CodeConfig, "agent %q: nil tool", a.ID)
	}
	if _, dup := a.Tools[t.Name()]; dup {
		return errors.Errorf(errors.CodeConfig, "agent %q: duplicate tool %q", a.ID, t.Name())
	}
	a.Tools[t.Name()] = t
	return nil
}

// Tool returns the tool with the given name.
func (a *Agent) Tool(name string) (ToolSpec, bool) {
	t, ok := a.Tools[name]
	return t, ok
}

// ToolNames returns the tool names in sorted order.
func (a *Agent) ToolNames() []string {
	names := make([]string, 0, len(a.Tools))
	for name := range a.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the model-facing tool definitions in name order.
func (a *Agent) Definitions() []llm.Tool {
	names := a.ToolNames()
	defs := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		defs = append(defs, a.Tools[name].Definition())
	}
	return defs
}

// handovers returns the agent's handover tools.
func (a *Agent) handovers() []*HandoverTool {
	var out []*HandoverTool
	for _, name := range a.ToolNames() {
		if h, ok := a.Tools[name].(*HandoverTool); ok {
			out = append(out, h)
		}
	}
	return out
}

func (a *Agent) clone() *Agent {
	c := *a
	c.Tools = make(map[string]ToolSpec, len(a.Tools))
	for name, t := range a.Tools {
		c.Tools[name] = t
	}
	return &c
}
