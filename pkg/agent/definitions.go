package agent

import (
	"log/slog"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/registry"
)

// Definitions is the YAML description of a hive.
//
//	default_model: llama3.1
//	default_context:
//	  locale: en
//	queen:
//	  id: reception
//	  instructions: Route the user to the right specialist.
//	specialists:
//	  - id: booking
//	    description: Books rooms and tables.
//	    tools: ["hotels_*", "calendar_create_event"]
//	    handovers:
//	      - target: billing
//	        context: {topic: payment}
type Definitions struct {
	DefaultModel   string            `yaml:"default_model"`
	DefaultContext map[string]any    `yaml:"default_context"`
	Queen          AgentDefinition   `yaml:"queen"`
	Specialists    []AgentDefinition `yaml:"specialists"`
}

// AgentDefinition describes one agent.
type AgentDefinition struct {
	ID           string `yaml:"id"`
	Description  string `yaml:"description"`
	Instructions string `yaml:"instructions"`
	Model        string `yaml:"model"`
	// Tools lists qualified tool names or path.Match patterns.
	Tools     []string             `yaml:"tools"`
	Handovers []HandoverDefinition `yaml:"handovers"`
}

// HandoverDefinition declares an extra handover edge.
type HandoverDefinition struct {
	Target      string         `yaml:"target"`
	Description string         `yaml:"description"`
	Context     map[string]any `yaml:"context"`
}

// ToolSource lists the tools agents may be bound to.
type ToolSource interface {
	Tools() []*registry.Entry
}

// LoadDefinitions reads a hive definition file.
func LoadDefinitions(file string) (*Definitions, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to read agent definitions", err).
			WithContext("path", file)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes a hive definition.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to parse agent definitions", err)
	}
	if defs.Queen.ID == "" {
		return nil, errors.Errorf(errors.CodeConfig, "agent definitions have no queen")
	}
	return &defs, nil
}

// Build creates the agent graph, binding each agent to the tools of src its
// allow-list matches. Patterns that match nothing are logged, since the
// server providing them may simply be down.
func Build(defs *Definitions, src ToolSource, logger *slog.Logger) (*Graph, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var entries []*registry.Entry
	if src != nil {
		entries = src.Tools()
	}

	build := func(d AgentDefinition) (*Agent, error) {
		tools, err := bindTools(d, entries, logger)
		if err != nil {
			return nil, err
		}
		for _, h := range d.Handovers {
			tools = append(tools, NewHandoverTool(h.Target, h.Description, h.Context))
		}
		return New(d.ID,
			WithDescription(d.Description),
			WithInstructions(d.Instructions),
			WithModel(d.Model),
			WithTools(tools...),
		)
	}

	queen, err := build(defs.Queen)
	if err != nil {
		return nil, err
	}
	specialists := make([]*Agent, 0, len(defs.Specialists))
	for _, d := range defs.Specialists {
		a, err := build(d)
		if err != nil {
			return nil, err
		}
		specialists = append(specialists, a)
	}
	return NewGraph(queen, specialists...)
}

func bindTools(d AgentDefinition, entries []*registry.Entry, logger *slog.Logger) ([]ToolSpec, error) {
	seen := make(map[string]struct{})
	var tools []ToolSpec
	for _, pattern := range d.Tools {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, errors.New(errors.CodeConfig, "invalid tool pattern", err).
				WithContext("agent", d.ID).WithContext("pattern", pattern)
		}
		matched := 0
		for _, e := range entries {
			if ok, _ := path.Match(pattern, e.QualifiedName); !ok {
				continue
			}
			matched++
			if _, dup := seen[e.QualifiedName]; dup {
				continue
			}
			seen[e.QualifiedName] = struct{}{}
			tools = append(tools, FromEntry(e))
		}
		if matched == 0 {
			logger.Warn("tool pattern matched nothing", "agent", d.ID, "pattern", pattern)
		}
	}
	return tools, nil
}
