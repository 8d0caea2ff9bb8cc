package agent

import (
	"context"
	"maps"

	"github.com/jllopis/hive/pkg/llm"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/registry"
	"github.com/jllopis/hive/pkg/schema"
)

// ToolSpec is a tool an agent can call. It is implemented only by
// *FunctionTool and *HandoverTool.
type ToolSpec interface {
	Name() string
	Definition() llm.Tool
	toolSpec()
}

// Invoker executes an ordinary tool call. *registry.Entry implements it.
type Invoker interface {
	Invoke(ctx context.Context, args map[string]any) (protocol.Result, error)
}

// FunctionTool is an ordinary tool whose result is data for the model.
type FunctionTool struct {
	name        string
	description string
	params      map[string]any
	invoker     Invoker
}

// NewFunctionTool creates a function tool. A nil params is an empty object.
func NewFunctionTool(name, description string, params map[string]any, invoker Invoker) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		params:      objectParams(params),
		invoker:     invoker,
	}
}

// FromEntry wraps a registry entry. The tool is named by its qualified name.
func FromEntry(e *registry.Entry) *FunctionTool {
	var params map[string]any
	if e.Schema != nil && e.Schema.Kind == schema.KindObject {
		params = e.Schema.JSON()
	}
	return NewFunctionTool(e.QualifiedName, e.Description, params, e)
}

func objectParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return params
}

func (t *FunctionTool) Name() string { return t.name }

func (t *FunctionTool) Definition() llm.Tool {
	return llm.NewFunctionTool(t.name, t.description, t.params)
}

// Invoke runs the tool.
func (t *FunctionTool) Invoke(ctx context.Context, args map[string]any) (protocol.Result, error) {
	return t.invoker.Invoke(ctx, args)
}

func (*FunctionTool) toolSpec() {}

// HandoverPrefix prefixes every generated handover tool name.
const HandoverPrefix = "transfer_to_"

// HandoverTool transfers the conversation to another agent.
type HandoverTool struct {
	name string
	// Target is the id of the agent that takes over.
	Target      string
	Description string
	// Patch is merged into the session context when the handover fires.
	Patch map[string]any
}

// Handover is the control signal returned by a handover tool.
type Handover struct {
	Agent   string         `json:"agent"`
	Context map[string]any `json:"context,omitempty"`
}

// NewHandoverTool creates a handover tool named transfer_to_<target>.
func NewHandoverTool(target, description string, patch map[string]any) *HandoverTool {
	if description == "" {
		description = "Transfer the conversation to the " + target + " agent."
	}
	return &HandoverTool{
		name:        HandoverPrefix + target,
		Target:      target,
		Description: description,
		Patch:       patch,
	}
}

func (t *HandoverTool) Name() string { return t.name }

func (t *HandoverTool) Definition() llm.Tool {
	return llm.NewFunctionTool(t.name, t.Description, map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Why the conversation is being transferred.",
			},
		},
	})
}

// Execute returns the handover signal. Arguments from the model are merged
// under the fixed patch, so patch keys always win.
func (t *HandoverTool) Execute(args map[string]any) Handover {
	ctx := make(map[string]any, len(args)+len(t.Patch))
	maps.Copy(ctx, args)
	maps.Copy(ctx, t.Patch)
	return Handover{Agent: t.Target, Context: ctx}
}

func (*HandoverTool) toolSpec() {}
