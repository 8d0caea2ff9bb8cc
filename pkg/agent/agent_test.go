package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/registry"
	"github.com/jllopis/hive/pkg/schema"
)

type invokerFunc func(ctx context.Context, args map[string]any) (protocol.Result, error)

func (f invokerFunc) Invoke(ctx context.Context, args map[string]any) (protocol.Result, error) {
	return f(ctx, args)
}

func mustAgent(t *testing.T, id string, opts ...Option) *Agent {
	t.Helper()
	a, err := New(id, opts...)
	require.NoError(t, err)
	return a
}

func TestNewRequiresID(t *testing.T) {
	_, err := New("")
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}

func TestWithToolsRejectsDuplicates(t *testing.T) {
	tool := NewFunctionTool("web_search", "", nil, nil)
	_, err := New("a", WithTools(tool, tool))
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}

func TestFunctionToolInvoke(t *testing.T) {
	tool := NewFunctionTool("web_search", "Search the web", nil, invokerFunc(func(_ context.Context, args map[string]any) (protocol.Result, error) {
		return protocol.TextResult("found " + args["q"].(string)), nil
	}))

	def := tool.Definition()
	assert.Equal(t, "web_search", def.Function.Name)
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, def.Function.Parameters)

	res, err := tool.Invoke(context.Background(), map[string]any{"q": "bees"})
	require.NoError(t, err)
	assert.Equal(t, "found bees", res.Text)
}

func TestHandoverToolExecuteIsControlSignal(t *testing.T) {
	h := NewHandoverTool("booking", "", map[string]any{"topic": "rooms"})
	assert.Equal(t, "transfer_to_booking", h.Name())

	out := h.Execute(map[string]any{"reason": "wants a room", "topic": "ignored"})
	assert.Equal(t, "booking", out.Agent)
	assert.Equal(t, map[string]any{"reason": "wants a room", "topic": "rooms"}, out.Context)
}

func TestNewGraphInjectsBidirectionalHandovers(t *testing.T) {
	queen := mustAgent(t, "reception", WithDescription("Front desk"))
	booking := mustAgent(t, "booking", WithDescription("Books rooms"))
	billing := mustAgent(t, "billing")

	g, err := NewGraph(queen, booking, billing)
	require.NoError(t, err)

	q := g.Queen()
	assert.Equal(t, []string{"transfer_to_billing", "transfer_to_booking"}, q.ToolNames())
	for _, id := range []string{"booking", "billing"} {
		a, ok := g.Agent(id)
		require.True(t, ok)
		assert.Equal(t, []string{"transfer_to_reception"}, a.ToolNames())
	}

	assert.Empty(t, queen.Tools, "NewGraph must not mutate the agents passed in")
	require.NoError(t, g.Validate())
	assert.Len(t, g.Agents(), 3)
}

func TestNewGraphKeepsExistingReturnEdge(t *testing.T) {
	queen := mustAgent(t, "reception")
	booking := mustAgent(t, "booking", WithTools(NewHandoverTool("reception", "Back to the desk", map[string]any{"done": true})))

	g, err := NewGraph(queen, booking)
	require.NoError(t, err)
	a, _ := g.Agent("booking")
	require.Len(t, a.Tools, 1)
	h := a.Tools["transfer_to_reception"].(*HandoverTool)
	assert.Equal(t, "Back to the desk", h.Description)
}

func TestNewGraphErrors(t *testing.T) {
	queen := mustAgent(t, "reception")

	_, err := NewGraph(nil)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))

	_, err = NewGraph(queen, mustAgent(t, "reception"))
	assert.True(t, errors.IsCode(err, errors.CodeConfig))

	dangling := mustAgent(t, "booking", WithTools(NewHandoverTool("ghost", "", nil)))
	_, err = NewGraph(queen, dangling)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}

func TestResolve(t *testing.T) {
	g, err := NewGraph(mustAgent(t, "reception"), mustAgent(t, "booking"))
	require.NoError(t, err)

	a, err := g.Resolve(Handover{Agent: "booking"})
	require.NoError(t, err)
	assert.Equal(t, "booking", a.ID)

	_, err = g.Resolve(Handover{Agent: "ghost"})
	assert.True(t, errors.IsCode(err, errors.CodeHandover))
}

type staticSource []*registry.Entry

func (s staticSource) Tools() []*registry.Entry { return s }

func entry(server, tool string) *registry.Entry {
	return &registry.Entry{
		QualifiedName: registry.QualifiedName(server, tool),
		Name:          tool,
		Server:        server,
		Schema:        schema.Translate(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`),
	}
}

const definitionsYAML = `
default_model: llama3.1
default_context:
  locale: en
queen:
  id: reception
  instructions: Route the user.
  tools: ["web_search"]
specialists:
  - id: booking
    description: Books rooms.
    model: qwen2.5
    tools: ["hotels_*", "missing_tool"]
    handovers:
      - target: billing
        context:
          topic: payment
  - id: billing
`

func TestLoadDefinitionsAndBuild(t *testing.T) {
	file := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(file, []byte(definitionsYAML), 0o600))

	defs, err := LoadDefinitions(file)
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", defs.DefaultModel)
	assert.Equal(t, map[string]any{"locale": "en"}, defs.DefaultContext)

	src := staticSource{entry("web", "search"), entry("hotels", "find"), entry("hotels", "book"), entry("mail", "send")}
	g, err := Build(defs, src, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"transfer_to_billing", "transfer_to_booking", "web_search"}, g.Queen().ToolNames())

	booking, ok := g.Agent("booking")
	require.True(t, ok)
	assert.Equal(t, "qwen2.5", booking.Model)
	assert.Equal(t, []string{"hotels_book", "hotels_find", "transfer_to_billing", "transfer_to_reception"}, booking.ToolNames())

	def := booking.Tools["hotels_find"].Definition()
	assert.Equal(t, []string{"q"}, def.Function.Parameters.(map[string]any)["required"])

	h := booking.Tools["transfer_to_billing"].(*HandoverTool)
	assert.Equal(t, map[string]any{"topic": "payment"}, h.Patch)
}

func TestBuildRejectsBadPattern(t *testing.T) {
	defs := &Definitions{Queen: AgentDefinition{ID: "reception", Tools: []string{"web_["}}}
	_, err := Build(defs, staticSource{}, nil)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}

func TestParseDefinitionsRequiresQueen(t *testing.T) {
	_, err := ParseDefinitions([]byte("specialists: []"))
	assert.True(t, errors.IsCode(err, errors.CodeConfig))

	_, err = LoadDefinitions(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}
