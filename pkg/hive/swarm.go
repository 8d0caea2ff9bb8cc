package hive

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/hive/pkg/agent"
	"github.com/jllopis/hive/pkg/core"
	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/llm"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/telemetry"
)

// HandoverRecord describes one agent switch inside a turn.
type HandoverRecord struct {
	From    string         `json:"from"`
	To      string         `json:"to"`
	Context map[string]any `json:"context,omitempty"`
}

// TurnResult summarizes a completed turn.
type TurnResult struct {
	Text        string           `json:"text"`
	ActiveAgent string           `json:"active_agent"`
	Context     map[string]any   `json:"context"`
	Messages    []llm.Message    `json:"messages"`
	Handovers   []HandoverRecord `json:"handovers,omitempty"`
	Steps       int              `json:"steps"`
	Usage       llm.Usage        `json:"usage"`
}

// Swarm is the live orchestrator of one session. Turns are serialized;
// the read accessors are safe to call while a turn is running.
type Swarm struct {
	id     string
	graph  *agent.Graph
	cfg    settings
	logger *slog.Logger

	turn sync.Mutex

	mu      sync.RWMutex
	active  string
	context map[string]any
	history []llm.Message
	state   State
}

// ID returns the session id.
func (s *Swarm) ID() string { return s.id }

// State returns the current orchestration state.
func (s *Swarm) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ActiveAgent returns the id of the agent that receives the next message.
func (s *Swarm) ActiveAgent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Context returns a copy of the session context.
func (s *Swarm) Context() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.context)
}

// History returns a copy of the message history.
func (s *Swarm) History() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]llm.Message(nil), s.history...)
}

type snapshot struct {
	active     string
	context    map[string]any
	historyLen int
}

func (s *Swarm) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{active: s.active, context: maps.Clone(s.context), historyLen: len(s.history)}
}

func (s *Swarm) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = snap.active
	s.context = snap.context
	s.history = s.history[:snap.historyLen]
}

func (s *Swarm) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Swarm) activeAgent() *agent.Agent {
	a, _ := s.graph.Agent(s.ActiveAgent())
	return a
}

func (s *Swarm) appendMessage(m llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
}

func (s *Swarm) messagesSince(n int) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]llm.Message(nil), s.history[n:]...)
}

func (s *Swarm) modelFor(a *agent.Agent) string {
	if a.Model != "" {
		return a.Model
	}
	return s.cfg.model
}

func (s *Swarm) emit(ctx context.Context, t core.EventType, agentID string, payload map[string]any) {
	s.cfg.emitter.Emit(ctx, core.NewEvent(ctx, t, agentID, payload))
}

// turnState is the bookkeeping of the running turn.
type turnState struct {
	id        string
	acc       *Accumulated
	start     int
	steps     int
	handovers []HandoverRecord
	usage     llm.Usage
}

// Run executes one turn. Errors are reported through h.OnError and
// returned; the swarm is then rolled back to its state before the turn, so
// the next turn starts clean.
func (s *Swarm) Run(ctx context.Context, input string, h StreamHandler) (*TurnResult, error) {
	if h == nil {
		h = HandlerFuncs{}
	}
	s.turn.Lock()
	defer s.turn.Unlock()

	ctx, turnID := core.EnsureTurnID(ctx)
	if s.id != "" {
		ctx = core.WithSessionID(ctx, s.id)
	}
	snap := s.snapshot()
	s.applyPin(ctx)

	a := s.activeAgent()
	model := s.modelFor(a)
	ctx, span := telemetry.Tracer(telemetry.ScopeHive).Start(ctx, "hive.turn",
		trace.WithAttributes(telemetry.TurnAttributes(s.id, turnID, a.ID, model)...))
	defer span.End()

	s.logger.InfoContext(ctx, "turn started", "turn_id", turnID, "agent", a.ID, "model", model)
	s.emit(ctx, core.EventTurnStarted, a.ID, map[string]any{"model": model})
	h.OnStart(SessionMeta{SessionID: s.id, TurnID: turnID, Agent: a.ID, Model: model})

	t := &turnState{id: turnID, acc: &Accumulated{}, start: snap.historyLen}
	s.appendMessage(llm.Message{Role: llm.RoleUser, Content: input})

	if err := s.loop(ctx, t, h); err != nil {
		s.fail(ctx, span, snap, t, err, h)
		return nil, err
	}

	s.setState(StateRouting)
	final := s.ActiveAgent()
	result := &TurnResult{
		Text:        t.acc.String(),
		ActiveAgent: final,
		Context:     s.Context(),
		Messages:    s.messagesSince(t.start),
		Handovers:   t.handovers,
		Steps:       t.steps,
		Usage:       t.usage,
	}

	s.cfg.metrics.RecordTurn(ctx, final, nil)
	s.emit(ctx, core.EventTurnCompleted, final, map[string]any{"steps": t.steps, "handovers": len(t.handovers)})
	s.logger.InfoContext(ctx, "turn completed", "turn_id", turnID, "agent", final, "steps", t.steps)
	span.SetStatus(codes.Ok, "")
	h.OnFinish(FinishMeta{
		SessionID: s.id,
		TurnID:    turnID,
		Agent:     final,
		Steps:     t.steps,
		Handovers: t.handovers,
		Usage:     t.usage,
	})
	return result, nil
}

func (s *Swarm) fail(ctx context.Context, span trace.Span, snap snapshot, t *turnState, err error, h StreamHandler) {
	s.setState(StateError)
	agentID := s.ActiveAgent()

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.cfg.metrics.RecordTurn(ctx, agentID, err)
	s.cfg.metrics.RecordError(ctx, err, "hive")
	s.emit(ctx, core.EventTurnFailed, agentID, map[string]any{"error": err.Error()})
	s.logger.ErrorContext(ctx, "turn failed", "turn_id", t.id, "agent", agentID, "error", err)

	h.OnError(err.Error())
	s.restore(snap)
	s.setState(StateRouting)
}

// applyPin moves the conversation back to the queen when the model of the
// active agent is pinned.
func (s *Swarm) applyPin(ctx context.Context) {
	a := s.activeAgent()
	queen := s.graph.Queen()
	if a.ID == queen.ID {
		return
	}
	model := s.modelFor(a)
	if !s.cfg.pin.Pinned(model) {
		return
	}
	s.mu.Lock()
	s.active = queen.ID
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "active agent pinned to queen", "from", a.ID, "model", model)
	s.emit(ctx, core.EventAgentPinned, queen.ID, map[string]any{"from": a.ID, "model": model})
}

func (s *Swarm) loop(ctx context.Context, t *turnState, h StreamHandler) error {
	for t.steps < s.cfg.maxSteps {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		t.steps++
		s.setState(StateStreaming)

		a := s.activeAgent()
		content, calls, err := s.stream(ctx, a, t, h)
		if err != nil {
			return err
		}
		if content != "" || len(calls) > 0 {
			s.appendMessage(llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: calls, Agent: a.ID})
		}
		if len(calls) == 0 {
			return nil
		}
		if err := s.dispatch(ctx, calls, t); err != nil {
			return err
		}
	}
	return errors.Errorf(errors.CodeInternal, "turn exceeded %d model steps", s.cfg.maxSteps)
}

func cancelled(err error) error {
	return errors.New(errors.CodeTimeout, "turn cancelled", err)
}

func llmError(err error) error {
	var he *errors.HiveError
	if stderrors.As(err, &he) {
		return err
	}
	return errors.New(errors.CodeLLMError, "model call failed", err)
}

func (s *Swarm) requestMessages(a *agent.Agent) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var system strings.Builder
	system.WriteString(a.Instructions)
	if len(s.context) > 0 {
		if data, err := json.Marshal(s.context); err == nil {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString("Session context: ")
			system.Write(data)
		}
	}

	msgs := make([]llm.Message, 0, len(s.history)+1)
	if system.Len() > 0 {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system.String()})
	}
	return append(msgs, s.history...)
}

// stream runs one model call for a and forwards its text to h. It returns
// the complete text and the tool calls requested.
func (s *Swarm) stream(ctx context.Context, a *agent.Agent, t *turnState, h StreamHandler) (string, []llm.ToolCall, error) {
	req := llm.ChatRequest{
		Model:    s.modelFor(a),
		Messages: s.requestMessages(a),
		Tools:    a.Definitions(),
	}
	chunks, err := llm.Stream(ctx, s.cfg.provider, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, cancelled(ctx.Err())
		}
		return "", nil, llmError(err)
	}

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", nil, cancelled(ctx.Err())
		case c, ok := <-chunks:
			if !ok {
				if err := ctx.Err(); err != nil {
					return "", nil, cancelled(err)
				}
				return "", nil, errors.Errorf(errors.CodeLLMError, "model stream ended without completion")
			}
			if c.Error != nil {
				if err := ctx.Err(); err != nil {
					return "", nil, cancelled(err)
				}
				return "", nil, llmError(c.Error)
			}
			if c.Content != "" {
				text.WriteString(c.Content)
				t.acc.add(c.Content)
				h.OnChunk(c.Content, t.acc)
			}
			if c.Done {
				if c.Usage != nil {
					t.usage.PromptTokens += c.Usage.PromptTokens
					t.usage.CompletionTokens += c.Usage.CompletionTokens
					t.usage.TotalTokens += c.Usage.TotalTokens
				}
				return text.String(), c.ToolCalls, nil
			}
		}
	}
}

type pendingCall struct {
	call  llm.ToolCall
	agent string
	tool  *agent.FunctionTool
}

// dispatch executes the tool calls of one model step. Ordinary calls are
// collected and run concurrently; a handover first completes the calls
// before it, then switches the active agent, so the calls after it resolve
// against the new agent's tools.
func (s *Swarm) dispatch(ctx context.Context, calls []llm.ToolCall, t *turnState) error {
	var batch []pendingCall
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		results := s.runBatch(ctx, batch)
		for i, p := range batch {
			s.appendMessage(llm.Message{
				Role:       llm.RoleTool,
				Content:    results[i],
				ToolCallID: p.call.ID,
				Agent:      p.agent,
			})
		}
		batch = nil
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		return nil
	}

	for _, call := range calls {
		a := s.activeAgent()
		spec, _ := a.Tool(call.Function.Name)
		if ho, ok := spec.(*agent.HandoverTool); ok {
			if err := flush(); err != nil {
				return err
			}
			if err := s.handover(ctx, a, ho, call, t); err != nil {
				return err
			}
			continue
		}
		fn, _ := spec.(*agent.FunctionTool)
		batch = append(batch, pendingCall{call: call, agent: a.ID, tool: fn})
	}
	return flush()
}

func (s *Swarm) runBatch(ctx context.Context, batch []pendingCall) []string {
	results := make([]string, len(batch))
	var g errgroup.Group
	if s.cfg.concurrency > 0 {
		g.SetLimit(s.cfg.concurrency)
	}
	for i, p := range batch {
		g.Go(func() error {
			results[i] = s.invoke(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// invoke runs one ordinary call. Every failure becomes an error payload the
// model can react to.
func (s *Swarm) invoke(ctx context.Context, p pendingCall) string {
	name := p.call.Function.Name
	if p.tool == nil {
		return s.toolFailed(ctx, p, errors.Errorf(errors.CodeNotFound, "agent %q has no tool %q", p.agent, name))
	}
	args, err := p.call.Function.Args()
	if err != nil {
		return s.toolFailed(ctx, p, errors.New(errors.CodeInvalidInput, "tool arguments are not valid JSON", err))
	}

	s.emit(ctx, core.EventToolCall, p.agent, map[string]any{"tool": name, "call_id": p.call.ID})
	res, err := p.tool.Invoke(ctx, args)
	if err != nil {
		return s.toolFailed(ctx, p, err)
	}
	if res.IsError() {
		s.logger.WarnContext(ctx, "tool returned an error", "agent", p.agent, "tool", name, "error", res.Error)
		s.emit(ctx, core.EventToolError, p.agent, map[string]any{"tool": name, "error": res.Error})
	}
	return res.String()
}

func (s *Swarm) toolFailed(ctx context.Context, p pendingCall, err error) string {
	name := p.call.Function.Name
	s.logger.WarnContext(ctx, "tool call failed", "agent", p.agent, "tool", name, "error", err)
	s.emit(ctx, core.EventToolError, p.agent, map[string]any{"tool": name, "error": err.Error()})
	return protocol.ErrorResult(err.Error()).String()
}

func (s *Swarm) handover(ctx context.Context, from *agent.Agent, tool *agent.HandoverTool, call llm.ToolCall, t *turnState) error {
	s.setState(StateHandover)

	// Arguments are optional for handovers; malformed ones are dropped.
	args, _ := call.Function.Args()
	signal := tool.Execute(args)
	to, err := s.graph.Resolve(signal)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.active = to.ID
	if s.context == nil {
		s.context = make(map[string]any, len(signal.Context))
	}
	maps.Copy(s.context, signal.Context)
	s.mu.Unlock()

	ack, _ := json.Marshal(map[string]string{"agent": to.ID})
	s.appendMessage(llm.Message{Role: llm.RoleTool, Content: string(ack), ToolCallID: call.ID, Agent: from.ID})

	t.handovers = append(t.handovers, HandoverRecord{From: from.ID, To: to.ID, Context: signal.Context})
	s.cfg.metrics.RecordHandover(ctx, from.ID, to.ID)
	trace.SpanFromContext(ctx).AddEvent("handover", trace.WithAttributes(telemetry.HandoverAttributes(from.ID, to.ID)...))
	s.emit(ctx, core.EventHandover, to.ID, map[string]any{"from": from.ID, "to": to.ID})
	s.logger.InfoContext(ctx, "handover", "turn_id", t.id, "from", from.ID, "to", to.ID)

	s.setState(StateStreaming)
	return nil
}
