package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Step is one scripted model response.
type Step struct {
	// Fragments are streamed in order as content chunks.
	Fragments []string
	// ToolCalls are delivered with the Done chunk.
	ToolCalls []ToolCall
	// Err fails the stream after the fragments.
	Err error
	// Hang blocks after the fragments until the context is cancelled.
	Hang bool
	// Delay is waited before each fragment.
	Delay time.Duration
}

// Text is a step that streams the fragments in order.
func Text(fragments ...string) Step {
	return Step{Fragments: fragments}
}

// Calls is a step that requests the given tool calls.
func Calls(calls ...ToolCall) Step {
	return Step{ToolCalls: calls}
}

// Call builds a function tool call.
func Call(id, name, arguments string) ToolCall {
	return ToolCall{ID: id, Type: ToolTypeFunction, Function: FunctionCall{Name: name, Arguments: arguments}}
}

// ScriptedStreamProvider replays a fixed sequence of steps, one per request,
// and records every request it receives.
type ScriptedStreamProvider struct {
	mu       sync.Mutex
	steps    []Step
	requests []ChatRequest
}

// NewScriptedStreamProvider creates a provider that replays steps.
func NewScriptedStreamProvider(steps ...Step) *ScriptedStreamProvider {
	return &ScriptedStreamProvider{steps: steps}
}

// AddStep appends a step to the queue.
func (s *ScriptedStreamProvider) AddStep(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// Requests returns the requests seen so far.
func (s *ScriptedStreamProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

// Remaining returns how many steps have not been consumed.
func (s *ScriptedStreamProvider) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func (s *ScriptedStreamProvider) next(req ChatRequest) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.Messages = append([]Message(nil), req.Messages...)
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return Step{}, errors.New("scripted provider: no more steps")
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step, nil
}

// Chat collapses the next step into a single response.
func (s *ScriptedStreamProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	step, err := s.next(req)
	if err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	var content string
	for _, f := range step.Fragments {
		content += f
	}
	return &ChatResponse{Content: content, ToolCalls: step.ToolCalls}, nil
}

// ChatStream streams the next step.
func (s *ScriptedStreamProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	step, err := s.next(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		send := func(c StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case chunks <- c:
				return true
			}
		}

		for _, f := range step.Fragments {
			if step.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(step.Delay):
				}
			}
			if !send(StreamChunk{Content: f}) {
				return
			}
		}
		if step.Hang {
			<-ctx.Done()
			return
		}
		if step.Err != nil {
			send(StreamChunk{Error: step.Err})
			return
		}
		send(StreamChunk{Done: true, ToolCalls: step.ToolCalls, Usage: &Usage{}})
	}()
	return chunks, nil
}

var _ StreamingProvider = (*ScriptedStreamProvider)(nil)
