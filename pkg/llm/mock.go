package llm

import (
	"context"
	"strings"
)

// MockProvider answers without a model. With an empty Response it echoes the
// last user message, which makes it usable for offline runs of the CLI.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	content := m.Response
	if content == "" {
		content = "echo: " + lastUserMessage(req.Messages)
	}
	return &ChatResponse{
		Content: content,
		Usage: Usage{
			PromptTokens:     len(req.Messages),
			CompletionTokens: len(strings.Fields(content)),
			TotalTokens:      len(req.Messages) + len(strings.Fields(content)),
		},
	}, nil
}

// ChatStream emits the Chat response one word at a time.
func (m *MockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(resp.Content, " ")
	chunks := make(chan StreamChunk, len(words)+1)
	go func() {
		defer close(chunks)
		for _, w := range words {
			if w == "" {
				continue
			}
			select {
			case <-ctx.Done():
				chunks <- StreamChunk{Error: ctx.Err()}
				return
			case chunks <- StreamChunk{Content: w}:
			}
		}
		usage := resp.Usage
		chunks <- StreamChunk{Done: true, ToolCalls: resp.ToolCalls, Usage: &usage}
	}()
	return chunks, nil
}

func lastUserMessage(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

var _ StreamingProvider = (*MockProvider)(nil)
