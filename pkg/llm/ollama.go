package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/hive/pkg/errors"
)

// OllamaProvider streams chat completions from an Ollama server.
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates a new OllamaProvider.
func NewOllama(baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Ollama sends tool call arguments as a JSON object, not a string.
type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []Tool          `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaStreamEvent struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

func toOllamaMessages(msgs []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = json.RawMessage(tc.Function.Arguments)
			if len(call.Function.Arguments) == 0 {
				call.Function.Arguments = json.RawMessage(`{}`)
			}
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}
	return out
}

func fromOllamaToolCalls(calls []ollamaToolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		args := string(c.Function.Arguments)
		// Some models double-encode the arguments as a JSON string.
		var s string
		if err := json.Unmarshal(c.Function.Arguments, &s); err == nil {
			args = s
		}
		out = append(out, ToolCall{
			ID:       "call_" + uuid.NewString(),
			Type:     ToolTypeFunction,
			Function: FunctionCall{Name: c.Function.Name, Arguments: args},
		})
	}
	return out
}

func (p *OllamaProvider) do(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	oReq := ollamaRequest{
		Model:    req.Model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   stream,
		Tools:    req.Tools,
	}
	if req.Temperature != 0 {
		oReq.Options = map[string]any{"temperature": req.Temperature}
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to marshal ollama request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to create http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "ollama api call failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Errorf(errors.CodeLLMError, "ollama api returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// Ping reports whether the Ollama server answers.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
	if err != nil {
		return errors.New(errors.CodeLLMError, "failed to create http request", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return errors.New(errors.CodeLLMError, "ollama unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf(errors.CodeLLMError, "ollama version endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Chat sends a non-streaming chat request.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var event ollamaStreamEvent
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return nil, errors.New(errors.CodeLLMError, "failed to decode ollama response", err)
	}
	if event.Error != "" {
		return nil, errors.Errorf(errors.CodeLLMError, "ollama: %s", event.Error)
	}
	return &ChatResponse{
		Content:   event.Message.Content,
		ToolCalls: fromOllamaToolCalls(event.Message.ToolCalls),
		Usage: Usage{
			PromptTokens:     event.PromptEvalCount,
			CompletionTokens: event.EvalCount,
			TotalTokens:      event.PromptEvalCount + event.EvalCount,
		},
	}, nil
}

// ChatStream reads the NDJSON stream. Ollama delivers complete tool calls
// rather than deltas; they are collected and sent with the Done chunk.
func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.do(ctx, req, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk, 64)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		send := func(c StreamChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(resp.Body)
		var toolCalls []ToolCall
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				var event ollamaStreamEvent
				if jsonErr := json.Unmarshal(line, &event); jsonErr == nil {
					if event.Error != "" {
						send(StreamChunk{Error: fmt.Errorf("ollama: %s", event.Error)})
						return
					}
					if len(event.Message.ToolCalls) > 0 {
						toolCalls = append(toolCalls, fromOllamaToolCalls(event.Message.ToolCalls)...)
					}
					if event.Message.Content != "" && !send(StreamChunk{Content: event.Message.Content}) {
						return
					}
					if event.Done {
						send(StreamChunk{
							Done:      true,
							ToolCalls: toolCalls,
							Usage: &Usage{
								PromptTokens:     event.PromptEvalCount,
								CompletionTokens: event.EvalCount,
								TotalTokens:      event.PromptEvalCount + event.EvalCount,
							},
						})
						return
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					err = fmt.Errorf("ollama stream ended before done")
				}
				send(StreamChunk{Error: err})
				return
			}
		}
	}()
	return chunks, nil
}

var _ StreamingProvider = (*OllamaProvider)(nil)
