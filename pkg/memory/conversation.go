// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory stores the durable conversation history of sessions.
//
// A swarm keeps its own in-process history for as long as it is cached. The
// stores here outlive it: when a session is evicted and later comes back,
// its swarm is rehydrated from the most recent stored messages.
package memory

import (
	"context"
	"time"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/llm"
)

// ConversationMessage is one stored message of a session.
type ConversationMessage struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Role       llm.Role          `json:"role"`
	Content    string            `json:"content"`
	Agent      string            `json:"agent,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []llm.ToolCall    `json:"tool_calls,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// FromLLM converts a model message for storage.
func FromLLM(sessionID string, m llm.Message) ConversationMessage {
	return ConversationMessage{
		SessionID:  sessionID,
		Role:       m.Role,
		Content:    m.Content,
		Agent:      m.Agent,
		ToolCallID: m.ToolCallID,
		ToolCalls:  m.ToolCalls,
	}
}

// LLM converts a stored message back into a model message.
func (m ConversationMessage) LLM() llm.Message {
	return llm.Message{
		Role:       m.Role,
		Content:    m.Content,
		Agent:      m.Agent,
		ToolCallID: m.ToolCallID,
		ToolCalls:  m.ToolCalls,
	}
}

// ToLLM converts stored messages into model messages.
func ToLLM(msgs []ConversationMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.LLM())
	}
	return out
}

// ConversationMemory stores ordered message sequences per session.
type ConversationMemory interface {
	// AppendMessages adds messages to the session atomically, in order.
	AppendMessages(ctx context.Context, sessionID string, msgs ...ConversationMessage) error

	// GetMessages retrieves the session's messages in insertion order, after
	// the configured truncation strategy.
	GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error)

	// GetRecentMessages retrieves the last N messages of a session.
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error)

	// Clear removes all messages for a session.
	Clear(ctx context.Context, sessionID string) error
}

// TruncationStrategy decides which stored messages are replayed.
type TruncationStrategy interface {
	Truncate(ctx context.Context, messages []ConversationMessage) ([]ConversationMessage, error)
}

// WindowStrategy keeps only the last N messages. A window never starts
// with tool results whose assistant call was cut off, since providers
// reject orphaned tool messages.
type WindowStrategy struct {
	MaxMessages int
	// KeepSystemMessages preserves system messages regardless of window.
	KeepSystemMessages bool
}

// NewWindowStrategy creates a window-based truncation strategy.
func NewWindowStrategy(maxMessages int, keepSystem bool) *WindowStrategy {
	return &WindowStrategy{MaxMessages: maxMessages, KeepSystemMessages: keepSystem}
}

// Truncate implements TruncationStrategy.
func (w *WindowStrategy) Truncate(_ context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return messages, nil
	}

	var system, other []ConversationMessage
	for _, msg := range messages {
		if w.KeepSystemMessages && msg.Role == llm.RoleSystem {
			system = append(system, msg)
		} else {
			other = append(other, msg)
		}
	}

	available := max(w.MaxMessages-len(system), 0)
	if len(other) > available {
		other = other[len(other)-available:]
	}
	for len(other) > 0 && other[0].Role == llm.RoleTool {
		other = other[1:]
	}

	result := make([]ConversationMessage, 0, len(system)+len(other))
	result = append(result, system...)
	return append(result, other...), nil
}

// ConversationConfig configures conversation memory behavior.
type ConversationConfig struct {
	// TruncationStrategy to apply when loading messages. Optional.
	TruncationStrategy TruncationStrategy
}

func (c ConversationConfig) truncate(ctx context.Context, msgs []ConversationMessage) ([]ConversationMessage, error) {
	if c.TruncationStrategy == nil || len(msgs) == 0 {
		return msgs, nil
	}
	return c.TruncationStrategy.Truncate(ctx, msgs)
}

// Open returns the store for driver: "memory" or "sqlite".
func Open(ctx context.Context, driver, dsn string, cfg ConversationConfig) (ConversationMemory, error) {
	switch driver {
	case "", "memory":
		return NewInMemoryConversation(cfg), nil
	case "sqlite":
		return NewSQLiteConversation(ctx, SQLiteConfig{DSN: dsn, ConversationConfig: cfg})
	default:
		return nil, errors.Errorf(errors.CodeConfig, "unknown history driver %q", driver)
	}
}
