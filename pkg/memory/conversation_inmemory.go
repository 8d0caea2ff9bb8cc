// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryConversation keeps histories in process memory. Data is lost on
// restart.
type InMemoryConversation struct {
	mu       sync.RWMutex
	sessions map[string][]ConversationMessage
	config   ConversationConfig
}

// NewInMemoryConversation creates a new in-memory conversation store.
func NewInMemoryConversation(config ConversationConfig) *InMemoryConversation {
	return &InMemoryConversation{
		sessions: make(map[string][]ConversationMessage),
		config:   config,
	}
}

func stamp(sessionID string, msg ConversationMessage, now time.Time) ConversationMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	return msg
}

// AppendMessages implements ConversationMemory.
func (m *InMemoryConversation) AppendMessages(_ context.Context, sessionID string, msgs ...ConversationMessage) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.sessions[sessionID] = append(m.sessions[sessionID], stamp(sessionID, msg, now))
	}
	return nil
}

// GetMessages implements ConversationMemory.
func (m *InMemoryConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	m.mu.RLock()
	messages := append([]ConversationMessage(nil), m.sessions[sessionID]...)
	m.mu.RUnlock()
	return m.config.truncate(ctx, messages)
}

// GetRecentMessages implements ConversationMemory.
func (m *InMemoryConversation) GetRecentMessages(_ context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sessions[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]ConversationMessage(nil), all...), nil
}

// Clear implements ConversationMemory.
func (m *InMemoryConversation) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// ListSessions returns the ids of sessions with stored messages.
func (m *InMemoryConversation) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
