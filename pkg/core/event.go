package core

import (
	"context"
	"log/slog"
	"time"
)

// EventType identifies a semantic event emitted by the orchestrator.
type EventType string

const (
	EventTurnStarted   EventType = "turn.started"
	EventTurnCompleted EventType = "turn.completed"
	EventTurnFailed    EventType = "turn.failed"
	EventToolCall      EventType = "tool.call"
	EventToolError     EventType = "tool.error"
	EventHandover      EventType = "agent.handover"
	EventAgentPinned   EventType = "agent.pinned"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	Agent     string
	SessionID string
	TurnID    string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// LogEmitter writes events to a slog logger at debug level.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements EventEmitter.
func (l LogEmitter) Emit(ctx context.Context, event Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"event", string(event.Type),
		"agent", event.Agent,
		"session_id", event.SessionID,
		"turn_id", event.TurnID,
	}
	for k, v := range event.Payload {
		attrs = append(attrs, k, v)
	}
	logger.DebugContext(ctx, "hive event", attrs...)
}

// NewEvent builds an event stamped with the turn and session ids found on ctx.
func NewEvent(ctx context.Context, eventType EventType, agent string, payload map[string]any) Event {
	turnID, _ := TurnID(ctx)
	sessionID, _ := SessionID(ctx)
	return Event{
		Type:      eventType,
		Agent:     agent,
		SessionID: sessionID,
		TurnID:    turnID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
