// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestRPCAttributesOmitsEmptyID(t *testing.T) {
	attrs := RPCAttributes("calendar", "notifications/initialized", "")
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	attrs = RPCAttributes("calendar", "tools/call", "42")
	if len(attrs) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(attrs))
	}
	if attrs[2].Key != attribute.Key(AttrRPCID) || attrs[2].Value.AsString() != "42" {
		t.Errorf("unexpected id attribute: %v", attrs[2])
	}
}

func TestTurnAttributes(t *testing.T) {
	attrs := TurnAttributes("s1", "turn-1", "queen", "")
	if len(attrs) != 3 {
		t.Fatalf("expected model to be omitted, got %d attributes", len(attrs))
	}
	attrs = TurnAttributes("s1", "turn-1", "queen", "llama3")
	if attrs[3].Value.AsString() != "llama3" {
		t.Errorf("expected model attribute, got %v", attrs[3])
	}
}
