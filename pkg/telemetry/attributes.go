// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans and metrics.
const (
	AttrServer     = "hive.server"
	AttrServers    = "hive.servers"
	AttrTool       = "hive.tool.name"
	AttrToolCallID = "hive.tool.call_id"
	AttrToolResult = "hive.tool.result_kind"
	AttrRPCMethod  = "rpc.method"
	AttrRPCID      = "rpc.jsonrpc.request_id"

	AttrAgent     = "hive.agent.id"
	AttrFromAgent = "hive.handover.from"
	AttrToAgent   = "hive.handover.to"
	AttrSessionID = "hive.session.id"
	AttrTurnID    = "hive.turn.id"
	AttrModel     = "gen_ai.request.model"

	AttrErrorCode = "error.code"
	AttrOutcome   = "hive.outcome"
)

// ToolAttributes returns attributes describing a tool invocation.
func ToolAttributes(server, tool string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServer, server),
		attribute.String(AttrTool, tool),
	}
}

// RPCAttributes returns attributes for an outgoing JSON-RPC request.
func RPCAttributes(server, method, id string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrServer, server),
		attribute.String(AttrRPCMethod, method),
	}
	if id != "" {
		attrs = append(attrs, attribute.String(AttrRPCID, id))
	}
	return attrs
}

// TurnAttributes returns attributes for one swarm turn.
func TurnAttributes(sessionID, turnID, agent, model string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrTurnID, turnID),
		attribute.String(AttrAgent, agent),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrModel, model))
	}
	return attrs
}

// HandoverAttributes returns attributes describing an agent switch.
func HandoverAttributes(from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrFromAgent, from),
		attribute.String(AttrToAgent, to),
	}
}
