package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const jsonRPCVersion = "2.0"

// Method names of the tool protocol.
const (
	MethodInitialize  = string(mcp.MethodInitialize)
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = string(mcp.MethodToolsList)
	MethodToolsCall   = string(mcp.MethodToolsCall)
)

// Session header names. The first is the one this gateway sends; both are
// read from responses.
const (
	HeaderSessionID    = "session-id"
	HeaderMCPSessionID = "Mcp-Session-Id"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a decoded JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func parseError(detail string) *Response {
	data, _ := json.Marshal(detail)
	return &Response{
		JSONRPC: jsonRPCVersion,
		Error: &RPCError{
			Code:    mcp.PARSE_ERROR,
			Message: "Parse error",
			Data:    data,
		},
	}
}

// ParseResponse decodes a response body that is either a single JSON object
// or server-push framed (event:/data: lines). For framed bodies the last
// data line wins. Anything else yields a response carrying a -32700 error.
func ParseResponse(body []byte) *Response {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return parseError("empty response body")
	}

	if trimmed[0] == '{' {
		var resp Response
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return parseError(err.Error())
		}
		return &resp
	}

	var last string
	found := false
	for _, line := range strings.Split(string(trimmed), "\n") {
		line = strings.TrimRight(line, "\r")
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			last = strings.TrimSpace(data)
			found = true
		}
	}
	if !found {
		return parseError("response is neither JSON nor event-stream framed")
	}

	var resp Response
	if err := json.Unmarshal([]byte(last), &resp); err != nil {
		return parseError(err.Error())
	}
	return &resp
}

var sessionIDPattern = regexp.MustCompile(`(?i)"session[_-]?id"\s*:\s*"([^"]+)"|session-id:\s*([A-Za-z0-9._\-]+)`)

// sessionIDFromBody finds a session id token in a raw response body.
func sessionIDFromBody(body []byte) string {
	m := sessionIDPattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	if len(m[1]) > 0 {
		return string(m[1])
	}
	return string(m[2])
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    map[string]any     `json:"capabilities"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
}

type wireTool struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	RequiresAuth bool            `json:"requiresAuth,omitempty"`
}

type toolsListResult struct {
	Tools []wireTool `json:"tools"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
