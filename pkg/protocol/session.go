package protocol

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultSessionID is used when a server returns no session id at all.
const DefaultSessionID = "default"

// ServerConfig describes one remote tool server. It is immutable once loaded.
type ServerConfig struct {
	Name         string
	BaseURL      string
	HealthURL    string
	Enabled      bool
	RequiresAuth bool
}

// ToolDescriptor is one tool advertised by a server.
type ToolDescriptor struct {
	Tool         mcp.Tool
	RequiresAuth bool
}

// Name returns the tool name as the server knows it.
func (d ToolDescriptor) Name() string { return d.Tool.Name }

// Session is the handshake state of one client.
type Session struct {
	ID string
	// Fallback is true when the server supplied no session id and
	// DefaultSessionID is in use.
	Fallback  bool
	Tools     []ToolDescriptor
	CreatedAt time.Time
}

// Tool looks up a descriptor by bare name.
func (s *Session) Tool(name string) (ToolDescriptor, bool) {
	for _, d := range s.Tools {
		if d.Tool.Name == name {
			return d, true
		}
	}
	return ToolDescriptor{}, false
}
