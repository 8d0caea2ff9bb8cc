package registry

import (
	"context"
	"time"

	"github.com/jllopis/hive/pkg/errors"
	"github.com/jllopis/hive/pkg/protocol"
	"github.com/jllopis/hive/pkg/schema"
)

// Entry is one registered tool.
type Entry struct {
	QualifiedName string
	Name          string
	Server        string
	Description   string
	Schema        *schema.Schema
	Descriptor    protocol.ToolDescriptor

	registry *Registry
}

// RequiresAuth reports whether the tool or its server needs a credential.
func (e *Entry) RequiresAuth() bool {
	if e.Descriptor.RequiresAuth {
		return true
	}
	cfg, ok := e.registry.current().configs[e.Server]
	return ok && cfg.RequiresAuth
}

// client resolves the server's client in the current generation, so an entry
// held across a Rebuild keeps working while its server is still configured.
func (e *Entry) client() (ToolClient, error) {
	c, ok := e.registry.current().clients[e.Server]
	if !ok {
		return nil, errors.Errorf(errors.CodeNotFound, "server %q is not connected", e.Server).
			WithContext("tool", e.QualifiedName)
	}
	return c, nil
}

// Invoke validates args and calls the tool. The credential sent, if auth is
// required, comes from the request context first and the registry store
// second.
func (e *Entry) Invoke(ctx context.Context, args map[string]any) (protocol.Result, error) {
	if err := e.Schema.Validate(args); err != nil {
		return protocol.Result{}, errors.AsHiveError(err).
			WithContext("tool", e.QualifiedName)
	}

	opts := protocol.CallOptions{}
	if token, ok := protocol.CredentialFromContext(ctx, e.Server); ok {
		opts.Credential = token
	} else if token, ok := e.registry.credential(e.Server, e.QualifiedName); ok {
		opts.Credential = token
	}

	client, err := e.client()
	if err != nil {
		return protocol.Result{}, err
	}

	start := time.Now()
	result, err := client.CallTool(ctx, e.Name, args, opts)
	elapsed := time.Since(start)
	e.registry.metrics.RecordToolCall(ctx, e.Server, e.Name, elapsed, err)

	if err != nil {
		e.registry.logger.WarnContext(ctx, "tool call failed",
			"tool", e.QualifiedName, "duration_ms", elapsed.Milliseconds(), "error", err)
		return protocol.Result{}, err
	}
	e.registry.logger.DebugContext(ctx, "tool call completed",
		"tool", e.QualifiedName, "duration_ms", elapsed.Milliseconds(), "kind", string(result.Kind))
	return result, nil
}
