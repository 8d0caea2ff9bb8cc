package registry

import (
	"github.com/jllopis/hive/pkg/errors"
)

// SetAccessTokenForServer stores the default token for one server. It is only
// ever sent when the server or the called tool requires auth.
func (r *Registry) SetAccessTokenForServer(server, token string) error {
	if _, ok := r.current().configs[server]; !ok {
		return errors.Errorf(errors.CodeNotFound, "unknown server %q", server)
	}
	r.credMu.Lock()
	defer r.credMu.Unlock()
	if token == "" {
		delete(r.serverCreds, server)
		return nil
	}
	r.serverCreds[server] = token
	return nil
}

// SetAccessTokenForAll stores token for every server that requires auth.
// Servers that do not are left untouched.
func (r *Registry) SetAccessTokenForAll(token string) {
	idx := r.current()
	r.credMu.Lock()
	defer r.credMu.Unlock()
	for name, cfg := range idx.configs {
		if !cfg.RequiresAuth {
			continue
		}
		if token == "" {
			delete(r.serverCreds, name)
			continue
		}
		r.serverCreds[name] = token
	}
}

// SetAccessTokenForTool stores a token for a single tool. It wins over the
// server token.
func (r *Registry) SetAccessTokenForTool(qualified, token string) error {
	if _, ok := r.Tool(qualified); !ok {
		return errors.Errorf(errors.CodeNotFound, "unknown tool %q", qualified)
	}
	r.credMu.Lock()
	defer r.credMu.Unlock()
	if token == "" {
		delete(r.toolCreds, qualified)
		return nil
	}
	r.toolCreds[qualified] = token
	return nil
}

func (r *Registry) credential(server, qualified string) (string, bool) {
	r.credMu.RLock()
	defer r.credMu.RUnlock()
	if token, ok := r.toolCreds[qualified]; ok {
		return token, true
	}
	token, ok := r.serverCreds[server]
	return token, ok
}
