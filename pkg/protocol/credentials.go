package protocol

import "context"

// CredentialSource resolves the access token to send to a server.
type CredentialSource interface {
	Credential(ctx context.Context, server string) (string, bool)
}

// Credentials maps server names to access tokens. The "*" key applies to
// every server without its own entry.
type Credentials map[string]string

// Credential implements CredentialSource.
func (c Credentials) Credential(_ context.Context, server string) (string, bool) {
	if token, ok := c[server]; ok && token != "" {
		return token, true
	}
	if token, ok := c["*"]; ok && token != "" {
		return token, true
	}
	return "", false
}

type credentialsKey struct{}

// WithCredentials attaches request-scoped credentials to ctx. They take
// precedence over any default store and never outlive the request.
func WithCredentials(ctx context.Context, src CredentialSource) context.Context {
	return context.WithValue(ctx, credentialsKey{}, src)
}

// CredentialFromContext resolves the request-scoped credential for server.
func CredentialFromContext(ctx context.Context, server string) (string, bool) {
	src, ok := ctx.Value(credentialsKey{}).(CredentialSource)
	if !ok || src == nil {
		return "", false
	}
	return src.Credential(ctx, server)
}
