package auth

import "context"

type contextKey string

// credentialKey carries the caller's raw bearer token through the request
// context so the executor can exchange it on-behalf-of.
const credentialKey contextKey = "agentgate_credential"

// WithCredential returns a new context carrying the caller's bearer token.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey, token)
}

// CredentialFromContext extracts the bearer token from context.
// Returns "" if the request carried none (API-key or disabled mode).
func CredentialFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(credentialKey).(string); ok {
		return v
	}
	return ""
}
