package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/agentgate/internal/a2a"
	"github.com/nextlevelbuilder/agentgate/internal/config"
)

// errorBody is the structured payload of every auth rejection.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Middleware decides allow/deny for every inbound request before any
// business logic runs. The agent card path (GET only) is exempt.
type Middleware struct {
	mode      config.AuthMode
	validator *Validator
	apiKey    string
	challenge string // WWW-Authenticate header value, bearer mode only
}

// NewBearer builds the bearer-token gate. The challenge names the token
// issuer and the expected client id so callers know where to authenticate.
func NewBearer(v *Validator, tenantID, clientID string) *Middleware {
	return &Middleware{
		mode:      config.AuthModeBearer,
		validator: v,
		challenge: fmt.Sprintf(
			`Bearer realm="", authorization_uri="https://login.microsoftonline.com/%s/oauth2/authorize", client_id="%s"`,
			tenantID, clientID),
	}
}

// NewAPIKey builds the static-key gate.
func NewAPIKey(key string) *Middleware {
	return &Middleware{mode: config.AuthModeAPIKey, apiKey: key}
}

// Disabled builds a pass-through gate. This is the explicit insecure
// fallback; the warning must stay loud.
func Disabled() *Middleware {
	slog.Warn("security.auth_disabled", "detail", "no client secret or API key configured, all requests are accepted")
	return &Middleware{mode: config.AuthModeDisabled}
}

// Mode returns the active strategy.
func (m *Middleware) Mode() config.AuthMode { return m.mode }

// Wrap returns a handler that enforces the gate around next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == a2a.AgentCardPath && r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		switch m.mode {
		case config.AuthModeBearer:
			m.serveBearer(w, r, next)
		case config.AuthModeAPIKey:
			m.serveAPIKey(w, r, next)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (m *Middleware) serveBearer(w http.ResponseWriter, r *http.Request, next http.Handler) {
	token := extractBearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", m.challenge)
		writeAuthError(w, http.StatusUnauthorized, "Unauthorized",
			"Bearer token is required in the Authorization header")
		return
	}

	decision := m.validator.Validate(token)
	if !decision.Allowed {
		slog.Warn("security.token_rejected", "reason", decision.Reason, "path", r.URL.Path)
		w.Header().Set("WWW-Authenticate", m.challenge)
		writeAuthError(w, http.StatusUnauthorized, "Unauthorized", decision.Reason)
		return
	}

	next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), token)))
}

func (m *Middleware) serveAPIKey(w http.ResponseWriter, r *http.Request, next http.Handler) {
	provided := r.Header.Get("X-API-Key")
	if provided == "" {
		writeAuthError(w, http.StatusUnauthorized, "Unauthorized", "X-API-Key header is required")
		return
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(m.apiKey)) != 1 {
		slog.Warn("security.api_key_mismatch", "path", r.URL.Path)
		writeAuthError(w, http.StatusForbidden, "Forbidden", "Invalid API key")
		return
	}
	next.ServeHTTP(w, r)
}

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(authz, "Bearer ")
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: kind, Message: message})
}
