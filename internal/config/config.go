// Package config loads gateway configuration from the environment and decides
// which authentication mode the deployment runs in.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AuthMode selects the request-authentication strategy. The modes are
// mutually exclusive and picked once at startup.
type AuthMode string

const (
	// AuthModeBearer validates OAuth bearer tokens against the tenant's JWKS.
	AuthModeBearer AuthMode = "bearer"
	// AuthModeAPIKey compares the X-API-Key header against a configured secret.
	AuthModeAPIKey AuthMode = "apikey"
	// AuthModeDisabled accepts everything. Startup logs a loud warning.
	AuthModeDisabled AuthMode = "disabled"
)

// CancelMode controls how tasks/cancel is answered.
type CancelMode string

const (
	// CancelReject answers every cancel with "not supported".
	CancelReject CancelMode = "reject"
	// CancelForceFail moves the task to failed with a cancellation notice.
	CancelForceFail CancelMode = "force-fail"
)

// EvictionMode controls session registry growth.
type EvictionMode string

const (
	// EvictNone keeps every session for the process lifetime.
	EvictNone EvictionMode = "none"
	// EvictLRU caps the registry and drops the least recently used session.
	EvictLRU EvictionMode = "lru"
)

// Config is the fully resolved gateway configuration.
type Config struct {
	// Remote backend credentials (bearer mode + Copilot Studio access).
	TenantID      string
	ClientID      string
	ClientSecret  string
	EnvironmentID string
	AgentSchema   string

	// Static-key mode secret. Ignored when bearer credentials are present.
	APIKey string

	Port           int
	PublicHostname string

	RemoteTimeout time.Duration
	Cancel        CancelMode
	Eviction      EvictionMode
	SessionCap    int

	// Rate limiting for authenticated endpoints. 0 disables it.
	RateLimitRPM   int
	RateLimitBurst int

	// TaskDBPath enables the sqlite task store. Empty keeps tasks in memory.
	TaskDBPath string

	// OTLP trace export (only effective in builds with the otel tag).
	OTelEndpoint string
}

// FromEnv reads the recognized environment variables. Values are not
// validated here; call Validate before use.
func FromEnv() *Config {
	cfg := &Config{
		TenantID:       os.Getenv("COPILOTSTUDIOAGENT__TENANTID"),
		ClientID:       os.Getenv("COPILOTSTUDIOAGENT__AGENTAPPID"),
		ClientSecret:   os.Getenv("COPILOTSTUDIOAGENT__CLIENTSECRET"),
		EnvironmentID:  os.Getenv("COPILOTSTUDIOAGENT__ENVIRONMENTID"),
		AgentSchema:    os.Getenv("COPILOTSTUDIOAGENT__SCHEMANAME"),
		APIKey:         os.Getenv("API_KEY"),
		PublicHostname: os.Getenv("CONTAINER_APP_HOSTNAME"),
		Port:           envInt("PORT", 8000),
		RemoteTimeout:  envDuration("AGENTGATE_REMOTE_TIMEOUT", 2*time.Minute),
		Cancel:         CancelMode(envDefault("AGENTGATE_CANCEL_MODE", string(CancelReject))),
		Eviction:       EvictionMode(envDefault("AGENTGATE_SESSION_EVICTION", string(EvictNone))),
		SessionCap:     envInt("AGENTGATE_SESSION_CAP", 1024),
		RateLimitRPM:   envInt("AGENTGATE_RATE_LIMIT_RPM", 0),
		RateLimitBurst: envInt("AGENTGATE_RATE_LIMIT_BURST", 5),
		TaskDBPath:     os.Getenv("AGENTGATE_TASK_DB"),
		OTelEndpoint:   os.Getenv("AGENTGATE_OTEL_ENDPOINT"),
	}
	return cfg
}

// AuthMode returns the strategy selected by the configured credentials:
// a client secret selects bearer mode, otherwise a static key selects API-key
// mode, otherwise auth is disabled.
func (c *Config) AuthMode() AuthMode {
	if c.ClientSecret != "" {
		return AuthModeBearer
	}
	if c.APIKey != "" {
		return AuthModeAPIKey
	}
	return AuthModeDisabled
}

// Validate fails fast on configurations that would only surface per-request.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AuthMode() == AuthModeBearer {
		if c.TenantID == "" {
			return fmt.Errorf("bearer auth requires COPILOTSTUDIOAGENT__TENANTID")
		}
		if c.ClientID == "" {
			return fmt.Errorf("bearer auth requires COPILOTSTUDIOAGENT__AGENTAPPID")
		}
		// The remote connection is only reachable in bearer mode; a missing
		// environment would otherwise surface on the first request.
		if c.EnvironmentID == "" {
			return fmt.Errorf("bearer auth requires COPILOTSTUDIOAGENT__ENVIRONMENTID")
		}
		if c.AgentSchema == "" {
			return fmt.Errorf("bearer auth requires COPILOTSTUDIOAGENT__SCHEMANAME")
		}
	}
	switch c.Cancel {
	case CancelReject, CancelForceFail:
	default:
		return fmt.Errorf("invalid cancel mode %q (want %q or %q)", c.Cancel, CancelReject, CancelForceFail)
	}
	switch c.Eviction {
	case EvictNone:
	case EvictLRU:
		if c.SessionCap <= 0 {
			return fmt.Errorf("lru eviction requires a positive AGENTGATE_SESSION_CAP")
		}
	default:
		return fmt.Errorf("invalid eviction mode %q (want %q or %q)", c.Eviction, EvictNone, EvictLRU)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote timeout must be positive")
	}
	return nil
}

// BaseURL is the public URL of the gateway: the hostname override when
// deployed, localhost otherwise.
func (c *Config) BaseURL() string {
	if c.PublicHostname != "" {
		return fmt.Sprintf("https://%s/", c.PublicHostname)
	}
	return fmt.Sprintf("http://localhost:%d/", c.Port)
}

// AuthorityURL is the token issuer for the configured tenant.
func (c *Config) AuthorityURL() string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s", c.TenantID)
}

// JWKSURL is the tenant's signing-key discovery endpoint.
func (c *Config) JWKSURL() string {
	return c.AuthorityURL() + "/discovery/keys"
}

// TokenURL is the tenant's OAuth2 token endpoint.
func (c *Config) TokenURL() string {
	return c.AuthorityURL() + "/oauth2/v2.0/token"
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
