package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Decision is the outcome of validating one credential. It is derived per
// request and never persisted.
type Decision struct {
	Allowed bool
	Reason  string
	Claims  jwt.MapClaims
}

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Validator verifies bearer tokens against a fixed key set. It is a pure
// function of token + key set and safe for concurrent use.
type Validator struct {
	keys     *KeySet
	audience string
}

// NewValidator creates a validator that checks signatures against keys and
// requires the audience claim to contain audience.
func NewValidator(keys *KeySet, audience string) *Validator {
	return &Validator{keys: keys, audience: audience}
}

// Validate parses tokenString, resolves its kid against the cached key set
// and verifies signature, expiry and audience.
func (v *Validator) Validate(tokenString string) Decision {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return deny("token validation failed: %v", err)
	}
	if !token.Valid {
		return deny("token is not valid")
	}
	return Decision{Allowed: true, Claims: claims}
}

func (v *Validator) keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token header has no kid")
	}
	key, ok := v.keys.Key(kid)
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}
