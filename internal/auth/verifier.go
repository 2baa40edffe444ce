// Package auth verifies HS256 bearer tokens and gates API routes by scope.
//
// Tokens carry a subject and a scope list:
//
//	{"sub": "operator-1", "scopes": ["read", "control", "telemetry"]}
//
// "read" allows status and last-config queries, "control" allows toggle,
// cycle changes and stop, "telemetry" allows the event streams.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scope constants.
const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

var (
	// ErrEmptyToken indicates a blank bearer token.
	ErrEmptyToken = errors.New("token cannot be empty")

	// ErrInvalidClaims indicates a token without a usable sub or scopes claim.
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier checks HS256 signatures with a shared secret.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier creates a verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("HS256 requires secret key")
	}
	return &Verifier{secret: []byte(secret), leeway: 5 * time.Second}, nil
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidClaims
	}
	return extractClaims(*claims)
}

func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidClaims)
	}

	raw, ok := claims["scopes"]
	if !ok {
		return nil, fmt.Errorf("%w: missing scopes", ErrInvalidClaims)
	}

	var scopes []string
	switch val := raw.(type) {
	case []string:
		scopes = val
	case []interface{}:
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: scope is not a string", ErrInvalidClaims)
			}
			scopes = append(scopes, s)
		}
	case string:
		scopes = strings.Fields(val)
	default:
		return nil, fmt.Errorf("%w: scopes is not a list", ErrInvalidClaims)
	}

	for _, s := range scopes {
		switch s {
		case ScopeRead, ScopeControl, ScopeTelemetry:
		default:
			return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidClaims, s)
		}
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: no scopes", ErrInvalidClaims)
	}

	return &Claims{Subject: sub, Scopes: scopes}, nil
}

// Sign issues a token for subject with scopes, valid for ttl. It backs the
// CLI token helper and tests.
func (v *Verifier) Sign(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    subject,
		"scopes": scopes,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}
