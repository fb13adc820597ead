// Package auth verifies RS256 bearer tokens and decides whether a session may
// read dashboard telemetry.
package auth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeAdmin grants every scope
const ScopeAdmin = "admin"

// ScopeDashboard is required to read telemetry
const ScopeDashboard = "dashboard.read"

// ScopeIngest is required to write telemetry documents
const ScopeIngest = "telemetry.write"

type Claims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}

// Session is an authenticated caller
type Session struct {
	UserID string
	Scopes map[string]bool
}

// Has reports whether the session carries scope, or admin
func (s Session) Has(scope string) bool {
	return s.Scopes[ScopeAdmin] || s.Scopes[scope]
}

// Authorizer decides whether a session may start a dashboard feed
type Authorizer interface {
	Authorize(ctx context.Context, s Session) (bool, error)
}

// ScopeAuthorizer grants sessions holding Scope
type ScopeAuthorizer struct {
	Scope string
}

func (a ScopeAuthorizer) Authorize(ctx context.Context, s Session) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Has(a.Scope), nil
}

// AllowAll grants every session; used when auth is disabled
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, _ Session) (bool, error) {
	return true, ctx.Err()
}

// Validator checks RS256 tokens against one public key
type Validator struct {
	publicKey *rsa.PublicKey
}

func NewValidator(pubKey *rsa.PublicKey) *Validator {
	return &Validator{publicKey: pubKey}
}

// VerifyToken parses a token, with or without the "Bearer " prefix
func (v *Validator) VerifyToken(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}

	return claims, nil
}

// Session verifies a token and returns the caller it identifies
func (v *Validator) Session(tokenStr string) (Session, error) {
	claims, err := v.VerifyToken(tokenStr)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: claims.UserID, Scopes: claims.Scopes}, nil
}

// IssueToken signs an RS256 token for userID with the given scopes
func IssueToken(key *rsa.PrivateKey, userID string, scopes []string, ttl time.Duration) (string, error) {
	set := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}

	now := time.Now()
	claims := Claims{
		UserID: userID,
		Scopes: set,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseRSAPublicKey decodes a PEM public key
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey decodes a PEM private key
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
