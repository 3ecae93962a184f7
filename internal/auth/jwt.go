// Package auth holds the permission catalog, the permission resolver, and the session
// token primitives that carry a caller's external identity.
//
// jwt.go issues and verifies HS256 session tokens. A token names the external identity
// in its subject and carries the identity's email; permissions are never embedded, they
// are resolved from the member row on every call so a downgrade takes effect on the
// caller's next request.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for a token that is malformed, expired, badly signed,
// or minted for another issuer or audience
var ErrInvalidToken = errors.New("auth: invalid session token")

const minSecretLength = 32

// SessionConfig configures session token issuing and verification
type SessionConfig struct {
	// Secret signs tokens. Empty is only accepted in development mode, where a random
	// secret is generated for the lifetime of the process.
	Secret   string
	Issuer   string
	Audience string
	// TTL is the lifetime of issued tokens; zero means one hour
	TTL time.Duration
}

// Claims are the session token claims. The subject is the external identity.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// IdentityID returns the external identity the token was issued to
func (c *Claims) IdentityID() string {
	return c.Subject
}

// Sessions issues and verifies session tokens for one issuer and audience
type Sessions struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	parser   *jwt.Parser
	now      func() time.Time
}

// NewSessions validates cfg and returns a Sessions. Outside development mode a
// missing secret is an error.
func NewSessions(cfg SessionConfig) (*Sessions, error) {
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("session issuer and audience are required")
	}

	secret := cfg.Secret
	switch {
	case secret == "" && isDevMode():
		secret = generateRandomSecret()
		slog.Warn("CRM_JWT_SECRET not set; using an auto-generated secret for development",
			"effect", "sessions will not survive a restart")
	case secret == "":
		return nil, errors.New("SECURITY ERROR: CRM_JWT_SECRET environment variable is required in production. " +
			"Generate a secure secret with: openssl rand -hex 32")
	case len(secret) < minSecretLength:
		slog.Warn("CRM_JWT_SECRET is shorter than recommended", "min_length", minSecretLength)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}

	s := &Sessions{
		secret:   []byte(secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		now:      time.Now,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// isDevMode checks if we're in development mode (duplicated here to avoid import cycle)
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")

	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// Issue signs a session token for an external identity
func (s *Sessions) Issue(identityID, email string) (string, error) {
	if identityID == "" {
		return "", errors.New("identity is required")
	}
	now := s.now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identityID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a session token and returns its claims
func (s *Sessions) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
