// Package token mints and verifies the bearer tokens that bind a
// StreamMessages call to an agent identity.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Verifier checks a bearer token and returns the agent identity it was
// minted for.
type Verifier interface {
	Verify(tokenString string) (agentID string, err error)
}

// Service mints and verifies HS256-signed JWTs. The token's "sub" claim
// carries the agent_id; "iat"/"exp" bound its validity window.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// New creates a token service with the given HMAC secret and default TTL.
func New(secret []byte, ttl time.Duration) *Service {
	return &Service{secret: secret, ttl: ttl}
}

// Mint issues a token for agentID valid for the service's default TTL.
func (s *Service) Mint(agentID string) (string, error) {
	return s.MintFor(agentID, s.ttl)
}

// MintFor issues a token for agentID valid for the given duration.
func (s *Service) MintFor(agentID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": agentID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// Verify validates tokenString and extracts the agent_id from its "sub" claim.
func (s *Service) Verify(tokenString string) (string, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}
