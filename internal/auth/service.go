// Package auth verifies the service tokens API callers present.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken indicates a missing or unverifiable service token.
var ErrInvalidToken = errors.New("auth: invalid token")

// Service verifies bearer tokens against a bcrypt hash configured at startup.
// An empty hash disables verification, intended for development only.
type Service struct {
	tokenHash []byte
}

// NewService constructs a Service from the configured bcrypt token hash.
func NewService(tokenHash string) *Service {
	return &Service{tokenHash: []byte(tokenHash)}
}

// Enabled reports whether token verification is configured.
func (s *Service) Enabled() bool {
	return len(s.tokenHash) > 0
}

// VerifyToken checks the presented token against the configured hash.
func (s *Service) VerifyToken(token string) error {
	if !s.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashToken produces a bcrypt hash suitable for the token configuration.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
