// Package auth validates the shared-secret token every connection must
// present before any event reaches the coordinator.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// ErrInvalidToken is returned for missing, malformed, expired, or
// wrongly-signed tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// Validator checks HS256-signed tokens against the shared secret.
type Validator struct {
	secret []byte
}

// New builds a Validator. The secret must not be empty.
func New(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("auth: secret cannot be empty")
	}
	return &Validator{secret: []byte(secret)}, nil
}

// Validate parses and verifies tokenStr and returns the subject claim, the
// caller's collaborator id. Any failure maps to ErrInvalidToken.
func (v *Validator) Validate(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return subject, nil
}
