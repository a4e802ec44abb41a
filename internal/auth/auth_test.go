package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestValidateAcceptsWellFormedToken(t *testing.T) {
	v, err := New(testSecret)
	require.NoError(t, err)

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	subject, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)
}

func TestValidateRejections(t *testing.T) {
	v, err := New(testSecret)
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", signToken(t, "other-secret", jwt.MapClaims{"sub": "u1"})},
		{"expired", signToken(t, testSecret, jwt.MapClaims{
			"sub": "u1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})},
		{"missing subject", signToken(t, testSecret, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(tc.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
