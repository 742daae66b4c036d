package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "bloodbank-api", time.Hour)

	token, err := svc.GenerateAccessToken("user-1", "Ada", "admin")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "bloodbank-api", claims.Issuer)
}

func TestJWTService_Expired(t *testing.T) {
	issuedAt := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	svc := NewJWTService("secret", "bloodbank-api", time.Hour)
	svc.now = func() time.Time { return issuedAt }

	token, err := svc.GenerateAccessToken("user-1", "Ada", "admin")
	require.NoError(t, err)

	svc.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret", "bloodbank-api", time.Hour)

	otherSecret, err := NewJWTService("other", "bloodbank-api", time.Hour).GenerateAccessToken("u", "n", "admin")
	require.NoError(t, err)
	otherIssuer, err := NewJWTService("secret", "someone-else", time.Hour).GenerateAccessToken("u", "n", "admin")
	require.NoError(t, err)
	noSubject, err := svc.GenerateAccessToken("", "n", "admin")
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "bloodbank-api"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":       "not-a-token",
		"wrong secret":  otherSecret,
		"wrong issuer":  otherIssuer,
		"no subject":    noSubject,
		"unsigned none": none,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
