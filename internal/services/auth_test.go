package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/MegaGrindStone/chatrelay/internal/services"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-entropy"

func TestNewJWTVerifierRequiresKey(t *testing.T) {
	_, err := services.NewJWTVerifier(services.JWTConfig{})
	require.Error(t, err)

	_, err = services.NewJWTVerifier(services.JWTConfig{PublicKeyFile: "/does/not/exist.pem"})
	require.Error(t, err)
}

func TestJWTVerifierSignVerify(t *testing.T) {
	v, err := services.NewJWTVerifier(services.JWTConfig{HMACSecret: testSecret, Issuer: "chatrelay"})
	require.NoError(t, err)

	token, err := v.Sign("user-1", time.Hour)
	require.NoError(t, err)

	userID, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestJWTVerifierRejects(t *testing.T) {
	v, err := services.NewJWTVerifier(services.JWTConfig{HMACSecret: testSecret, Audience: "chatrelay"})
	require.NoError(t, err)

	sign := func(secret string, claims jwt.Claims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "malformed",
			token: "not-a-jwt",
		},
		{
			name: "wrong secret",
			token: sign("another-secret", jwt.RegisteredClaims{
				Subject: "u1", ExpiresAt: future, Audience: jwt.ClaimStrings{"chatrelay"},
			}),
		},
		{
			name: "expired",
			token: sign(testSecret, jwt.RegisteredClaims{
				Subject:   "u1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				Audience:  jwt.ClaimStrings{"chatrelay"},
			}),
		},
		{
			name: "no expiry",
			token: sign(testSecret, jwt.RegisteredClaims{
				Subject: "u1", Audience: jwt.ClaimStrings{"chatrelay"},
			}),
		},
		{
			name: "wrong audience",
			token: sign(testSecret, jwt.RegisteredClaims{
				Subject: "u1", ExpiresAt: future, Audience: jwt.ClaimStrings{"other"},
			}),
		},
		{
			name: "no subject",
			token: sign(testSecret, jwt.RegisteredClaims{
				ExpiresAt: future, Audience: jwt.ClaimStrings{"chatrelay"},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			var authErr *models.AuthError
			require.ErrorAs(t, err, &authErr)
		})
	}
}

func TestJWTVerifierUserIDClaim(t *testing.T) {
	v, err := services.NewJWTVerifier(services.JWTConfig{HMACSecret: testSecret})
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "firebase-user",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	userID, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "firebase-user", userID)
}
