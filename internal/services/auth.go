package services

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MegaGrindStone/chatrelay/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier verifies bearer tokens and extracts the user identity from them. Tokens are signed
// either with a shared HMAC secret or with an RSA key pair whose public half is configured.
type JWTVerifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// JWTConfig configures a JWTVerifier. At least one of HMACSecret and PublicKeyFile must be set.
type JWTConfig struct {
	HMACSecret    string
	PublicKeyFile string
	Issuer        string
	Audience      string
}

// NewJWTVerifier creates a JWTVerifier from the configuration, reading the RSA public key from
// disk if one is configured.
func NewJWTVerifier(cfg JWTConfig) (JWTVerifier, error) {
	v := JWTVerifier{
		secret:   []byte(cfg.HMACSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}

	if cfg.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return JWTVerifier{}, fmt.Errorf("failed to read public key: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return JWTVerifier{}, fmt.Errorf("failed to parse public key: %w", err)
		}
		v.publicKey = key
	}

	if len(v.secret) == 0 && v.publicKey == nil {
		return JWTVerifier{}, errors.New("either hmac secret or public key is required")
	}

	return v, nil
}

// Verify checks the token signature and its registered claims, and returns the user ID carried
// in the subject claim, or in the user_id claim for tokens issued by Firebase Auth.
func (v JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods()),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, v.key, opts...); err != nil {
		return "", &models.AuthError{Reason: "invalid token", Err: err}
	}

	userID, err := claims.GetSubject()
	if err != nil || userID == "" {
		userID, _ = claims["user_id"].(string)
	}
	if userID == "" {
		return "", &models.AuthError{Reason: "token has no subject"}
	}
	return userID, nil
}

// Sign issues an HMAC-signed token for userID that expires after ttl. It is meant for local
// development, where no external identity provider issues tokens.
func (v JWTVerifier) Sign(userID string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("signing requires an hmac secret")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v JWTVerifier) methods() []string {
	var methods []string
	if len(v.secret) > 0 {
		methods = append(methods, "HS256", "HS384", "HS512")
	}
	if v.publicKey != nil {
		methods = append(methods, "RS256", "RS384", "RS512")
	}
	return methods
}

func (v JWTVerifier) key(t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, errors.New("hmac tokens are not accepted")
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		if v.publicKey == nil {
			return nil, errors.New("rsa tokens are not accepted")
		}
		return v.publicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
	}
}
