package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/hkdf"
)

const jwtIssuer = "llm_router"

// Claims are the claims of a service token.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for subject holding role.
func IssueToken(secret []byte, subject string, role Role, ttl time.Duration) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret is empty")
	}
	if !role.IsValid() {
		return "", time.Time{}, fmt.Errorf("invalid role %q", role)
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token ttl must be positive")
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies signature, expiry and role. Any failure is
// ErrInvalidToken.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || !claims.Role.IsValid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DeriveJWTSecret derives a signing key from the master encryption key so a
// deployment needs only one secret.
func DeriveJWTSecret(masterKey []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("master key is empty")
	}
	r := hkdf.New(sha256.New, masterKey, nil, []byte("llm_router jwt signing key"))
	secret := make([]byte, 32)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, fmt.Errorf("failed to derive jwt secret: %w", err)
	}
	return secret, nil
}
