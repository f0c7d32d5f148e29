package auth

import "errors"

var (
	// ErrKeyNotFound covers both unknown and malformed universal keys.
	ErrKeyNotFound = errors.New("api key not found")

	ErrKeyRevoked = errors.New("api key has been revoked")

	ErrInvalidToken = errors.New("invalid or expired token")
)
