package gateway

import "errors"

var (
	// ErrAuthentication covers a missing, malformed, unknown or revoked key.
	ErrAuthentication = errors.New("invalid or missing API key")

	// ErrRateLimited is returned when a key exceeds its per-minute budget.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCredentialMissing means the user has no active credential for the
	// selected provider. There is no shared fallback key.
	ErrCredentialMissing = errors.New("no active credential for provider")
)
