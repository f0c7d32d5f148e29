package storage

import "errors"

var (
	// ErrAPIKeyNotFound is returned when no universal key matches a hash or id
	ErrAPIKeyNotFound = errors.New("API key not found")

	// ErrCredentialNotFound is returned when a user has no credential for a provider
	ErrCredentialNotFound = errors.New("provider credential not found")

	// ErrPreferenceNotFound is returned when a user has no stored routing preference
	ErrPreferenceNotFound = errors.New("routing preference not found")

	// ErrAggregateNotFound is returned when a user has no usage for a month
	ErrAggregateNotFound = errors.New("monthly usage aggregate not found")

	// ErrDecryption is returned for malformed or tampered credential blobs
	ErrDecryption = errors.New("decryption failed")
)
