package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"llm_router/internal/models"
	"llm_router/internal/storage"
)

const (
	// KeyPrefix marks every universal key.
	KeyPrefix = "llmr_"

	keyRandomBytes   = 32
	displayHexLength = 8
)

// GenerateAPIKey returns a fresh plaintext universal key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, keyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the hex SHA-256 digest stored in place of the key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// KeyDisplayPrefix returns the part of a key that is safe to show again,
// e.g. "llmr_3f9a01bc".
func KeyDisplayPrefix(key string) string {
	n := len(KeyPrefix) + displayHexLength
	if len(key) < n {
		return key
	}
	return key[:n]
}

// IsValidAPIKeyFormat is a structural check only. It says nothing about
// whether the key exists.
func IsValidAPIKeyFormat(key string) bool {
	if !strings.HasPrefix(key, KeyPrefix) {
		return false
	}
	body := key[len(KeyPrefix):]
	if len(body) != keyRandomBytes*2 {
		return false
	}
	for _, c := range body {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// BearerToken extracts the presented key from Authorization: Bearer, falling
// back to X-API-Key.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// APIKeyStore resolves plaintext universal keys into usable key records.
// Unknown keys return ErrKeyNotFound, revoked keys ErrKeyRevoked.
type APIKeyStore interface {
	Lookup(ctx context.Context, plaintextKey string) (*models.UniversalAPIKey, error)
}

// KeyFinder is the subset of the key repository the store needs.
type KeyFinder interface {
	GetByHash(ctx context.Context, keyHash string) (*models.UniversalAPIKey, error)
}

// RepositoryKeyStore looks keys up through the cached repository.
type RepositoryKeyStore struct {
	repo KeyFinder
}

func NewRepositoryKeyStore(repo KeyFinder) *RepositoryKeyStore {
	return &RepositoryKeyStore{repo: repo}
}

func (s *RepositoryKeyStore) Lookup(ctx context.Context, plaintextKey string) (*models.UniversalAPIKey, error) {
	if !IsValidAPIKeyFormat(plaintextKey) {
		return nil, ErrKeyNotFound
	}

	key, err := s.repo.GetByHash(ctx, HashAPIKey(plaintextKey))
	if err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	if !key.IsUsable() {
		return nil, ErrKeyRevoked
	}
	return key, nil
}

// InMemoryAPIKeyStore keeps keys by hash. Useful for local runs and tests.
type InMemoryAPIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*models.UniversalAPIKey
}

func NewInMemoryAPIKeyStore() *InMemoryAPIKeyStore {
	return &InMemoryAPIKeyStore{keys: make(map[string]*models.UniversalAPIKey)}
}

// Add registers plaintextKey for record, filling in its hash and prefix.
func (s *InMemoryAPIKeyStore) Add(plaintextKey string, record *models.UniversalAPIKey) {
	record.KeyHash = HashAPIKey(plaintextKey)
	record.KeyPrefix = KeyDisplayPrefix(plaintextKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[record.KeyHash] = record
}

func (s *InMemoryAPIKeyStore) Lookup(ctx context.Context, plaintextKey string) (*models.UniversalAPIKey, error) {
	if !IsValidAPIKeyFormat(plaintextKey) {
		return nil, ErrKeyNotFound
	}

	s.mu.RLock()
	rec, ok := s.keys[HashAPIKey(plaintextKey)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrKeyNotFound
	}
	if !rec.IsUsable() {
		return nil, ErrKeyRevoked
	}
	return rec, nil
}
