package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm_router/internal/models"
)

const apiKeyColumns = `id, owner_user_id, key_hash, key_prefix, display_name,
	       created_at, last_used_at, revoked, revoked_at`

// APIKeyRepository handles universal API key persistence with an LRU in front
// of hash lookups.
type APIKeyRepository struct {
	db    *DB
	cache *LRUCache[*models.UniversalAPIKey]
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{
		db:    db,
		cache: db.apiKeyCache,
	}
}

// GetByHash retrieves a key by its SHA-256 hash. Revoked keys are returned
// too; callers decide what revocation means.
func (r *APIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*models.UniversalAPIKey, error) {
	if cached, found := r.cache.Get(keyHash); found {
		return cached, nil
	}

	var key models.UniversalAPIKey
	query := `SELECT ` + apiKeyColumns + ` FROM universal_api_keys WHERE key_hash = $1`

	if err := r.db.conn.GetContext(ctx, &key, query, keyHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	r.cache.Set(keyHash, &key)
	return &key, nil
}

// GetByID retrieves a key owned by ownerUserID.
func (r *APIKeyRepository) GetByID(ctx context.Context, ownerUserID string, id uuid.UUID) (*models.UniversalAPIKey, error) {
	var key models.UniversalAPIKey
	query := `SELECT ` + apiKeyColumns + ` FROM universal_api_keys WHERE id = $1 AND owner_user_id = $2`

	if err := r.db.conn.GetContext(ctx, &key, query, id, ownerUserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return &key, nil
}

// ListByOwner returns all keys of a user, newest first.
func (r *APIKeyRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.UniversalAPIKey, error) {
	var keys []*models.UniversalAPIKey
	query := `SELECT ` + apiKeyColumns + ` FROM universal_api_keys
		WHERE owner_user_id = $1
		ORDER BY created_at DESC`

	if err := r.db.conn.SelectContext(ctx, &keys, query, ownerUserID); err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return keys, nil
}

// Create inserts a new key. Only the hash and prefix are stored.
func (r *APIKeyRepository) Create(ctx context.Context, key *models.UniversalAPIKey) error {
	query := `
		INSERT INTO universal_api_keys (id, owner_user_id, key_hash, key_prefix, display_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		key.ID, key.OwnerUserID, key.KeyHash, key.KeyPrefix, key.DisplayName,
	).Scan(&key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	r.cache.Delete(key.KeyHash)
	return nil
}

// Revoke marks a key revoked. There is no inverse operation.
func (r *APIKeyRepository) Revoke(ctx context.Context, ownerUserID string, id uuid.UUID) error {
	query := `
		UPDATE universal_api_keys
		SET revoked = true, revoked_at = COALESCE(revoked_at, NOW())
		WHERE id = $1 AND owner_user_id = $2
		RETURNING key_hash
	`

	var keyHash string
	if err := r.db.conn.QueryRowxContext(ctx, query, id, ownerUserID).Scan(&keyHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAPIKeyNotFound
		}
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	r.cache.Delete(keyHash)
	if r.db.keyEvictor != nil {
		r.db.keyEvictor.Evict(ctx, keyHash)
	}
	return nil
}

// TouchLastUsed records the time a key was last used.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.conn.ExecContext(ctx,
		`UPDATE universal_api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}
	return nil
}
