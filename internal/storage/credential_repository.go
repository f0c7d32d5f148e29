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

const credentialColumns = `id, owner_user_id, provider, encrypted_payload, is_active,
	       last_validated_at, last_validation_error, created_at, updated_at`

// CredentialRepository persists per-user provider credentials. Payloads stay
// encrypted here; decryption happens at the call site.
type CredentialRepository struct {
	db *DB
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Get returns the credential a user stored for a provider.
func (r *CredentialRepository) Get(ctx context.Context, ownerUserID, provider string) (*models.ProviderCredential, error) {
	var cred models.ProviderCredential
	query := `SELECT ` + credentialColumns + ` FROM provider_credentials
		WHERE owner_user_id = $1 AND provider = $2`

	if err := r.db.conn.GetContext(ctx, &cred, query, ownerUserID, provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// ListByOwner returns every credential of a user ordered by provider.
func (r *CredentialRepository) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.ProviderCredential, error) {
	var creds []*models.ProviderCredential
	query := `SELECT ` + credentialColumns + ` FROM provider_credentials
		WHERE owner_user_id = $1
		ORDER BY provider`

	if err := r.db.conn.SelectContext(ctx, &creds, query, ownerUserID); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// ActiveProviders returns the distinct providers a user can dispatch to.
func (r *CredentialRepository) ActiveProviders(ctx context.Context, ownerUserID string) ([]string, error) {
	var providers []string
	query := `SELECT DISTINCT provider FROM provider_credentials
		WHERE owner_user_id = $1 AND is_active = true
		ORDER BY provider`

	if err := r.db.conn.SelectContext(ctx, &providers, query, ownerUserID); err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}
	return providers, nil
}

// Upsert stores a new encrypted payload for (user, provider). A replaced
// payload starts active with its validation state cleared.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.ProviderCredential) error {
	query := `
		INSERT INTO provider_credentials (id, owner_user_id, provider, encrypted_payload, is_active)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (owner_user_id, provider) DO UPDATE
		SET encrypted_payload = EXCLUDED.encrypted_payload,
		    is_active = true,
		    last_validated_at = NULL,
		    last_validation_error = NULL,
		    updated_at = NOW()
		RETURNING id, is_active, created_at, updated_at
	`

	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(ctx, query,
		cred.ID, cred.OwnerUserID, cred.Provider, cred.EncryptedPayload,
	).Scan(&cred.ID, &cred.IsActive, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	cred.LastValidatedAt = nil
	cred.LastValidationError = sql.NullString{}
	return nil
}

// RecordValidation stores the outcome of a live validation call. A failure
// deactivates the credential.
func (r *CredentialRepository) RecordValidation(ctx context.Context, ownerUserID, provider string, at time.Time, validationErr error) error {
	var (
		query string
		args  []any
	)
	if validationErr == nil {
		query = `UPDATE provider_credentials
			SET is_active = true, last_validated_at = $3, last_validation_error = NULL, updated_at = NOW()
			WHERE owner_user_id = $1 AND provider = $2`
		args = []any{ownerUserID, provider, at}
	} else {
		query = `UPDATE provider_credentials
			SET is_active = false, last_validation_error = $3, updated_at = NOW()
			WHERE owner_user_id = $1 AND provider = $2`
		args = []any{ownerUserID, provider, validationErr.Error()}
	}

	result, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to record validation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Delete removes a user's credential for a provider.
func (r *CredentialRepository) Delete(ctx context.Context, ownerUserID, provider string) error {
	result, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM provider_credentials WHERE owner_user_id = $1 AND provider = $2`,
		ownerUserID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}
