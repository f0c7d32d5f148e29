package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ProviderCredential holds one user's encrypted secret for one upstream
// provider. EncryptedPayload is opaque outside the codec.
type ProviderCredential struct {
	ID                  uuid.UUID      `db:"id"`
	OwnerUserID         string         `db:"owner_user_id"`
	Provider            string         `db:"provider"`
	EncryptedPayload    string         `db:"encrypted_payload"`
	IsActive            bool           `db:"is_active"`
	LastValidatedAt     *time.Time     `db:"last_validated_at"`
	LastValidationError sql.NullString `db:"last_validation_error"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

// CredentialPayload is the plaintext shape sealed inside EncryptedPayload.
type CredentialPayload struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
}

// ToMap converts the payload for Encryption.EncryptJSON.
func (p CredentialPayload) ToMap() map[string]any {
	m := map[string]any{"api_key": p.APIKey}
	if p.BaseURL != "" {
		m["base_url"] = p.BaseURL
	}
	return m
}

// CredentialPayloadFromMap is the inverse of ToMap.
func CredentialPayloadFromMap(m map[string]any) CredentialPayload {
	var p CredentialPayload
	if v, ok := m["api_key"].(string); ok {
		p.APIKey = v
	}
	if v, ok := m["base_url"].(string); ok {
		p.BaseURL = v
	}
	return p
}
