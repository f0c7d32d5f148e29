package models

import (
	"time"

	"github.com/google/uuid"
)

// UniversalAPIKey is the single credential a caller presents to the gateway.
// Only the hash and a short display prefix are persisted.
type UniversalAPIKey struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OwnerUserID string     `db:"owner_user_id" json:"owner_user_id"`
	KeyHash     string     `db:"key_hash" json:"-"` // SHA-256 hex
	KeyPrefix   string     `db:"key_prefix" json:"key_prefix"`
	DisplayName string     `db:"display_name" json:"display_name"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt  *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	Revoked     bool       `db:"revoked" json:"revoked"`
	RevokedAt   *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// IsUsable reports whether the key may authenticate a request.
func (k *UniversalAPIKey) IsUsable() bool {
	return k != nil && !k.Revoked
}
