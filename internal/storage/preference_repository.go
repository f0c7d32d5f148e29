package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"llm_router/internal/models"
)

// PreferenceRepository persists per-user routing preferences.
type PreferenceRepository struct {
	db *DB
}

// NewPreferenceRepository creates a new preference repository
func NewPreferenceRepository(db *DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns a user's stored preference or ErrPreferenceNotFound.
func (r *PreferenceRepository) Get(ctx context.Context, ownerUserID string) (*models.RoutingPreference, error) {
	var pref models.RoutingPreference
	query := `
		SELECT owner_user_id, strategy, max_cost_per_k_token, max_latency_ms,
		       excluded_providers, excluded_models, require_tool_calling,
		       require_streaming, updated_at
		FROM routing_preferences
		WHERE owner_user_id = $1
	`

	if err := r.db.conn.GetContext(ctx, &pref, query, ownerUserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("failed to get routing preference: %w", err)
	}
	return &pref, nil
}

// Upsert writes the whole preference row.
func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.RoutingPreference) error {
	query := `
		INSERT INTO routing_preferences (owner_user_id, strategy, max_cost_per_k_token,
		       max_latency_ms, excluded_providers, excluded_models,
		       require_tool_calling, require_streaming)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_user_id) DO UPDATE
		SET strategy = EXCLUDED.strategy,
		    max_cost_per_k_token = EXCLUDED.max_cost_per_k_token,
		    max_latency_ms = EXCLUDED.max_latency_ms,
		    excluded_providers = EXCLUDED.excluded_providers,
		    excluded_models = EXCLUDED.excluded_models,
		    require_tool_calling = EXCLUDED.require_tool_calling,
		    require_streaming = EXCLUDED.require_streaming,
		    updated_at = NOW()
		RETURNING updated_at
	`

	err := r.db.conn.QueryRowxContext(ctx, query,
		pref.OwnerUserID, pref.Strategy, pref.MaxCostPerKToken, pref.MaxLatencyMs,
		pref.ExcludedProviders, pref.ExcludedModels,
		pref.RequireToolCalling, pref.RequireStreaming,
	).Scan(&pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert routing preference: %w", err)
	}
	return nil
}
