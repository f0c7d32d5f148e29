package storage

import (
	"context"
	"fmt"

	"llm_router/internal/models"
)

// RankingRepository reads benchmark output. The gateway never writes here.
type RankingRepository struct {
	db *DB
}

// NewRankingRepository creates a new ranking repository
func NewRankingRepository(db *DB) *RankingRepository {
	return &RankingRepository{db: db}
}

// ListRankings returns every row of a suite, newest first. Deduplication is
// left to the caller.
func (r *RankingRepository) ListRankings(ctx context.Context, suite string) ([]models.RankingEntry, error) {
	var entries []models.RankingEntry
	query := `
		SELECT id, suite, category, rank, provider, model_name, score, metrics,
		       estimated_cost_per_k_token, estimated_latency_ms,
		       supports_tool_calling, supports_streaming, last_updated
		FROM ranking_entries
		WHERE suite = $1
		ORDER BY last_updated DESC, id DESC
	`

	if err := r.db.conn.SelectContext(ctx, &entries, query, suite); err != nil {
		return nil, fmt.Errorf("failed to list rankings: %w", err)
	}
	return entries, nil
}

// RecentLatencies averages the last day of latency samples per model.
func (r *RankingRepository) RecentLatencies(ctx context.Context, suite string) ([]models.LatencySample, error) {
	var samples []models.LatencySample
	query := `
		SELECT provider, model_name, AVG(latency_ms)::float8 AS avg_latency_ms
		FROM model_latency_samples
		WHERE suite = $1 AND recorded_at > NOW() - INTERVAL '24 hours'
		GROUP BY provider, model_name
	`

	if err := r.db.conn.SelectContext(ctx, &samples, query, suite); err != nil {
		return nil, fmt.Errorf("failed to load latency samples: %w", err)
	}
	return samples, nil
}
