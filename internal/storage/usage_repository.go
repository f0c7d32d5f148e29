package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"llm_router/internal/models"
)

// UsageRepository writes usage records and keeps the monthly rollup in step.
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Record inserts the record and folds it into the owner's monthly aggregate
// inside one transaction. Either both rows change or neither does.
func (r *UsageRepository) Record(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		insert := `
			INSERT INTO usage_records (
				id, owner_user_id, api_key_id, request_id, selected_provider,
				selected_model, routing_reason, tokens_in, tokens_out,
				latency_ms, cost_estimate, success, error_message, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		_, err := tx.ExecContext(ctx, insert,
			record.ID, record.OwnerUserID, record.APIKeyID, record.RequestID,
			record.SelectedProvider, record.SelectedModel, record.RoutingReason,
			record.TokensIn, record.TokensOut, record.LatencyMs, record.CostEstimate,
			record.Success, record.ErrorMessage, record.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert usage record: %w", err)
		}

		upsert := `
			INSERT INTO monthly_usage_aggregates (
				owner_user_id, year_month, total_requests, total_tokens_in,
				total_tokens_out, total_cost_estimate
			) VALUES ($1, $2, 1, $3, $4, $5)
			ON CONFLICT (owner_user_id, year_month)
			DO UPDATE SET
				total_requests = monthly_usage_aggregates.total_requests + EXCLUDED.total_requests,
				total_tokens_in = monthly_usage_aggregates.total_tokens_in + EXCLUDED.total_tokens_in,
				total_tokens_out = monthly_usage_aggregates.total_tokens_out + EXCLUDED.total_tokens_out,
				total_cost_estimate = monthly_usage_aggregates.total_cost_estimate + EXCLUDED.total_cost_estimate,
				updated_at = NOW()
		`
		_, err = tx.ExecContext(ctx, upsert,
			record.OwnerUserID, record.YearMonth(),
			record.TokensIn, record.TokensOut, record.CostEstimate,
		)
		if err != nil {
			return fmt.Errorf("failed to update monthly aggregate: %w", err)
		}
		return nil
	})
}

// GetAggregate returns the rollup for one owner and month ("YYYY-MM").
func (r *UsageRepository) GetAggregate(ctx context.Context, ownerUserID, yearMonth string) (*models.MonthlyUsageAggregate, error) {
	var agg models.MonthlyUsageAggregate
	query := `
		SELECT owner_user_id, year_month, total_requests, total_tokens_in,
		       total_tokens_out, total_cost_estimate, updated_at
		FROM monthly_usage_aggregates
		WHERE owner_user_id = $1 AND year_month = $2
	`

	if err := r.db.conn.GetContext(ctx, &agg, query, ownerUserID, yearMonth); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAggregateNotFound
		}
		return nil, fmt.Errorf("failed to get monthly aggregate: %w", err)
	}
	return &agg, nil
}

// ListRecent returns the newest usage records of an owner.
func (r *UsageRepository) ListRecent(ctx context.Context, ownerUserID string, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var records []*models.UsageRecord
	query := `
		SELECT id, owner_user_id, api_key_id, request_id, selected_provider,
		       selected_model, routing_reason, tokens_in, tokens_out,
		       latency_ms, cost_estimate, success, error_message, created_at
		FROM usage_records
		WHERE owner_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	if err := r.db.conn.SelectContext(ctx, &records, query, ownerUserID, limit); err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}
