package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// UsageRecord is the append-only audit row for one gateway request.
type UsageRecord struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	OwnerUserID      string         `db:"owner_user_id" json:"owner_user_id"`
	APIKeyID         uuid.UUID      `db:"api_key_id" json:"api_key_id"`
	RequestID        string         `db:"request_id" json:"request_id"`
	SelectedProvider string         `db:"selected_provider" json:"selected_provider"`
	SelectedModel    string         `db:"selected_model" json:"selected_model"`
	RoutingReason    string         `db:"routing_reason" json:"routing_reason"`
	TokensIn         int            `db:"tokens_in" json:"tokens_in"`
	TokensOut        int            `db:"tokens_out" json:"tokens_out"`
	LatencyMs        int64          `db:"latency_ms" json:"latency_ms"`
	CostEstimate     float64        `db:"cost_estimate" json:"cost_estimate"`
	Success          bool           `db:"success" json:"success"`
	ErrorMessage     sql.NullString `db:"error_message" json:"error_message"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// YearMonth returns the aggregate bucket for the record, e.g. "2026-10".
func (r *UsageRecord) YearMonth() string {
	return YearMonthOf(r.CreatedAt)
}

// YearMonthOf formats t in UTC as YYYY-MM.
func YearMonthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// MonthlyUsageAggregate is the per-user, per-month rollup of UsageRecords.
type MonthlyUsageAggregate struct {
	OwnerUserID       string    `db:"owner_user_id" json:"owner_user_id"`
	YearMonth         string    `db:"year_month" json:"year_month"`
	TotalRequests     int64     `db:"total_requests" json:"total_requests"`
	TotalTokensIn     int64     `db:"total_tokens_in" json:"total_tokens_in"`
	TotalTokensOut    int64     `db:"total_tokens_out" json:"total_tokens_out"`
	TotalCostEstimate float64   `db:"total_cost_estimate" json:"total_cost_estimate"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}
