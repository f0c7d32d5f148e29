package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// RoutingPreference stores a user's default routing constraints.
// A missing row means system defaults apply.
type RoutingPreference struct {
	OwnerUserID        string          `db:"owner_user_id"`
	Strategy           string          `db:"strategy"`
	MaxCostPerKToken   sql.NullFloat64 `db:"max_cost_per_k_token"`
	MaxLatencyMs       sql.NullInt64   `db:"max_latency_ms"`
	ExcludedProviders  pq.StringArray  `db:"excluded_providers"`
	ExcludedModels     pq.StringArray  `db:"excluded_models"`
	RequireToolCalling bool            `db:"require_tool_calling"`
	RequireStreaming   bool            `db:"require_streaming"`
	UpdatedAt          time.Time       `db:"updated_at"`
}
