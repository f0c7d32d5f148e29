package models

import "time"

// Benchmark suites.
const (
	SuiteGeneral = "general"
	SuiteDeep    = "deep"
)

// RankingEntry is one benchmarked model within a suite. Rows are produced by
// the external benchmark harness; the gateway only reads them.
type RankingEntry struct {
	ID                     int64     `db:"id"`
	Suite                  string    `db:"suite"`
	Category               string    `db:"category"`
	Rank                   int       `db:"rank"`
	Provider               string    `db:"provider"`
	ModelName              string    `db:"model_name"`
	Score                  float64   `db:"score"`
	Metrics                Metrics   `db:"metrics"`
	EstimatedCostPerKToken float64   `db:"estimated_cost_per_k_token"`
	EstimatedLatencyMs     int64     `db:"estimated_latency_ms"`
	SupportsToolCalling    bool      `db:"supports_tool_calling"`
	SupportsStreaming      bool      `db:"supports_streaming"`
	LastUpdated            time.Time `db:"last_updated"`
}

// Key identifies the model across rows.
func (e RankingEntry) Key() string {
	return e.Provider + "/" + e.ModelName
}

// LatencySample is an aggregated latency observation for one model.
type LatencySample struct {
	Provider     string  `db:"provider"`
	ModelName    string  `db:"model_name"`
	AvgLatencyMs float64 `db:"avg_latency_ms"`
}
