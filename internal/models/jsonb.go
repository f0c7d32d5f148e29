package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metrics holds per-axis badness values written by the benchmark harness.
// Lower is better for every axis. Backed by a Postgres jsonb column.
type Metrics map[string]float64

// Known metric axes.
const (
	MetricCorrectness = "correctness"
	MetricCodeQuality = "code_quality"
	MetricComplexity  = "complexity"
	MetricEdgeCases   = "edge_cases"
)

func (m Metrics) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (m *Metrics) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("Metrics: expected []byte, got %T", value)
	}

	if len(b) == 0 {
		*m = nil
		return nil
	}

	return json.Unmarshal(b, m)
}
