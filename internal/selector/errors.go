package selector

import (
	"errors"
	"fmt"
)

// ErrNoProviderConfigured means the user has no active credential at all.
var ErrNoProviderConfigured = errors.New("no provider configured: add a provider credential first")

// Filter stage names reported by NoMatchingModelError.
const (
	ConstraintAvailable        = "provider_available"
	ConstraintExcludedProvider = "excluded_providers"
	ConstraintExcludedModel    = "excluded_models"
	ConstraintMaxCost          = "max_cost_per_k_token"
	ConstraintMaxLatency       = "max_latency_ms"
	ConstraintToolCalling      = "require_tool_calling"
	ConstraintStreaming        = "require_streaming"
	ConstraintRankings         = "rankings"
)

// NoMatchingModelError names the filter stage that emptied the candidate set.
type NoMatchingModelError struct {
	Constraint string
	Hint       string
}

func (e *NoMatchingModelError) Error() string {
	return fmt.Sprintf("no model satisfies %s: %s", e.Constraint, e.Hint)
}
