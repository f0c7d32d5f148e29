// Package selector picks a provider and model for a request from the
// ranking cache and the caller's constraints. It never calls providers.
package selector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"llm_router/internal/models"
	"llm_router/internal/ranking"
	"llm_router/internal/storage"
)

// FallbackDepth is how many runners-up follow the primary pick.
const FallbackDepth = 2

// RankingSource returns ranked entries for a suite and strategy.
type RankingSource interface {
	GetRankings(ctx context.Context, suite string, strategy ranking.Strategy) ([]models.RankingEntry, error)
}

// CredentialSource lists the providers a user can dispatch to.
type CredentialSource interface {
	ActiveProviders(ctx context.Context, ownerUserID string) ([]string, error)
}

// PreferenceSource loads stored routing preferences.
type PreferenceSource interface {
	Get(ctx context.Context, ownerUserID string) (*models.RoutingPreference, error)
}

// Criteria are the explicit per-request constraints. Nil or empty fields
// defer to the stored preference and then to system defaults.
type Criteria struct {
	OwnerUserID        string
	Strategy           ranking.Strategy
	MaxCostPerKToken   *float64
	MaxLatencyMs       *int64
	ExcludedProviders  []string
	ExcludedModels     []string
	RequireToolCalling *bool
	RequireStreaming   *bool
}

// Candidate is one routable model.
type Candidate struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Selection is the outcome of Select.
type Selection struct {
	Provider      string
	Model         string
	Reasoning     string
	FallbackChain []Candidate
	Suite         string
	Strategy      ranking.Strategy
}

// Selector chooses models.
type Selector struct {
	rankings        RankingSource
	credentials     CredentialSource
	preferences     PreferenceSource
	defaultStrategy ranking.Strategy
	logger          *zap.Logger
}

// New creates a selector. defaultStrategy applies when neither the request
// nor the stored preference names one.
func New(rankings RankingSource, credentials CredentialSource, preferences PreferenceSource, defaultStrategy ranking.Strategy, logger *zap.Logger) *Selector {
	if defaultStrategy == "" {
		defaultStrategy = ranking.StrategyBalanced
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		rankings:        rankings,
		credentials:     credentials,
		preferences:     preferences,
		defaultStrategy: defaultStrategy,
		logger:          logger.Named("selector"),
	}
}

// constraints is the merged view of criteria, preference and defaults.
type constraints struct {
	strategy           ranking.Strategy
	maxCost            *float64
	maxLatency         *int64
	excludedProviders  []string
	excludedModels     []string
	requireToolCalling bool
	requireStreaming   bool
}

// resolve merges criteria over the stored preference over defaults, field
// by field.
func (s *Selector) resolve(ctx context.Context, c Criteria) (constraints, error) {
	out := constraints{strategy: s.defaultStrategy}

	pref, err := s.preferences.Get(ctx, c.OwnerUserID)
	switch {
	case errors.Is(err, storage.ErrPreferenceNotFound):
		pref = nil
	case err != nil:
		return out, fmt.Errorf("failed to load routing preference: %w", err)
	}

	if pref != nil {
		if st, err := ranking.ParseStrategy(pref.Strategy); err == nil && pref.Strategy != "" {
			out.strategy = st
		}
		if pref.MaxCostPerKToken.Valid {
			v := pref.MaxCostPerKToken.Float64
			out.maxCost = &v
		}
		if pref.MaxLatencyMs.Valid {
			v := pref.MaxLatencyMs.Int64
			out.maxLatency = &v
		}
		out.excludedProviders = pref.ExcludedProviders
		out.excludedModels = pref.ExcludedModels
		out.requireToolCalling = pref.RequireToolCalling
		out.requireStreaming = pref.RequireStreaming
	}

	if c.Strategy != "" {
		out.strategy = c.Strategy
	}
	if c.MaxCostPerKToken != nil {
		out.maxCost = c.MaxCostPerKToken
	}
	if c.MaxLatencyMs != nil {
		out.maxLatency = c.MaxLatencyMs
	}
	if c.ExcludedProviders != nil {
		out.excludedProviders = c.ExcludedProviders
	}
	if c.ExcludedModels != nil {
		out.excludedModels = c.ExcludedModels
	}
	if c.RequireToolCalling != nil {
		out.requireToolCalling = *c.RequireToolCalling
	}
	if c.RequireStreaming != nil {
		out.requireStreaming = *c.RequireStreaming
	}
	return out, nil
}

// EffectiveStrategy reports the strategy Select would use for c.
func (s *Selector) EffectiveStrategy(ctx context.Context, c Criteria) (ranking.Strategy, error) {
	eff, err := s.resolve(ctx, c)
	return eff.strategy, err
}

type filter struct {
	constraint string
	hint       string
	keep       func(models.RankingEntry) bool
}

// Select returns the best model for c plus its fallback chain.
func (s *Selector) Select(ctx context.Context, c Criteria) (*Selection, error) {
	available, err := s.credentials.ActiveProviders(ctx, c.OwnerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}
	if len(available) == 0 {
		return nil, ErrNoProviderConfigured
	}

	eff, err := s.resolve(ctx, c)
	if err != nil {
		return nil, err
	}

	suite := eff.strategy.Suite()
	entries, err := s.rankings.GetRankings(ctx, suite, eff.strategy)
	if err != nil {
		return nil, err
	}
	var note string
	if len(entries) == 0 && suite == models.SuiteDeep {
		s.logger.Info("deep suite empty, using general rankings", zap.String("strategy", string(eff.strategy)))
		note = " The deep suite has no rankings yet, so general-suite rankings were used."
		suite = models.SuiteGeneral
		entries, err = s.rankings.GetRankings(ctx, suite, eff.strategy)
		if err != nil {
			return nil, err
		}
	}
	if len(entries) == 0 {
		return nil, &NoMatchingModelError{
			Constraint: ConstraintRankings,
			Hint:       fmt.Sprintf("no benchmark rankings exist for suite %q yet", suite),
		}
	}

	for _, f := range buildFilters(available, eff) {
		kept := entries[:0:0]
		for _, e := range entries {
			if f.keep(e) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			return nil, &NoMatchingModelError{Constraint: f.constraint, Hint: f.hint}
		}
		entries = kept
	}

	primary := entries[0]
	sel := &Selection{
		Provider:  primary.Provider,
		Model:     primary.ModelName,
		Suite:     suite,
		Strategy:  eff.strategy,
		Reasoning: reasoning(primary, entries, suite, eff.strategy) + note,
	}
	for _, e := range entries[1:min(len(entries), 1+FallbackDepth)] {
		sel.FallbackChain = append(sel.FallbackChain, Candidate{Provider: e.Provider, Model: e.ModelName})
	}
	return sel, nil
}

func buildFilters(available []string, eff constraints) []filter {
	filters := []filter{
		{
			constraint: ConstraintAvailable,
			hint:       "no ranked model belongs to a provider you have an active credential for (" + strings.Join(available, ", ") + ")",
			keep: func(e models.RankingEntry) bool {
				return containsFold(available, e.Provider)
			},
		},
		{
			constraint: ConstraintExcludedProvider,
			hint:       "every remaining provider is excluded; remove one from excluded_providers",
			keep: func(e models.RankingEntry) bool {
				return !containsFold(eff.excludedProviders, e.Provider)
			},
		},
		{
			constraint: ConstraintExcludedModel,
			hint:       "every remaining model is excluded; remove one from excluded_models",
			keep: func(e models.RankingEntry) bool {
				return !containsFold(eff.excludedModels, e.ModelName) && !containsFold(eff.excludedModels, e.Key())
			},
		},
	}
	if eff.maxCost != nil {
		ceiling := *eff.maxCost
		filters = append(filters, filter{
			constraint: ConstraintMaxCost,
			hint:       fmt.Sprintf("no model costs at most $%.6f per 1K tokens; raise max_cost_per_k_token", ceiling),
			keep: func(e models.RankingEntry) bool {
				return e.EstimatedCostPerKToken <= ceiling
			},
		})
	}
	if eff.maxLatency != nil {
		ceiling := *eff.maxLatency
		filters = append(filters, filter{
			constraint: ConstraintMaxLatency,
			hint:       fmt.Sprintf("no model has a known latency of at most %dms; raise max_latency_ms", ceiling),
			keep: func(e models.RankingEntry) bool {
				return e.EstimatedLatencyMs > 0 && e.EstimatedLatencyMs <= ceiling
			},
		})
	}
	if eff.requireToolCalling {
		filters = append(filters, filter{
			constraint: ConstraintToolCalling,
			hint:       "no remaining model supports tool calling",
			keep: func(e models.RankingEntry) bool {
				return e.SupportsToolCalling
			},
		})
	}
	if eff.requireStreaming {
		filters = append(filters, filter{
			constraint: ConstraintStreaming,
			hint:       "no remaining model supports streaming",
			keep: func(e models.RankingEntry) bool {
				return e.SupportsStreaming
			},
		})
	}
	return filters
}

func reasoning(primary models.RankingEntry, filtered []models.RankingEntry, suite string, strategy ranking.Strategy) string {
	metric, value := strategy.DrivingMetric(primary)
	var latest time.Time
	for _, e := range filtered {
		if e.LastUpdated.After(latest) {
			latest = e.LastUpdated
		}
	}
	recency := "unknown"
	if !latest.IsZero() {
		recency = latest.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("Selected %s/%s for strategy %s: %s=%s, rank 1 of %d eligible models in the %s suite (data as of %s).",
		primary.Provider, primary.ModelName, strategy, metric, formatMetric(value), len(filtered), suite, recency)
}

func formatMetric(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(s string) bool {
		return strings.EqualFold(s, v)
	})
}
