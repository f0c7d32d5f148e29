package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"llm_router/internal/models"
)

// DefaultTTL is how long a computed ranking stays fresh.
const DefaultTTL = 5 * time.Minute

// Strategy names a ranking order.
type Strategy string

const (
	StrategyCheapest         Strategy = "cheapest"
	StrategyFastest          Strategy = "fastest"
	StrategyBestForCoding    Strategy = "best_for_coding"
	StrategyBestForReasoning Strategy = "best_for_reasoning"
	StrategyBalanced         Strategy = "balanced"
)

// Strategies lists every known strategy.
func Strategies() []Strategy {
	return []Strategy{
		StrategyCheapest, StrategyFastest, StrategyBestForCoding,
		StrategyBestForReasoning, StrategyBalanced,
	}
}

// ParseStrategy validates a strategy name. Empty input yields balanced.
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StrategyBalanced, nil
	}
	for _, st := range Strategies() {
		if Strategy(s) == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// NeedsLatency reports whether the comparator reads live latency.
func (s Strategy) NeedsLatency() bool {
	return s == StrategyFastest
}

// Suite returns the benchmark suite a strategy reads.
func (s Strategy) Suite() string {
	if s == StrategyBestForReasoning {
		return models.SuiteDeep
	}
	return models.SuiteGeneral
}

// axes fixes the summation order so results are bit-for-bit repeatable.
var axes = []string{
	models.MetricCorrectness,
	models.MetricCodeQuality,
	models.MetricComplexity,
	models.MetricEdgeCases,
}

// weights per metric axis. Metrics are badness values, lower is better.
var weights = map[Strategy]map[string]float64{
	StrategyBestForCoding: {
		models.MetricCodeQuality: 0.4,
		models.MetricComplexity:  0.3,
		models.MetricCorrectness: 0.2,
		models.MetricEdgeCases:   0.1,
	},
	StrategyBestForReasoning: {
		models.MetricCorrectness: 0.45,
		models.MetricEdgeCases:   0.35,
		models.MetricCodeQuality: 0.1,
		models.MetricComplexity:  0.1,
	},
	StrategyBalanced: {
		models.MetricCorrectness: 0.25,
		models.MetricCodeQuality: 0.25,
		models.MetricComplexity:  0.25,
		models.MetricEdgeCases:   0.25,
	},
}

// Badness is the weighted metric sum for quality strategies. Rows without
// any weighted metric fall back to the negated score.
func (s Strategy) Badness(e models.RankingEntry) float64 {
	w, ok := weights[s]
	if !ok {
		w = weights[StrategyBalanced]
	}
	var sum, total float64
	for _, axis := range axes {
		weight := w[axis]
		if v, found := e.Metrics[axis]; found && weight > 0 {
			sum += v * weight
			total += weight
		}
	}
	if total == 0 {
		return -e.Score
	}
	return sum / total
}

// DrivingMetric is the value a strategy sorts on first.
func (s Strategy) DrivingMetric(e models.RankingEntry) (name string, value float64) {
	switch s {
	case StrategyCheapest:
		return "cost_per_1k_tokens", e.EstimatedCostPerKToken
	case StrategyFastest:
		if e.EstimatedLatencyMs <= 0 {
			// unknown latency sorts last
			return "latency_ms", math.Inf(1)
		}
		return "latency_ms", float64(e.EstimatedLatencyMs)
	default:
		return "weighted_badness", s.Badness(e)
	}
}

// Less orders a before b: the driving metric, then cost, then name.
func (s Strategy) Less(a, b models.RankingEntry) bool {
	_, va := s.DrivingMetric(a)
	_, vb := s.DrivingMetric(b)
	if va != vb {
		return va < vb
	}
	if a.EstimatedCostPerKToken != b.EstimatedCostPerKToken {
		return a.EstimatedCostPerKToken < b.EstimatedCostPerKToken
	}
	return a.Key() < b.Key()
}

// Sort orders entries in place and renumbers ranks 1..N.
func (s Strategy) Sort(entries []models.RankingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return s.Less(entries[i], entries[j])
	})
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Category = string(s)
	}
}
