package gateway

import (
	"fmt"
	"strings"

	"llm_router/internal/providers"
	"llm_router/internal/ranking"
	"llm_router/internal/selector"
	"llm_router/internal/utils"
)

// AliasAuto routes with the caller's preferred strategy.
const AliasAuto = "auto"

const aliasPrefix = "router/"

// Strategy labels reported for requests that bypass the selector.
const (
	routeDirect   = "direct"
	routeInferred = "inferred"
)

var aliasStrategies = map[string]ranking.Strategy{
	"cheapest":  ranking.StrategyCheapest,
	"fastest":   ranking.StrategyFastest,
	"coding":    ranking.StrategyBestForCoding,
	"reasoning": ranking.StrategyBestForReasoning,
	"balanced":  ranking.StrategyBalanced,
}

// target is what the model field resolved to. routed targets go through the
// selector; the others name the provider and model outright.
type target struct {
	routed   bool
	strategy ranking.Strategy // empty: caller preference or default
	provider providers.Type
	model    string
	label    string
}

// resolveTarget interprets the model field: a router alias first, then a
// literal provider/model, then a bare model id whose provider is inferred.
func resolveTarget(model string) (target, error) {
	m := strings.TrimSpace(model)

	if strings.EqualFold(m, AliasAuto) {
		return target{routed: true}, nil
	}
	if name, ok := strings.CutPrefix(strings.ToLower(m), aliasPrefix); ok {
		if st, ok := aliasStrategies[name]; ok {
			return target{routed: true, strategy: st}, nil
		}
		if st, err := ranking.ParseStrategy(name); err == nil && name != "" {
			return target{routed: true, strategy: st}, nil
		}
		return target{}, &utils.ValidationError{Message: fmt.Sprintf("unknown routing alias %q", m)}
	}

	if prefix, rest, ok := strings.Cut(m, "/"); ok && rest != "" {
		if t, err := providers.ParseType(prefix); err == nil {
			return target{provider: t, model: rest, label: routeDirect}, nil
		}
	}

	if t, ok := providers.InferType(m); ok {
		return target{provider: t, model: m, label: routeInferred}, nil
	}
	return target{}, &utils.ValidationError{
		Message: fmt.Sprintf("cannot determine provider for model %q: use provider/model or a router/ alias", m),
	}
}

// criteria merges the alias strategy, the routing extension and the
// tool-calling requirement implied by the request.
func (t target) criteria(owner string, req *ChatCompletionRequest) selector.Criteria {
	c := selector.Criteria{OwnerUserID: owner}

	if opts := req.Routing; opts != nil {
		c.Strategy = ranking.Strategy(opts.Strategy)
		c.MaxCostPerKToken = opts.MaxCostPerKToken
		c.MaxLatencyMs = opts.MaxLatencyMs
		c.ExcludedProviders = opts.ExcludedProviders
		c.ExcludedModels = opts.ExcludedModels
		c.RequireToolCalling = opts.RequireToolCalling
		c.RequireStreaming = opts.RequireStreaming
	}
	if t.strategy != "" {
		c.Strategy = t.strategy
	}
	if len(req.Tools) > 0 {
		required := true
		c.RequireToolCalling = &required
	}
	return c
}

func (t target) reason() string {
	if t.label == routeInferred {
		return fmt.Sprintf("Provider %s inferred from model name %s.", t.provider, t.model)
	}
	return fmt.Sprintf("Model %s/%s requested explicitly.", t.provider, t.model)
}
