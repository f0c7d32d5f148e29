package providers

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

// profile captures the per-provider knobs of the adapters.
type profile struct {
	baseURL string
	// reasoning matches model ids that need the reasoning treatment.
	reasoning *regexp.Regexp
	// budgetMultiplier inflates the caller's max tokens for reasoning models.
	budgetMultiplier float64
	budgetFloor      int
	// salt appends an invisible marker to the system instruction so upstream
	// prompt caches never serve a stale answer.
	salt bool
	// completionTokens selects max_completion_tokens over max_tokens.
	completionTokens bool
}

const defaultBudgetFloor = 8000

var profiles = map[Type]profile{
	TypeOpenAI: {
		baseURL:          "https://api.openai.com/v1",
		reasoning:        regexp.MustCompile(`^(o1|o3|o4|gpt-5)`),
		budgetMultiplier: 4,
		budgetFloor:      defaultBudgetFloor,
		completionTokens: true,
	},
	TypeAnthropic: {
		baseURL:          "https://api.anthropic.com",
		reasoning:        regexp.MustCompile(`^claude-(3-7|sonnet-4|opus-4|haiku-4)`),
		budgetMultiplier: 2,
		budgetFloor:      defaultBudgetFloor,
	},
	TypeGemini: {
		baseURL:          "https://generativelanguage.googleapis.com/v1beta",
		reasoning:        regexp.MustCompile(`^gemini-(2\.5|3)`),
		budgetMultiplier: 4,
		budgetFloor:      8192,
		salt:             true,
	},
	TypeXAI: {
		baseURL:          "https://api.x.ai/v1",
		reasoning:        regexp.MustCompile(`^grok-(3-mini|4)`),
		budgetMultiplier: 3,
		budgetFloor:      defaultBudgetFloor,
		completionTokens: true,
	},
	TypeGroq: {
		baseURL:          "https://api.groq.com/openai/v1",
		reasoning:        regexp.MustCompile(`(deepseek-r1|qwq|gpt-oss|qwen3)`),
		budgetMultiplier: 3,
		budgetFloor:      defaultBudgetFloor,
	},
	TypeDeepSeek: {
		baseURL:          "https://api.deepseek.com/v1",
		reasoning:        regexp.MustCompile(`^deepseek-(reasoner|r1)`),
		budgetMultiplier: 4,
		budgetFloor:      defaultBudgetFloor,
		salt:             true,
	},
	TypeMistral: {
		baseURL:          "https://api.mistral.ai/v1",
		reasoning:        regexp.MustCompile(`^magistral`),
		budgetMultiplier: 3,
		budgetFloor:      defaultBudgetFloor,
	},
	TypeOpenRouter: {
		baseURL:          "https://openrouter.ai/api/v1",
		reasoning:        regexp.MustCompile(`(/o[134]|/gpt-5|deepseek-r1|reasoner|thinking)`),
		budgetMultiplier: 3,
		budgetFloor:      defaultBudgetFloor,
		completionTokens: true,
	},
}

func (p profile) isReasoning(model string) bool {
	return p.reasoning != nil && p.reasoning.MatchString(strings.ToLower(model))
}

// tokenBudget returns max(requested*multiplier, floor).
func (p profile) tokenBudget(requested *int) int {
	want := 0
	if requested != nil {
		want = int(float64(*requested) * p.budgetMultiplier)
	}
	floor := p.budgetFloor
	if floor < defaultBudgetFloor {
		floor = defaultBudgetFloor
	}
	return max(want, floor)
}

// effortBudget maps a reasoning effort hint to a thinking token budget.
func effortBudget(effort string) int {
	switch strings.ToLower(effort) {
	case "low":
		return 1024
	case "high":
		return 24576
	default:
		return 8192
	}
}

const (
	zeroWidthSpace     = "\u200b"
	zeroWidthNonJoiner = "\u200c"
	saltLength         = 8
)

// saltMarker returns a random run of zero-width characters.
func saltMarker() string {
	var b strings.Builder
	for range saltLength {
		if rand.IntN(2) == 0 {
			b.WriteString(zeroWidthSpace)
		} else {
			b.WriteString(zeroWidthNonJoiner)
		}
	}
	return b.String()
}

// applySalt appends a marker to the system instruction, or to the first user
// turn when the conversation has no system text.
func applySalt(msgs []Message) []Message {
	out := append([]Message(nil), msgs...)
	for _, role := range []string{RoleSystem, RoleUser} {
		for i := range out {
			if out[i].Role == role {
				out[i].Content += saltMarker()
				return out
			}
		}
	}
	return out
}

// splitSystem separates system turns from the rest of the conversation.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
