package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Stage is one step of the resilience chain.
type Stage int

const (
	StageStrict Stage = iota
	StageFoldSystem
	StageFlatten
	StageAlternateModel
)

var stageNames = [...]string{"strict", "fold_system", "flatten", "alternate_model"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// stageCall performs the full single-call behaviour for one request shape.
type stageCall func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

// modelLister supplies candidates for the alternate-model stage.
type modelLister func(ctx context.Context) ([]string, error)

// resilientChat runs call through every stage in order and returns the first
// success. Errors that no reshaping can fix end the chain early.
func resilientChat(ctx context.Context, provider Type, logger *zap.Logger, req *ChatRequest, call stageCall, list modelLister) (*ChatResponse, error) {
	var stages []StageError

	for _, stage := range []Stage{StageStrict, StageFoldSystem, StageFlatten, StageAlternateModel} {
		staged, err := reshape(ctx, stage, req, list)
		if err != nil {
			stages = append(stages, StageError{Stage: stage, Model: req.Model, Err: err})
			continue
		}

		resp, err := call(ctx, staged)
		if err == nil {
			if stage != StageStrict {
				logger.Info("fallback stage succeeded",
					zap.String("provider", string(provider)),
					zap.String("stage", stage.String()),
					zap.String("model", staged.Model))
			}
			return resp, nil
		}
		if terminal(ctx, err) {
			return nil, err
		}

		logger.Warn("fallback stage failed",
			zap.String("provider", string(provider)),
			zap.String("stage", stage.String()),
			zap.String("model", staged.Model),
			zap.Error(err))
		stages = append(stages, StageError{Stage: stage, Model: staged.Model, Err: err})
	}

	return nil, &FallbackExhaustedError{Provider: provider, Model: req.Model, Stages: stages}
}

// terminal reports errors where trying another request shape cannot help.
func terminal(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	if IsCreditExhausted(err) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden
	}
	return false
}

func reshape(ctx context.Context, stage Stage, req *ChatRequest, list modelLister) (*ChatRequest, error) {
	out := req.Clone()
	switch stage {
	case StageFoldSystem:
		out.Messages = foldSystem(req.Messages)
	case StageFlatten:
		out.Messages = flatten(req.Messages)
	case StageAlternateModel:
		alt, err := alternateModel(ctx, req.Model, list)
		if err != nil {
			return nil, err
		}
		out.Model = alt
	}
	return out, nil
}

// foldSystem moves system text into the first user turn.
func foldSystem(msgs []Message) []Message {
	system, rest := splitSystem(msgs)
	if system == "" {
		return rest
	}
	for i := range rest {
		if rest[i].Role == RoleUser {
			rest[i].Content = system + "\n\n" + rest[i].Content
			return rest
		}
	}
	return append([]Message{{Role: RoleUser, Content: system}}, rest...)
}

// flatten renders the whole conversation as a single user message.
func flatten(msgs []Message) []Message {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		content := m.Content
		for _, tc := range m.ToolCalls {
			content += fmt.Sprintf("\n[call %s(%s)]", tc.Name, tc.Arguments)
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(content)
	}
	return []Message{{Role: RoleUser, Content: b.String()}}
}

// alternateModel picks the first listed model of the same family that is
// not the current one.
func alternateModel(ctx context.Context, current string, list modelLister) (string, error) {
	if list == nil {
		return "", ErrNoAlternateModel
	}
	models, err := list(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoAlternateModel, err)
	}
	family := modelFamily(current)
	for _, m := range models {
		if m != current && modelFamily(m) == family {
			return m, nil
		}
	}
	return "", ErrNoAlternateModel
}

func modelFamily(model string) string {
	m := strings.ToLower(model)
	if i := strings.IndexAny(m, "-/"); i > 0 {
		return m[:i]
	}
	return m
}
