package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// Anthropic adapts the Messages API.
type Anthropic struct {
	api     *jsonClient
	profile profile
	retry   RetryPolicy
	logger  *zap.Logger
}

func newAnthropic(cfg Config) *Anthropic {
	prof := profiles[TypeAnthropic]
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = prof.baseURL
	}
	return &Anthropic{
		api: &jsonClient{
			provider: TypeAnthropic,
			http:     cfg.HTTPClient,
			baseURL:  baseURL,
			headers: map[string]string{
				"x-api-key":         cfg.APIKey,
				"anthropic-version": anthropicVersion,
			},
		},
		profile: prof,
		retry:   cfg.Retry,
		logger:  cfg.Logger.Named(string(TypeAnthropic)),
	}
}

// Type returns the provider type
func (p *Anthropic) Type() Type {
	return TypeAnthropic
}

// ListModels returns the model ids visible to the key.
func (p *Anthropic) ListModels(ctx context.Context) ([]string, error) {
	raw, err := withRetry(ctx, p.retry, func(ctx context.Context) ([]byte, error) {
		return p.api.get(ctx, "/v1/models?limit=1000")
	})
	if err != nil {
		return nil, err
	}
	var ids []string
	gjson.GetBytes(raw, "data.#.id").ForEach(func(_, id gjson.Result) bool {
		ids = append(ids, id.String())
		return true
	})
	return ids, nil
}

// Chat runs the request through the resilience chain.
func (p *Anthropic) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return resilientChat(ctx, TypeAnthropic, p.logger, req, p.chatOnce, p.ListModels)
}

func (p *Anthropic) chatOnce(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := p.messagesRequest(req)
	raw, err := withRetry(ctx, p.retry, func(ctx context.Context) ([]byte, error) {
		return p.api.post(ctx, "/v1/messages", body)
	})
	if err != nil {
		return nil, err
	}

	root, rawMsg, err := rawJSON(raw)
	if err != nil {
		return nil, err
	}
	out := &ChatResponse{
		Text:         extractText(root, anthropicTextChain...),
		ToolCalls:    extractToolCalls(root, anthropicToolCallChain...),
		TokensIn:     tokenCount(root, "usage.input_tokens", "usage.prompt_tokens"),
		TokensOut:    tokenCount(root, "usage.output_tokens", "usage.completion_tokens"),
		FinishReason: normalizeFinish(root.Get("stop_reason").String()),
		Raw:          rawMsg,
	}
	if out.empty() {
		return nil, &EmptyResponseError{Provider: TypeAnthropic, Model: req.Model, BlockReason: root.Get("stop_reason").String()}
	}
	return out, nil
}

func (p *Anthropic) messagesRequest(req *ChatRequest) map[string]any {
	system, rest := splitSystem(req.Messages)
	if len(req.ResponseSchema) > 0 {
		if system != "" {
			system += "\n\n"
		}
		system += "Respond only with JSON matching this schema: " + string(req.ResponseSchema)
	}

	messages := make([]map[string]any, 0, len(rest))
	for _, m := range rest {
		switch {
		case m.Role == RoleTool:
			messages = append(messages, map[string]any{
				"role": RoleUser,
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Content,
				}},
			})
		case len(m.ToolCalls) > 0:
			blocks := make([]map[string]any, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": toolInput(tc.Arguments),
				})
			}
			messages = append(messages, map[string]any{"role": RoleAssistant, "content": blocks})
		default:
			messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
		}
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if system != "" {
		body["system"] = system
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	if p.profile.isReasoning(req.Model) && req.ReasoningEffort != "" {
		thinking := effortBudget(req.ReasoningEffort)
		// the answer budget must exceed the thinking budget
		body["max_tokens"] = max(p.profile.tokenBudget(req.MaxTokens), thinking+maxTokens)
		body["thinking"] = map[string]any{"type": "enabled", "budget_tokens": thinking}
	} else {
		body["max_tokens"] = maxTokens
		if req.Temperature != nil {
			body["temperature"] = *req.Temperature
		}
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schemaOrEmpty(t.Parameters),
			})
		}
		body["tools"] = tools
		if req.ToolChoice != "" {
			body["tool_choice"] = anthropicToolChoice(req.ToolChoice)
		}
	}
	return body
}

func anthropicToolChoice(choice string) map[string]any {
	switch strings.ToLower(choice) {
	case "auto":
		return map[string]any{"type": "auto"}
	case "none":
		return map[string]any{"type": "none"}
	case "required":
		return map[string]any{"type": "any"}
	default:
		return map[string]any{"type": "tool", "name": choice}
	}
}

// toolInput turns JSON argument text back into an object.
func toolInput(arguments string) json.RawMessage {
	if arguments == "" || !json.Valid([]byte(arguments)) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(arguments)
}
