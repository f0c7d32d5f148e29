package providers

import (
	"context"
	"encoding/json"
	"strings"
)

// OpenAI serves chat models through go-openai and reasoning models through
// the raw /responses endpoint, which takes effort and verbosity hints.
type OpenAI struct {
	*Compatible
	responses *jsonClient
}

func newOpenAI(cfg Config) *OpenAI {
	chat := newCompatible(TypeOpenAI, cfg)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = chat.profile.baseURL
	}
	return &OpenAI{
		Compatible: chat,
		responses: &jsonClient{
			provider: TypeOpenAI,
			http:     cfg.HTTPClient,
			baseURL:  baseURL,
			headers:  map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		},
	}
}

// Chat picks the endpoint by model name.
func (p *OpenAI) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if !p.profile.isReasoning(req.Model) {
		return p.Compatible.Chat(ctx, req)
	}

	body := p.responsesRequest(req)
	raw, err := withRetry(ctx, p.retry, func(ctx context.Context) ([]byte, error) {
		return p.responses.post(ctx, "/responses", body)
	})
	if err != nil {
		return nil, err
	}

	root, rawMsg, err := rawJSON(raw)
	if err != nil {
		return nil, err
	}
	out := &ChatResponse{
		Text:         extractText(root, responsesTextChain...),
		ToolCalls:    extractToolCalls(root, responsesToolCallChain...),
		TokensIn:     tokenCount(root, "usage.input_tokens", "usage.prompt_tokens"),
		TokensOut:    tokenCount(root, "usage.output_tokens", "usage.completion_tokens"),
		FinishReason: normalizeFinish(root.Get("incomplete_details.reason").String()),
		Raw:          rawMsg,
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	}
	if out.empty() {
		return nil, &EmptyResponseError{Provider: TypeOpenAI, Model: req.Model, BlockReason: root.Get("incomplete_details.reason").String()}
	}
	return out, nil
}

func (p *OpenAI) responsesRequest(req *ChatRequest) map[string]any {
	instructions, rest := splitSystem(req.Messages)

	input := make([]map[string]any, 0, len(rest))
	for _, m := range rest {
		switch {
		case m.Role == RoleTool:
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": m.ToolCallID,
				"output":  m.Content,
			})
		case len(m.ToolCalls) > 0:
			if m.Content != "" {
				input = append(input, map[string]any{"role": m.Role, "content": m.Content})
			}
			for _, tc := range m.ToolCalls {
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   tc.ID,
					"name":      tc.Name,
					"arguments": tc.Arguments,
				})
			}
		default:
			input = append(input, map[string]any{"role": m.Role, "content": m.Content})
		}
	}

	effort := strings.ToLower(req.ReasoningEffort)
	if effort == "" {
		effort = "medium"
	}
	text := map[string]any{}
	if req.Verbosity != "" {
		text["verbosity"] = strings.ToLower(req.Verbosity)
	}
	if len(req.ResponseSchema) > 0 {
		text["format"] = map[string]any{
			"type":   "json_schema",
			"name":   "response",
			"schema": json.RawMessage(req.ResponseSchema),
		}
	}

	body := map[string]any{
		"model":             req.Model,
		"input":             input,
		"reasoning":         map[string]any{"effort": effort},
		"max_output_tokens": p.profile.tokenBudget(req.MaxTokens),
	}
	if instructions != "" {
		body["instructions"] = instructions
	}
	if len(text) > 0 {
		body["text"] = text
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  schemaOrEmpty(t.Parameters),
			})
		}
		body["tools"] = tools
		if req.ToolChoice != "" {
			body["tool_choice"] = responsesToolChoice(req.ToolChoice)
		}
	}
	return body
}

func responsesToolChoice(choice string) any {
	switch choice {
	case "auto", "none", "required":
		return choice
	default:
		return map[string]any{"type": "function", "name": choice}
	}
}
