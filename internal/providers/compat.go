package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Compatible talks to any provider that serves the OpenAI chat completions
// API: xAI, Groq, DeepSeek, Mistral and OpenRouter. The OpenAI adapter
// reuses it for non-reasoning models.
type Compatible struct {
	typ     Type
	profile profile
	client  *openai.Client
	retry   RetryPolicy
	logger  *zap.Logger
}

func newCompatible(t Type, cfg Config) *Compatible {
	prof := profiles[t]
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = prof.baseURL
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	clientCfg.HTTPClient = cfg.HTTPClient

	return &Compatible{
		typ:     t,
		profile: prof,
		client:  openai.NewClientWithConfig(clientCfg),
		retry:   cfg.Retry,
		logger:  cfg.Logger.Named(string(t)),
	}
}

// Type returns the provider type
func (c *Compatible) Type() Type {
	return c.typ
}

// ListModels returns the ids the key can see.
func (c *Compatible) ListModels(ctx context.Context) ([]string, error) {
	list, err := withRetry(ctx, c.retry, func(ctx context.Context) (openai.ModelsList, error) {
		list, err := c.client.ListModels(ctx)
		return list, fromOpenAIError(c.typ, err)
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Chat sends one chat completion.
func (c *Compatible) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	creq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := withRetry(ctx, c.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := c.client.CreateChatCompletion(ctx, creq)
		return resp, fromOpenAIError(c.typ, err)
	})
	if err != nil {
		return nil, err
	}

	out := &ChatResponse{
		Text:      extractText(resp, chatTextChain...),
		ToolCalls: extractToolCalls(resp, chatToolCallChain...),
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		out.FinishReason = normalizeFinish(string(resp.Choices[0].FinishReason))
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	}
	if raw, err := json.Marshal(resp); err == nil {
		out.Raw = raw
	}
	if out.empty() {
		return nil, &EmptyResponseError{Provider: c.typ, Model: req.Model, BlockReason: out.FinishReason}
	}
	return out, nil
}

func (c *Compatible) buildRequest(req *ChatRequest) (openai.ChatCompletionRequest, error) {
	msgs := req.Messages
	if c.profile.salt {
		msgs = applySalt(msgs)
	}

	creq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(msgs),
	}

	if c.profile.isReasoning(req.Model) {
		budget := c.profile.tokenBudget(req.MaxTokens)
		if c.profile.completionTokens {
			creq.MaxCompletionTokens = budget
		} else {
			creq.MaxTokens = budget
		}
	} else {
		if req.Temperature != nil {
			creq.Temperature = float32(*req.Temperature)
		}
		if req.MaxTokens != nil {
			creq.MaxTokens = *req.MaxTokens
		}
	}

	for _, t := range req.Tools {
		creq.Tools = append(creq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaOrEmpty(t.Parameters),
			},
		})
	}
	if len(creq.Tools) > 0 && req.ToolChoice != "" {
		creq.ToolChoice = openAIToolChoice(req.ToolChoice)
	}

	if len(req.ResponseSchema) > 0 {
		if !json.Valid(req.ResponseSchema) {
			return creq, fmt.Errorf("response schema is not valid JSON")
		}
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "response",
				Schema: req.ResponseSchema,
			},
		}
	}
	return creq, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == RoleTool {
			msg.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func openAIToolChoice(choice string) any {
	switch choice {
	case "auto", "none", "required":
		return choice
	default:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice},
		}
	}
}

func schemaOrEmpty(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return schema
}

// fromOpenAIError converts go-openai failures into ProviderErrors so retry
// and credit classification see one shape.
func fromOpenAIError(t Type, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		if code == "" {
			code = apiErr.Type
		}
		if code != "" && !strings.Contains(msg, code) {
			msg += " (" + code + ")"
		}
		return &ProviderError{Provider: t, Status: apiErr.HTTPStatusCode, Message: truncate(msg)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		msg := "request failed"
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &ProviderError{Provider: t, Status: reqErr.HTTPStatusCode, Message: truncate(msg)}
	}
	return err
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

func normalizeFinish(reason string) string {
	switch strings.ToLower(reason) {
	case "", "stop", "end_turn", "stop_sequence", "completed":
		return FinishStop
	case "tool_calls", "tool_use", "function_call":
		return FinishToolCalls
	case "length", "max_tokens", "max_output_tokens", "incomplete":
		return FinishLength
	case "content_filter", "safety", "recitation", "blocklist", "prohibited_content":
		return FinishContentFilter
	default:
		return strings.ToLower(reason)
	}
}

// rawJSON keeps a reply body when it parses.
func rawJSON(body []byte) (gjson.Result, json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, nil, fmt.Errorf("invalid JSON in provider response")
	}
	return gjson.ParseBytes(body), json.RawMessage(body), nil
}
