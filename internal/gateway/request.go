package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"llm_router/internal/providers"
	"llm_router/internal/utils"
)

// ChatCompletionRequest is the OpenAI-compatible request body plus the
// optional routing extension.
type ChatCompletionRequest struct {
	Model           string          `json:"model" validate:"required"`
	Messages        []ChatMessage   `json:"messages" validate:"required,min=1,dive"`
	Temperature     *float64        `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens       *int            `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Stream          bool            `json:"stream,omitempty"`
	Tools           []ToolSpec      `json:"tools,omitempty" validate:"omitempty,dive"`
	ToolChoice      json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat  *ResponseFormat `json:"response_format,omitempty"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty" validate:"omitempty,oneof=low medium high"`
	Verbosity       string          `json:"verbosity,omitempty" validate:"omitempty,oneof=low medium high"`
	Routing         *RoutingOptions `json:"routing,omitempty"`
}

// ChatMessage is one inbound conversation turn.
type ChatMessage struct {
	Role       string         `json:"role" validate:"required,oneof=system developer user assistant tool"`
	Content    MessageContent `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCallSpec `json:"tool_calls,omitempty" validate:"omitempty,dive"`
}

// MessageContent accepts either a plain string or an array of content parts.
// Only text parts are kept.
type MessageContent string

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("content is not valid JSON")
	}

	root := gjson.ParseBytes(data)
	switch {
	case root.Type == gjson.Null:
		*c = ""
	case root.Type == gjson.String:
		*c = MessageContent(root.String())
	case root.IsArray():
		var b strings.Builder
		root.ForEach(func(_, part gjson.Result) bool {
			if part.Type == gjson.String {
				b.WriteString(part.String())
				return true
			}
			if t := part.Get("type").String(); t == "" || t == "text" {
				b.WriteString(part.Get("text").String())
			}
			return true
		})
		*c = MessageContent(b.String())
	default:
		return errors.New("content must be a string or an array of content parts")
	}
	return nil
}

// ToolSpec is an OpenAI function tool definition.
type ToolSpec struct {
	Type     string       `json:"type" validate:"omitempty,eq=function"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec describes a callable function.
type FunctionSpec struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCallSpec is a function call in OpenAI wire form. Index is only set on
// streamed deltas.
type ToolCallSpec struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the name and JSON-encoded arguments of a call.
type FunctionCall struct {
	Name      string `json:"name" validate:"required"`
	Arguments string `json:"arguments"`
}

// ResponseFormat selects free text, a JSON object or a JSON schema.
type ResponseFormat struct {
	Type       string         `json:"type" validate:"omitempty,oneof=text json_object json_schema"`
	JSONSchema *JSONSchemaRef `json:"json_schema,omitempty"`
}

// JSONSchemaRef wraps a named schema.
type JSONSchemaRef struct {
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict bool            `json:"strict,omitempty"`
}

// RoutingOptions are per-request selection criteria. They take precedence
// over the caller's stored preference field by field.
type RoutingOptions struct {
	Strategy           string   `json:"strategy,omitempty" validate:"omitempty,oneof=cheapest fastest best_for_coding best_for_reasoning balanced"`
	MaxCostPerKToken   *float64 `json:"max_cost_per_k_token,omitempty" validate:"omitempty,gt=0"`
	MaxLatencyMs       *int64   `json:"max_latency_ms,omitempty" validate:"omitempty,gt=0"`
	ExcludedProviders  []string `json:"excluded_providers,omitempty"`
	ExcludedModels     []string `json:"excluded_models,omitempty"`
	RequireToolCalling *bool    `json:"require_tool_calling,omitempty"`
	RequireStreaming   *bool    `json:"require_streaming,omitempty"`
}

// DecodeRequest reads and validates a chat completion body.
func DecodeRequest(r io.Reader) (*ChatCompletionRequest, error) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, &utils.ValidationError{Message: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// toChatRequest converts the inbound body into the provider-neutral request
// for model.
func (r *ChatCompletionRequest) toChatRequest(model string) *providers.ChatRequest {
	out := &providers.ChatRequest{
		Model:           model,
		Temperature:     r.Temperature,
		MaxTokens:       r.MaxTokens,
		ToolChoice:      toolChoice(r.ToolChoice),
		ResponseSchema:  r.responseSchema(),
		ReasoningEffort: r.ReasoningEffort,
		Verbosity:       r.Verbosity,
	}

	out.Messages = make([]providers.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		role := m.Role
		if role == "developer" {
			role = providers.RoleSystem
		}
		msg := providers.Message{
			Role:       role,
			Content:    string(m.Content),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range r.Tools {
		out.Tools = append(out.Tools, providers.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return out
}

func (r *ChatCompletionRequest) responseSchema() json.RawMessage {
	if r.ResponseFormat == nil {
		return nil
	}
	switch r.ResponseFormat.Type {
	case "json_schema":
		if r.ResponseFormat.JSONSchema != nil && len(r.ResponseFormat.JSONSchema.Schema) > 0 {
			return r.ResponseFormat.JSONSchema.Schema
		}
		return json.RawMessage(`{"type":"object"}`)
	case "json_object":
		return json.RawMessage(`{"type":"object"}`)
	default:
		return nil
	}
}

// toolChoice flattens "auto"/"none"/"required" or
// {"type":"function","function":{"name":...}} into the adapter form.
func toolChoice(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	v := gjson.ParseBytes(raw)
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Get("function.name").String()
}
