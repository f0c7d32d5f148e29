package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Type identifies an upstream provider. The set is closed; New switches over
// every value.
type Type string

const (
	TypeOpenAI     Type = "openai"
	TypeAnthropic  Type = "anthropic"
	TypeGemini     Type = "gemini"
	TypeXAI        Type = "xai"
	TypeGroq       Type = "groq"
	TypeDeepSeek   Type = "deepseek"
	TypeMistral    Type = "mistral"
	TypeOpenRouter Type = "openrouter"
)

// Types returns every supported provider type.
func Types() []Type {
	return []Type{
		TypeOpenAI, TypeAnthropic, TypeGemini, TypeXAI,
		TypeGroq, TypeDeepSeek, TypeMistral, TypeOpenRouter,
	}
}

// ParseType validates a provider name.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
}

// InferType guesses the provider of a bare model id.
func InferType(model string) (Type, bool) {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "chatgpt"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return TypeOpenAI, true
	case strings.HasPrefix(m, "claude"):
		return TypeAnthropic, true
	case strings.HasPrefix(m, "gemini"):
		return TypeGemini, true
	case strings.HasPrefix(m, "grok"):
		return TypeXAI, true
	case strings.HasPrefix(m, "deepseek"):
		return TypeDeepSeek, true
	case strings.HasPrefix(m, "mistral"), strings.HasPrefix(m, "magistral"),
		strings.HasPrefix(m, "codestral"), strings.HasPrefix(m, "ministral"),
		strings.HasPrefix(m, "pixtral"), strings.HasPrefix(m, "devstral"):
		return TypeMistral, true
	case strings.HasPrefix(m, "llama"), strings.HasPrefix(m, "mixtral"),
		strings.HasPrefix(m, "qwen"), strings.HasPrefix(m, "gemma"):
		return TypeGroq, true
	}
	return "", false
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role       string
	Content    string
	Name       string // tool name for RoleTool results
	ToolCallID string
	ToolCalls  []ToolCall
}

// Tool is a callable function offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON text
}

// ChatRequest is the provider-neutral request every adapter accepts.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	Tools       []Tool
	// ToolChoice is "auto", "none", "required" or a tool name.
	ToolChoice      string
	ResponseSchema  json.RawMessage
	ReasoningEffort string // low, medium, high
	Verbosity       string // low, medium, high
}

// Clone returns a copy whose messages can be rewritten safely.
func (r *ChatRequest) Clone() *ChatRequest {
	c := *r
	c.Messages = append([]Message(nil), r.Messages...)
	return &c
}

// Finish reasons reported in ChatResponse.
const (
	FinishStop          = "stop"
	FinishToolCalls     = "tool_calls"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
)

// ChatResponse is the normalized reply.
type ChatResponse struct {
	Text         string
	TokensIn     int
	TokensOut    int
	ToolCalls    []ToolCall
	FinishReason string
	Raw          json.RawMessage
}

func (r *ChatResponse) empty() bool {
	return strings.TrimSpace(r.Text) == "" && len(r.ToolCalls) == 0
}

// Provider is implemented by each upstream adapter.
type Provider interface {
	Type() Type
	ListModels(ctx context.Context) ([]string, error)
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Config carries the decrypted credential and call policy for one adapter.
type Config struct {
	APIKey     string
	BaseURL    string // empty selects the provider default
	HTTPClient *http.Client
	Retry      RetryPolicy
	Logger     *zap.Logger
}

// Factory builds adapters. The gateway takes one so tests can swap it.
type Factory func(t Type, cfg Config) (Provider, error)

// New builds the adapter for t.
func New(t Type, cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for %s provider", t)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = defaultHTTPClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Retry = cfg.Retry.withDefaults()

	switch t {
	case TypeOpenAI:
		return newOpenAI(cfg), nil
	case TypeAnthropic:
		return newAnthropic(cfg), nil
	case TypeGemini:
		return newGemini(cfg), nil
	case TypeXAI, TypeGroq, TypeDeepSeek, TypeMistral, TypeOpenRouter:
		return newCompatible(t, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, t)
	}
}
