package gateway

import (
	"time"

	"github.com/google/uuid"

	"llm_router/internal/providers"
	"llm_router/internal/selector"
)

// ChatCompletion is the OpenAI-style response envelope with the routing
// decision attached.
type ChatCompletion struct {
	ID       string      `json:"id"`
	Object   string      `json:"object"`
	Created  int64       `json:"created"`
	Model    string      `json:"model"`
	Choices  []Choice    `json:"choices"`
	Usage    Usage       `json:"usage"`
	Provider string      `json:"provider"`
	Routing  RoutingInfo `json:"routing"`
}

type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage has null content when the model only called tools.
type ResponseMessage struct {
	Role      string         `json:"role"`
	Content   *string        `json:"content"`
	ToolCalls []ToolCallSpec `json:"tool_calls,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// RoutingInfo explains the selection. FallbackChain is advisory; the
// gateway does not walk it.
type RoutingInfo struct {
	Strategy      string               `json:"strategy"`
	Reason        string               `json:"reason"`
	FallbackChain []selector.Candidate `json:"fallback_chain"`
}

func newCompletion(resp *providers.ChatResponse, provider, model string, routing RoutingInfo, now time.Time) *ChatCompletion {
	finish := resp.FinishReason
	if finish == "" {
		finish = providers.FinishStop
	}
	if len(resp.ToolCalls) > 0 {
		finish = providers.FinishToolCalls
	}

	msg := ResponseMessage{Role: "assistant"}
	if resp.Text != "" || len(resp.ToolCalls) == 0 {
		text := resp.Text
		msg.Content = &text
	}
	msg.ToolCalls = toolCallSpecs(resp.ToolCalls, false)

	if routing.FallbackChain == nil {
		routing.FallbackChain = []selector.Candidate{}
	}

	return &ChatCompletion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
		Usage: Usage{
			PromptTokens:     resp.TokensIn,
			CompletionTokens: resp.TokensOut,
			TotalTokens:      resp.TokensIn + resp.TokensOut,
		},
		Provider: provider,
		Routing:  routing,
	}
}

func toolCallSpecs(calls []providers.ToolCall, indexed bool) []ToolCallSpec {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCallSpec, len(calls))
	for i, c := range calls {
		out[i] = ToolCallSpec{
			ID:   c.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		}
		if indexed {
			idx := i
			out[i].Index = &idx
		}
	}
	return out
}
