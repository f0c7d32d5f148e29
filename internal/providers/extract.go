package providers

import (
	"strconv"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// textExtractor pulls text fragments out of one reply shape.
type textExtractor[T any] func(reply T) []string

// toolCallExtractor pulls tool calls out of one reply location.
type toolCallExtractor[T any] func(reply T) []ToolCall

// extractText runs every extractor in order and concatenates the non-blank
// fragments they find. A shape whose text already appears in the result is
// an alias of an earlier shape and adds nothing.
func extractText[T any](reply T, chain ...textExtractor[T]) string {
	var out strings.Builder
	for _, ex := range chain {
		var b strings.Builder
		for _, frag := range ex(reply) {
			if strings.TrimSpace(frag) == "" {
				continue
			}
			b.WriteString(frag)
		}
		text := b.String()
		if text == "" || strings.Contains(out.String(), strings.TrimSpace(text)) {
			continue
		}
		out.WriteString(text)
	}
	return out.String()
}

// extractToolCalls tries every location before giving up.
func extractToolCalls[T any](reply T, chain ...toolCallExtractor[T]) []ToolCall {
	for _, ex := range chain {
		if calls := ex(reply); len(calls) > 0 {
			return calls
		}
	}
	return nil
}

// gjsonStrings collects the string values at path, flattening arrays.
func gjsonStrings(root gjson.Result, path string) []string {
	var out []string
	var walk func(r gjson.Result)
	walk = func(r gjson.Result) {
		if r.IsArray() {
			r.ForEach(func(_, v gjson.Result) bool {
				walk(v)
				return true
			})
			return
		}
		if r.Type == gjson.String {
			out = append(out, r.Str)
		}
	}
	walk(root.Get(path))
	return out
}

func textAt(path string) textExtractor[gjson.Result] {
	return func(root gjson.Result) []string {
		return gjsonStrings(root, path)
	}
}

// argumentsText renders tool arguments that may arrive as an object or as
// already-encoded JSON text.
func argumentsText(v gjson.Result) string {
	switch {
	case !v.Exists():
		return "{}"
	case v.Type == gjson.String:
		return v.Str
	default:
		return v.Raw
	}
}

// OpenAI chat completions (go-openai struct).

func chatMessage(resp openai.ChatCompletionResponse) (openai.ChatCompletionMessage, bool) {
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, false
	}
	return resp.Choices[0].Message, true
}

var chatTextChain = []textExtractor[openai.ChatCompletionResponse]{
	func(resp openai.ChatCompletionResponse) []string {
		msg, ok := chatMessage(resp)
		if !ok {
			return nil
		}
		return []string{msg.Content}
	},
	func(resp openai.ChatCompletionResponse) []string {
		msg, ok := chatMessage(resp)
		if !ok {
			return nil
		}
		var out []string
		for _, part := range msg.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText {
				out = append(out, part.Text)
			}
		}
		return out
	},
}

var chatToolCallChain = []toolCallExtractor[openai.ChatCompletionResponse]{
	func(resp openai.ChatCompletionResponse) []ToolCall {
		msg, ok := chatMessage(resp)
		if !ok {
			return nil
		}
		calls := make([]ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		return calls
	},
	// legacy function_call field
	func(resp openai.ChatCompletionResponse) []ToolCall {
		msg, ok := chatMessage(resp)
		if !ok || msg.FunctionCall == nil || msg.FunctionCall.Name == "" {
			return nil
		}
		return []ToolCall{{ID: "call_0", Name: msg.FunctionCall.Name, Arguments: msg.FunctionCall.Arguments}}
	},
}

// OpenAI /responses (raw JSON).

var responsesTextChain = []textExtractor[gjson.Result]{
	func(root gjson.Result) []string {
		var out []string
		root.Get("output").ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() != "message" {
				return true
			}
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				if t := part.Get("type").String(); t == "output_text" || t == "text" {
					out = append(out, part.Get("text").String())
				}
				return true
			})
			return true
		})
		return out
	},
	textAt("output_text"),
	textAt("choices.0.message.content"),
}

var responsesToolCallChain = []toolCallExtractor[gjson.Result]{
	func(root gjson.Result) []ToolCall {
		var calls []ToolCall
		root.Get("output").ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() == "function_call" {
				id := item.Get("call_id").String()
				if id == "" {
					id = item.Get("id").String()
				}
				calls = append(calls, ToolCall{ID: id, Name: item.Get("name").String(), Arguments: argumentsText(item.Get("arguments"))})
			}
			return true
		})
		return calls
	},
	legacyChatToolCalls,
	func(root gjson.Result) []ToolCall {
		var calls []ToolCall
		root.Get("output.#.content").ForEach(func(_, parts gjson.Result) bool {
			parts.ForEach(func(_, part gjson.Result) bool {
				part.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
					calls = append(calls, ToolCall{ID: tc.Get("id").String(), Name: tc.Get("function.name").String(), Arguments: argumentsText(tc.Get("function.arguments"))})
					return true
				})
				return true
			})
			return true
		})
		return calls
	},
}

func legacyChatToolCalls(root gjson.Result) []ToolCall {
	var calls []ToolCall
	root.Get("choices.0.message.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		calls = append(calls, ToolCall{ID: tc.Get("id").String(), Name: tc.Get("function.name").String(), Arguments: argumentsText(tc.Get("function.arguments"))})
		return true
	})
	return calls
}

// Anthropic messages.

var anthropicTextChain = []textExtractor[gjson.Result]{
	func(root gjson.Result) []string {
		var out []string
		root.Get("content").ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				out = append(out, block.Get("text").String())
			}
			return true
		})
		return out
	},
	textAt("completion"),
	textAt("message.content.#.text"),
}

var anthropicToolCallChain = []toolCallExtractor[gjson.Result]{
	func(root gjson.Result) []ToolCall {
		return anthropicToolUses(root.Get("content"))
	},
	legacyChatToolCalls,
	func(root gjson.Result) []ToolCall {
		return anthropicToolUses(root.Get("message.content"))
	},
}

func anthropicToolUses(blocks gjson.Result) []ToolCall {
	var calls []ToolCall
	blocks.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "tool_use" {
			calls = append(calls, ToolCall{ID: block.Get("id").String(), Name: block.Get("name").String(), Arguments: argumentsText(block.Get("input"))})
		}
		return true
	})
	return calls
}

// Gemini generateContent.

var geminiTextChain = []textExtractor[gjson.Result]{
	func(root gjson.Result) []string {
		var out []string
		root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			if !part.Get("thought").Bool() {
				out = append(out, part.Get("text").String())
			}
			return true
		})
		return out
	},
	textAt("candidates.0.output"),
	textAt("candidates.0.content.text"),
}

var geminiToolCallChain = []toolCallExtractor[gjson.Result]{
	func(root gjson.Result) []ToolCall {
		return geminiFunctionCalls(root.Get("candidates.0.content.parts"), "functionCall")
	},
	func(root gjson.Result) []ToolCall {
		return geminiFunctionCalls(root.Get("candidates.0.content.parts"), "function_call")
	},
	func(root gjson.Result) []ToolCall {
		fc := root.Get("candidates.0.functionCall")
		if !fc.Exists() {
			return nil
		}
		return []ToolCall{{ID: "call_0", Name: fc.Get("name").String(), Arguments: argumentsText(fc.Get("args"))}}
	},
}

func geminiFunctionCalls(parts gjson.Result, field string) []ToolCall {
	var calls []ToolCall
	parts.ForEach(func(_, part gjson.Result) bool {
		fc := part.Get(field)
		if fc.Exists() {
			id := fc.Get("id").String()
			if id == "" {
				id = "call_" + strconv.Itoa(len(calls))
			}
			calls = append(calls, ToolCall{ID: id, Name: fc.Get("name").String(), Arguments: argumentsText(fc.Get("args"))})
		}
		return true
	})
	return calls
}

// tokenCount reads the first positive count among path aliases.
func tokenCount(root gjson.Result, paths ...string) int {
	for _, p := range paths {
		if n := root.Get(p).Int(); n > 0 {
			return int(n)
		}
	}
	return 0
}
