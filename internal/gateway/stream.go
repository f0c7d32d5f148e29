package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ChatCompletionChunk is one server-sent event of a streamed completion.
type ChatCompletionChunk struct {
	ID       string        `json:"id"`
	Object   string        `json:"object"`
	Created  int64         `json:"created"`
	Model    string        `json:"model"`
	Choices  []ChunkChoice `json:"choices"`
	Usage    *Usage        `json:"usage,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Routing  *RoutingInfo  `json:"routing,omitempty"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type Delta struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ToolCallSpec `json:"tool_calls,omitempty"`
}

// splitWords cuts text at every space and gives each piece a trailing
// space: "a b c" becomes "a ", "b ", "c ". Runs of spaces survive as " "
// pieces so the joined chunks reproduce the text plus at most one space.
func splitWords(text string) []string {
	if text == "" {
		return nil
	}
	pieces := strings.Split(text, " ")
	if pieces[len(pieces)-1] == "" {
		pieces = pieces[:len(pieces)-1]
	}
	words := make([]string, 0, len(pieces))
	for _, w := range pieces {
		words = append(words, w+" ")
	}
	return words
}

// Chunks replays a finished completion as stream chunks: one per word, one
// carrying tool calls if any, then the final chunk with the finish reason,
// usage and routing.
func Chunks(c *ChatCompletion) []ChatCompletionChunk {
	choice := c.Choices[0]

	chunk := func(d Delta, finish *string) ChatCompletionChunk {
		return ChatCompletionChunk{
			ID:      c.ID,
			Object:  "chat.completion.chunk",
			Created: c.Created,
			Model:   c.Model,
			Choices: []ChunkChoice{{Index: 0, Delta: d, FinishReason: finish}},
		}
	}

	var out []ChatCompletionChunk
	role := "assistant"
	take := func() string {
		r := role
		role = ""
		return r
	}

	if choice.Message.Content != nil {
		for _, w := range splitWords(*choice.Message.Content) {
			out = append(out, chunk(Delta{Role: take(), Content: w}, nil))
		}
	}

	if len(choice.Message.ToolCalls) > 0 {
		calls := make([]ToolCallSpec, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			idx := i
			tc.Index = &idx
			calls[i] = tc
		}
		out = append(out, chunk(Delta{Role: take(), ToolCalls: calls}, nil))
	}

	finish := choice.FinishReason
	last := chunk(Delta{Role: take()}, &finish)
	usage := c.Usage
	routing := c.Routing
	last.Usage = &usage
	last.Provider = c.Provider
	last.Routing = &routing
	return append(out, last)
}

// WriteStream writes the chunks of c as SSE frames followed by the [DONE]
// marker, flushing after each frame when w supports it.
func WriteStream(w io.Writer, c *ChatCompletion) error {
	flusher, _ := w.(http.Flusher)

	for _, ch := range Chunks(c) {
		data, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("failed to encode chunk: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
