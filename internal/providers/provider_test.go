package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, sleep: noSleep}
}

// newTestProvider points an adapter of type t at srv.
func newTestProvider(t *testing.T, typ Type, srv *httptest.Server, attempts int) Provider {
	t.Helper()
	base := srv.URL
	switch typ {
	case TypeAnthropic:
	case TypeGemini:
		base += "/v1beta"
	default:
		base += "/v1"
	}
	p, err := New(typ, Config{APIKey: "test-key", BaseURL: base, HTTPClient: srv.Client(), Retry: testPolicy(attempts)})
	require.NoError(t, err)
	return p
}

// readBody decodes a captured request body for assertions.
func readBody(t *testing.T, r *http.Request) gjson.Result {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	require.True(t, json.Valid(b), "request body must be JSON: %s", b)
	return gjson.ParseBytes(b)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNew(t *testing.T) {
	for _, typ := range Types() {
		t.Run(string(typ), func(t *testing.T) {
			p, err := New(typ, Config{APIKey: "k"})
			require.NoError(t, err)
			assert.Equal(t, typ, p.Type())
		})
	}

	t.Run("unknown type", func(t *testing.T) {
		_, err := New(Type("bedrock"), Config{APIKey: "k"})
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := New(TypeOpenAI, Config{})
		assert.Error(t, err)
	})
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"openai", TypeOpenAI, false},
		{" Gemini ", TypeGemini, false},
		{"OpenRouter", TypeOpenRouter, false},
		{"vertexai", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		model string
		want  Type
		ok    bool
	}{
		{"gpt-4o-mini", TypeOpenAI, true},
		{"o3-mini", TypeOpenAI, true},
		{"claude-sonnet-4-20250514", TypeAnthropic, true},
		{"gemini-2.5-flash", TypeGemini, true},
		{"grok-4", TypeXAI, true},
		{"deepseek-chat", TypeDeepSeek, true},
		{"magistral-medium", TypeMistral, true},
		{"llama-3.3-70b-versatile", TypeGroq, true},
		{"something-else", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, ok := InferType(tt.model)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProfileTokenBudget(t *testing.T) {
	prof := profiles[TypeOpenAI]
	small, large := 100, 5000

	assert.Equal(t, 8000, prof.tokenBudget(nil))
	assert.Equal(t, 8000, prof.tokenBudget(&small))
	assert.Equal(t, 20000, prof.tokenBudget(&large))
}

func TestApplySalt(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}
	salted := applySalt(msgs)

	require.Len(t, salted, 2)
	assert.Equal(t, "be brief", msgs[0].Content, "input must not be modified")
	assert.True(t, len(salted[0].Content) > len("be brief"))
	marker := salted[0].Content[len("be brief"):]
	for _, r := range marker {
		assert.Contains(t, []rune{'\u200b', '\u200c'}, r)
	}
	assert.Equal(t, "hi", salted[1].Content)
}
