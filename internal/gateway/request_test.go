package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_router/internal/providers"
)

func TestDecodeRequest_ContentShapes(t *testing.T) {
	req, err := DecodeRequest(strings.NewReader(`{"model":"auto","messages":[
		{"role":"developer","content":"rules"},
		{"role":"user","content":[{"type":"text","text":"hello "},{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"world"}]},
		{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function","function":{"name":"f","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"c1","content":"42"}
	]}`))
	require.NoError(t, err)

	cr := req.toChatRequest("gpt-4o")
	require.Len(t, cr.Messages, 4)
	assert.Equal(t, providers.RoleSystem, cr.Messages[0].Role)
	assert.Equal(t, "hello world", cr.Messages[1].Content)
	assert.Empty(t, cr.Messages[2].Content)
	require.Len(t, cr.Messages[2].ToolCalls, 1)
	assert.Equal(t, "f", cr.Messages[2].ToolCalls[0].Name)
	assert.Equal(t, "c1", cr.Messages[3].ToolCallID)
}

func TestDecodeRequest_RejectsObjectContent(t *testing.T) {
	_, err := DecodeRequest(strings.NewReader(`{"model":"auto","messages":[{"role":"user","content":{"a":1}}]}`))
	assert.Error(t, err)
}

func TestToChatRequest_ResponseFormat(t *testing.T) {
	tests := []struct {
		name   string
		format string
		want   string
	}{
		{"none", ``, ""},
		{"text", `,"response_format":{"type":"text"}`, ""},
		{"json object", `,"response_format":{"type":"json_object"}`, `{"type":"object"}`},
		{"json schema", `,"response_format":{"type":"json_schema","json_schema":{"name":"s","schema":{"type":"array"}}}`, `{"type":"array"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"model":"auto","messages":[{"role":"user","content":"x"}]` + tt.format + `}`
			req, err := DecodeRequest(strings.NewReader(body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(req.toChatRequest("m").ResponseSchema))
		})
	}
}

func TestToolChoice(t *testing.T) {
	assert.Equal(t, "", toolChoice(nil))
	assert.Equal(t, "auto", toolChoice([]byte(`"auto"`)))
	assert.Equal(t, "lookup", toolChoice([]byte(`{"type":"function","function":{"name":"lookup"}}`)))
}
