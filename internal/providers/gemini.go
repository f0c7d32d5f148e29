package providers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// emptyRetries is how many extra calls an empty Gemini reply earns within a
// single stage.
const emptyRetries = 2

// Every harm category is unblocked. Code generation trips the default
// filters on benign input.
var geminiSafetySettings = []map[string]string{
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_CIVIC_INTEGRITY", "threshold": "BLOCK_NONE"},
}

// Gemini adapts the generateContent API.
type Gemini struct {
	api     *jsonClient
	profile profile
	retry   RetryPolicy
	logger  *zap.Logger
}

func newGemini(cfg Config) *Gemini {
	prof := profiles[TypeGemini]
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = prof.baseURL
	}
	return &Gemini{
		api: &jsonClient{
			provider: TypeGemini,
			http:     cfg.HTTPClient,
			baseURL:  baseURL,
			headers:  map[string]string{"x-goog-api-key": cfg.APIKey},
		},
		profile: prof,
		retry:   cfg.Retry,
		logger:  cfg.Logger.Named(string(TypeGemini)),
	}
}

// Type returns the provider type
func (p *Gemini) Type() Type {
	return TypeGemini
}

// ListModels returns model ids without the "models/" prefix.
func (p *Gemini) ListModels(ctx context.Context) ([]string, error) {
	raw, err := withRetry(ctx, p.retry, func(ctx context.Context) ([]byte, error) {
		return p.api.get(ctx, "/models?pageSize=1000")
	})
	if err != nil {
		return nil, err
	}
	var ids []string
	gjson.GetBytes(raw, "models.#.name").ForEach(func(_, name gjson.Result) bool {
		ids = append(ids, strings.TrimPrefix(name.String(), "models/"))
		return true
	})
	return ids, nil
}

// Chat runs the request through the resilience chain.
func (p *Gemini) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return resilientChat(ctx, TypeGemini, p.logger, req, p.chatWithEmptyRetry, p.ListModels)
}

// chatWithEmptyRetry repeats a call that came back empty, halving the
// thinking budget each time.
func (p *Gemini) chatWithEmptyRetry(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	budget := 0
	if p.profile.isReasoning(req.Model) {
		budget = effortBudget(req.ReasoningEffort)
	}

	var lastEmpty *EmptyResponseError
	for attempt := 0; attempt <= emptyRetries; attempt++ {
		resp, err := p.chatOnce(ctx, req, budget)
		if err == nil {
			return resp, nil
		}
		if !errors.As(err, &lastEmpty) {
			return nil, err
		}
		p.logger.Debug("empty reply, retrying with smaller thinking budget",
			zap.String("model", req.Model),
			zap.Int("attempt", attempt+1),
			zap.Int("thinking_budget", budget))
		budget /= 2
	}
	return nil, lastEmpty
}

func (p *Gemini) chatOnce(ctx context.Context, req *ChatRequest, thinkingBudget int) (*ChatResponse, error) {
	body := p.generateRequest(req, thinkingBudget)
	path := "/models/" + url.PathEscape(req.Model) + ":generateContent"
	raw, err := withRetry(ctx, p.retry, func(ctx context.Context) ([]byte, error) {
		return p.api.post(ctx, path, body)
	})
	if err != nil {
		return nil, err
	}

	root, rawMsg, err := rawJSON(raw)
	if err != nil {
		return nil, err
	}
	finish := root.Get("candidates.0.finishReason").String()
	out := &ChatResponse{
		Text:      extractText(root, geminiTextChain...),
		ToolCalls: extractToolCalls(root, geminiToolCallChain...),
		TokensIn:  tokenCount(root, "usageMetadata.promptTokenCount"),
		TokensOut: tokenCount(root, "usageMetadata.candidatesTokenCount") +
			int(root.Get("usageMetadata.thoughtsTokenCount").Int()),
		FinishReason: normalizeFinish(finish),
		Raw:          rawMsg,
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = FinishToolCalls
	}
	if out.empty() {
		block := root.Get("promptFeedback.blockReason").String()
		if block == "" && finish != "" && finish != "STOP" {
			block = finish
		}
		return nil, &EmptyResponseError{Provider: TypeGemini, Model: req.Model, BlockReason: block}
	}
	return out, nil
}

func (p *Gemini) generateRequest(req *ChatRequest, thinkingBudget int) map[string]any {
	msgs := req.Messages
	if p.profile.salt {
		msgs = applySalt(msgs)
	}
	system, rest := splitSystem(msgs)

	contents := make([]map[string]any, 0, len(rest))
	for _, m := range rest {
		switch {
		case m.Role == RoleTool:
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{{
					"functionResponse": map[string]any{
						"name":     m.Name,
						"response": map[string]any{"content": m.Content},
					},
				}},
			})
		case m.Role == RoleAssistant:
			parts := make([]map[string]any, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				parts = append(parts, map[string]any{"text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{"name": tc.Name, "args": toolInput(tc.Arguments)},
				})
			}
			contents = append(contents, map[string]any{"role": "model", "parts": parts})
		default:
			contents = append(contents, map[string]any{
				"role":  "user",
				"parts": []map[string]any{{"text": m.Content}},
			})
		}
	}

	genCfg := map[string]any{}
	if p.profile.isReasoning(req.Model) {
		genCfg["maxOutputTokens"] = p.profile.tokenBudget(req.MaxTokens)
		genCfg["thinkingConfig"] = map[string]any{"thinkingBudget": thinkingBudget}
	} else if req.MaxTokens != nil {
		genCfg["maxOutputTokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		genCfg["temperature"] = *req.Temperature
	}
	if len(req.ResponseSchema) > 0 {
		genCfg["responseMimeType"] = "application/json"
		genCfg["responseSchema"] = req.ResponseSchema
	}

	body := map[string]any{
		"contents":         contents,
		"safetySettings":   geminiSafetySettings,
		"generationConfig": genCfg,
	}
	if system != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": system}},
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  schemaOrEmpty(t.Parameters),
			})
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
		if req.ToolChoice != "" {
			body["toolConfig"] = map[string]any{"functionCallingConfig": geminiToolChoice(req.ToolChoice)}
		}
	}
	return body
}

func geminiToolChoice(choice string) map[string]any {
	switch strings.ToLower(choice) {
	case "auto":
		return map[string]any{"mode": "AUTO"}
	case "none":
		return map[string]any{"mode": "NONE"}
	case "required":
		return map[string]any{"mode": "ANY"}
	default:
		return map[string]any{"mode": "ANY", "allowedFunctionNames": []string{choice}}
	}
}
