package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"llm_router/internal/auth"
	"llm_router/internal/models"
	"llm_router/internal/providers"
	"llm_router/internal/ranking"
	"llm_router/internal/selector"
	"llm_router/internal/storage"
	"llm_router/internal/utils"
)

const testOwner = "user-1"

type fakeSelector struct {
	sel   *selector.Selection
	err   error
	calls []selector.Criteria
}

func (f *fakeSelector) Select(ctx context.Context, c selector.Criteria) (*selector.Selection, error) {
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	return f.sel, nil
}

type fakeCredentials map[string]*models.ProviderCredential

func (f fakeCredentials) Get(ctx context.Context, owner, provider string) (*models.ProviderCredential, error) {
	cred, ok := f[owner+"/"+provider]
	if !ok {
		return nil, storage.ErrCredentialNotFound
	}
	return cred, nil
}

type fakeProvider struct {
	typ   providers.Type
	resp  *providers.ChatResponse
	err   error
	panic bool

	mu      sync.Mutex
	reqs    []*providers.ChatRequest
	ctxErrs []error
}

func (p *fakeProvider) Type() providers.Type { return p.typ }

func (p *fakeProvider) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func (p *fakeProvider) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	p.mu.Unlock()
	if p.panic {
		panic("adapter bug")
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

type recordingFactory struct {
	provider *fakeProvider
	configs  []providers.Config
	types    []providers.Type
}

func (f *recordingFactory) build(t providers.Type, cfg providers.Config) (providers.Provider, error) {
	f.types = append(f.types, t)
	f.configs = append(f.configs, cfg)
	f.provider.typ = t
	return f.provider, nil
}

type memoryUsage struct {
	mu      sync.Mutex
	records []*models.UsageRecord
	err     error
}

func (m *memoryUsage) Record(ctx context.Context, rec *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func (m *memoryUsage) all() []*models.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.UsageRecord(nil), m.records...)
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string) (bool, error) { return false, nil }

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, errors.New("redis down")
}

type touchRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (t *touchRecorder) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, id)
	return nil
}

func (t *touchRecorder) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}

type harness struct {
	svc      *Service
	token    string
	key      *models.UniversalAPIKey
	keys     *auth.InMemoryAPIKeyStore
	selector *fakeSelector
	creds    fakeCredentials
	codec    *storage.Encryption
	provider *fakeProvider
	factory  *recordingFactory
	usage    *memoryUsage
	toucher  *touchRecorder
	deps     Dependencies
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	hexKey, err := storage.GenerateKey()
	require.NoError(t, err)
	codec, err := storage.NewEncryptionFromHex(hexKey)
	require.NoError(t, err)

	token, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	key := &models.UniversalAPIKey{ID: uuid.New(), OwnerUserID: testOwner, DisplayName: "test"}
	keys := auth.NewInMemoryAPIKeyStore()
	keys.Add(token, key)

	h := &harness{
		token: token,
		key:   key,
		keys:  keys,
		selector: &fakeSelector{sel: &selector.Selection{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			Reasoning: "Selected openai/gpt-4o-mini for strategy cheapest.",
			FallbackChain: []selector.Candidate{
				{Provider: "anthropic", Model: "claude-3-5-haiku"},
			},
			Suite:    models.SuiteGeneral,
			Strategy: ranking.StrategyCheapest,
		}},
		creds:    fakeCredentials{},
		codec:    codec,
		provider: &fakeProvider{resp: &providers.ChatResponse{Text: "a b c", TokensIn: 12, TokensOut: 3, FinishReason: providers.FinishStop}},
		usage:    &memoryUsage{},
		toucher:  &touchRecorder{},
	}
	h.factory = &recordingFactory{provider: h.provider}
	h.addCredential(t, "openai", models.CredentialPayload{APIKey: "sk-openai"}, true)
	h.addCredential(t, "anthropic", models.CredentialPayload{APIKey: "sk-ant", BaseURL: "https://proxy.example.com"}, true)

	h.deps = Dependencies{
		APIKeys:     keys,
		KeyToucher:  h.toucher,
		Selector:    h.selector,
		Credentials: h.creds,
		Codec:       codec,
		Factory:     h.factory.build,
		Usage:       h.usage,
		Logger:      zap.NewNop(),
	}
	h.svc = NewService(h.deps)
	return h
}

func (h *harness) addCredential(t *testing.T, provider string, payload models.CredentialPayload, active bool) {
	t.Helper()
	blob, err := h.codec.EncryptJSON(payload.ToMap())
	require.NoError(t, err)
	h.creds[testOwner+"/"+provider] = &models.ProviderCredential{
		ID:               uuid.New(),
		OwnerUserID:      testOwner,
		Provider:         provider,
		EncryptedPayload: blob,
		IsActive:         active,
	}
}

func (h *harness) rebuild(mut func(*Dependencies)) {
	mut(&h.deps)
	h.svc = NewService(h.deps)
}

func (h *harness) handle(t *testing.T, body string) (*Result, error) {
	t.Helper()
	return h.svc.Handle(context.Background(), h.token, "req-1", strings.NewReader(body))
}

const simpleBody = `{"model":"auto","messages":[{"role":"user","content":"hi"}]}`

func TestHandle_RoutedSuccess(t *testing.T) {
	h := newHarness(t)

	res, err := h.handle(t, `{"model":"router/cheapest","temperature":0.2,"max_tokens":50,
		"messages":[{"role":"system","content":"be brief"},{"role":"user","content":[{"type":"text","text":"hi"}]}]}`)
	require.NoError(t, err)
	require.NotNil(t, res.Completion)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "openai", res.Provider)

	c := res.Completion
	assert.True(t, strings.HasPrefix(c.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", c.Object)
	assert.Equal(t, "gpt-4o-mini", c.Model)
	assert.Equal(t, "openai", c.Provider)
	require.Len(t, c.Choices, 1)
	require.NotNil(t, c.Choices[0].Message.Content)
	assert.Equal(t, "a b c", *c.Choices[0].Message.Content)
	assert.Equal(t, "stop", c.Choices[0].FinishReason)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, c.Usage)
	assert.Equal(t, "cheapest", c.Routing.Strategy)
	assert.Equal(t, []selector.Candidate{{Provider: "anthropic", Model: "claude-3-5-haiku"}}, c.Routing.FallbackChain)

	require.Len(t, h.selector.calls, 1)
	assert.Equal(t, ranking.StrategyCheapest, h.selector.calls[0].Strategy)
	assert.Equal(t, testOwner, h.selector.calls[0].OwnerUserID)

	require.Len(t, h.factory.configs, 1)
	assert.Equal(t, providers.TypeOpenAI, h.factory.types[0])
	assert.Equal(t, "sk-openai", h.factory.configs[0].APIKey)

	require.Len(t, h.provider.reqs, 1)
	sent := h.provider.reqs[0]
	assert.Equal(t, "gpt-4o-mini", sent.Model)
	require.NotNil(t, sent.Temperature)
	assert.InDelta(t, 0.2, *sent.Temperature, 1e-9)
	require.NotNil(t, sent.MaxTokens)
	assert.Equal(t, 50, *sent.MaxTokens)
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "hi", sent.Messages[1].Content)

	records := h.usage.all()
	require.Len(t, records, 1)
	rec := records[0]
	assert.True(t, rec.Success)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, h.key.ID, rec.APIKeyID)
	assert.Equal(t, "openai", rec.SelectedProvider)
	assert.Equal(t, "gpt-4o-mini", rec.SelectedModel)
	assert.Equal(t, 12, rec.TokensIn)
	assert.Equal(t, 3, rec.TokensOut)
	assert.Greater(t, rec.CostEstimate, 0.0)
	assert.False(t, rec.ErrorMessage.Valid)

	assert.Eventually(t, func() bool { return h.toucher.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandle_DirectAndInferredModels(t *testing.T) {
	tests := []struct {
		name         string
		model        string
		wantProvider providers.Type
		wantModel    string
		wantStrategy string
	}{
		{"literal provider/model", "anthropic/claude-3-5-sonnet", providers.TypeAnthropic, "claude-3-5-sonnet", "direct"},
		{"inferred from name", "gpt-4o", providers.TypeOpenAI, "gpt-4o", "inferred"},
		{"openrouter keeps nested path", "openrouter/meta/llama-3", providers.TypeOpenRouter, "meta/llama-3", "direct"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.addCredential(t, "openrouter", models.CredentialPayload{APIKey: "sk-or"}, true)

			res, err := h.handle(t, `{"model":"`+tt.model+`","messages":[{"role":"user","content":"hi"}]}`)
			require.NoError(t, err)

			assert.Empty(t, h.selector.calls)
			require.Len(t, h.factory.types, 1)
			assert.Equal(t, tt.wantProvider, h.factory.types[0])
			assert.Equal(t, tt.wantModel, h.provider.reqs[0].Model)
			assert.Equal(t, tt.wantStrategy, res.Completion.Routing.Strategy)
			assert.NotNil(t, res.Completion.Routing.FallbackChain)
			assert.Empty(t, res.Completion.Routing.FallbackChain)
		})
	}
}

func TestHandle_CredentialBaseURLReachesAdapter(t *testing.T) {
	h := newHarness(t)

	_, err := h.handle(t, `{"model":"anthropic/claude-3-5-haiku","messages":[{"role":"user","content":"hi"}]}`)
	require.NoError(t, err)

	require.Len(t, h.factory.configs, 1)
	assert.Equal(t, "sk-ant", h.factory.configs[0].APIKey)
	assert.Equal(t, "https://proxy.example.com", h.factory.configs[0].BaseURL)
}

func TestHandle_ToolsRequireToolCalling(t *testing.T) {
	h := newHarness(t)
	h.provider.resp = &providers.ChatResponse{
		ToolCalls: []providers.ToolCall{{ID: "call_1", Name: "lookup", Arguments: `{"q":"x"}`}},
		TokensIn:  5,
	}

	res, err := h.handle(t, `{"model":"auto","messages":[{"role":"user","content":"hi"}],
		"tools":[{"type":"function","function":{"name":"lookup","parameters":{"type":"object"}}}],
		"tool_choice":{"type":"function","function":{"name":"lookup"}},
		"routing":{"strategy":"fastest","max_latency_ms":900,"excluded_providers":["groq"]}}`)
	require.NoError(t, err)

	require.Len(t, h.selector.calls, 1)
	c := h.selector.calls[0]
	require.NotNil(t, c.RequireToolCalling)
	assert.True(t, *c.RequireToolCalling)
	assert.Equal(t, ranking.StrategyFastest, c.Strategy)
	require.NotNil(t, c.MaxLatencyMs)
	assert.Equal(t, int64(900), *c.MaxLatencyMs)
	assert.Equal(t, []string{"groq"}, c.ExcludedProviders)
	assert.Nil(t, c.ExcludedModels)

	sent := h.provider.reqs[0]
	require.Len(t, sent.Tools, 1)
	assert.Equal(t, "lookup", sent.Tools[0].Name)
	assert.Equal(t, "lookup", sent.ToolChoice)

	choice := res.Completion.Choices[0]
	assert.Equal(t, "tool_calls", choice.FinishReason)
	assert.Nil(t, choice.Message.Content)
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.Equal(t, "function", choice.Message.ToolCalls[0].Type)
	assert.Equal(t, "lookup", choice.Message.ToolCalls[0].Function.Name)
}

func TestHandle_AliasOverridesRoutingStrategy(t *testing.T) {
	h := newHarness(t)

	_, err := h.handle(t, `{"model":"router/reasoning","messages":[{"role":"user","content":"hi"}],"routing":{"strategy":"cheapest"}}`)
	require.NoError(t, err)
	assert.Equal(t, ranking.StrategyBestForReasoning, h.selector.calls[0].Strategy)
}

func TestHandle_AuthenticationFailures(t *testing.T) {
	h := newHarness(t)

	revokedToken, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	h.keys.Add(revokedToken, &models.UniversalAPIKey{ID: uuid.New(), OwnerUserID: testOwner, Revoked: true})

	unknown, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"malformed", "not-a-key"},
		{"unknown", unknown},
		{"revoked", revokedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.svc.Handle(context.Background(), tt.token, "", strings.NewReader(simpleBody))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrAuthentication)
			assert.Equal(t, StateErrored, res.State)
		})
	}

	assert.Empty(t, h.usage.all(), "unauthenticated requests leave no usage record")
	assert.Empty(t, h.factory.types)
}

func TestHandle_RateLimited(t *testing.T) {
	h := newHarness(t)
	h.rebuild(func(d *Dependencies) { d.RateLimit = denyLimiter{} })

	_, err := h.handle(t, simpleBody)
	assert.ErrorIs(t, err, ErrRateLimited)

	records := h.usage.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].ErrorMessage.String, "rate limit")
}

func TestHandle_RateLimiterFailureFailsOpen(t *testing.T) {
	h := newHarness(t)
	h.rebuild(func(d *Dependencies) { d.RateLimit = brokenLimiter{} })

	_, err := h.handle(t, simpleBody)
	assert.NoError(t, err)
}

func TestHandle_CredentialProblems(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		h := newHarness(t)
		delete(h.creds, testOwner+"/openai")

		_, err := h.handle(t, simpleBody)
		assert.ErrorIs(t, err, ErrCredentialMissing)
		assert.Empty(t, h.factory.types, "no shared key fallback")
	})

	t.Run("inactive", func(t *testing.T) {
		h := newHarness(t)
		h.addCredential(t, "openai", models.CredentialPayload{APIKey: "sk-openai"}, false)

		_, err := h.handle(t, simpleBody)
		assert.ErrorIs(t, err, ErrCredentialMissing)
	})

	for _, baseURL := range []string{"http://proxy.example.com", "https://169.254.169.254", "https://10.1.2.3/v1"} {
		t.Run("base url "+baseURL, func(t *testing.T) {
			h := newHarness(t)
			h.addCredential(t, "openai", models.CredentialPayload{APIKey: "sk-openai", BaseURL: baseURL}, true)

			_, err := h.handle(t, simpleBody)
			assert.ErrorIs(t, err, ErrCredentialMissing)
			assert.ErrorIs(t, err, providers.ErrUnsafeBaseURL)
			assert.Empty(t, h.factory.types, "adapter never built")
		})
	}

	t.Run("tampered payload", func(t *testing.T) {
		h := newHarness(t)
		cred := h.creds[testOwner+"/openai"]
		raw := []byte(cred.EncryptedPayload)
		raw[len(raw)/2] ^= 0x01
		cred.EncryptedPayload = string(raw)

		res, err := h.handle(t, simpleBody)
		assert.ErrorIs(t, err, storage.ErrDecryption)
		assert.Equal(t, "openai", res.Provider)

		records := h.usage.all()
		require.Len(t, records, 1)
		assert.False(t, records[0].Success)
	})
}

func TestHandle_InvalidBody(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"no messages", `{"model":"auto","messages":[]}`},
		{"bad role", `{"model":"auto","messages":[{"role":"robot","content":"x"}]}`},
		{"temperature out of range", `{"model":"auto","temperature":3,"messages":[{"role":"user","content":"x"}]}`},
		{"bad routing strategy", `{"model":"auto","messages":[{"role":"user","content":"x"}],"routing":{"strategy":"random"}}`},
		{"unknown alias", `{"model":"router/unknown","messages":[{"role":"user","content":"x"}]}`},
		{"unknown bare model", `{"model":"mystery-7b","messages":[{"role":"user","content":"x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.handle(t, tt.body)
			require.Error(t, err)
			assert.True(t, utils.IsValidationError(err), "got %v", err)
		})
	}
	assert.Empty(t, h.factory.types)
}

func TestHandle_SelectorErrorsPassThrough(t *testing.T) {
	h := newHarness(t)
	h.selector.err = &selector.NoMatchingModelError{Constraint: selector.ConstraintMaxCost, Hint: "raise the ceiling"}

	res, err := h.handle(t, simpleBody)
	var nm *selector.NoMatchingModelError
	require.ErrorAs(t, err, &nm)
	assert.Equal(t, selector.ConstraintMaxCost, nm.Constraint)
	assert.Empty(t, res.Provider)
	assert.Len(t, h.usage.all(), 1)
}

func TestHandle_ProviderFailureRecorded(t *testing.T) {
	h := newHarness(t)
	h.provider.err = &providers.ProviderError{Provider: providers.TypeOpenAI, Status: 402, Message: "insufficient credit"}

	_, err := h.handle(t, simpleBody)
	require.Error(t, err)
	assert.True(t, providers.IsCreditExhausted(err))

	records := h.usage.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, "openai", records[0].SelectedProvider)
	assert.Equal(t, 0.0, records[0].CostEstimate)
	assert.Contains(t, records[0].ErrorMessage.String, "insufficient credit")
}

func TestHandle_UsageWriteFailureIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.usage.err = errors.New("db down")

	res, err := h.handle(t, simpleBody)
	require.NoError(t, err)
	assert.NotNil(t, res.Completion)
}

func TestHandle_DispatchIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Handle(ctx, h.token, "req-2", strings.NewReader(simpleBody))
	require.NoError(t, err)
	require.Len(t, h.provider.ctxErrs, 1)
	assert.NoError(t, h.provider.ctxErrs[0])
	assert.Len(t, h.usage.all(), 1)
}

func TestHandle_PanicBecomesError(t *testing.T) {
	h := newHarness(t)
	h.provider.panic = true

	res, err := h.handle(t, simpleBody)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic while dispatching")
	assert.Equal(t, StateErrored, res.State)
	assert.Len(t, h.usage.all(), 1)
}

func TestService_Authenticate(t *testing.T) {
	h := newHarness(t)

	key, err := h.svc.Authenticate(context.Background(), h.token)
	require.NoError(t, err)
	assert.Equal(t, h.key.ID, key.ID)

	_, err = h.svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "key_resolving", StateKeyResolving.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.Equal(t, "unknown", State(99).String())
}
