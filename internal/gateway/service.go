// Package gateway runs a chat completion through authentication, model
// selection, credential resolution, dispatch, translation and usage logging.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"llm_router/internal/auth"
	"llm_router/internal/metrics"
	"llm_router/internal/models"
	"llm_router/internal/pricing"
	"llm_router/internal/providers"
	"llm_router/internal/ratelimit"
	"llm_router/internal/selector"
	"llm_router/internal/storage"
)

const (
	// DefaultDispatchTimeout bounds one dispatch including retries and
	// fallback stages.
	DefaultDispatchTimeout = 5 * time.Minute

	sideEffectTimeout = 5 * time.Second
)

// KeyToucher records when a universal key was last used.
type KeyToucher interface {
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// CredentialStore loads a user's encrypted provider credential.
type CredentialStore interface {
	Get(ctx context.Context, ownerUserID, provider string) (*models.ProviderCredential, error)
}

// Decrypter opens credential payloads. *storage.Encryption satisfies it.
type Decrypter interface {
	DecryptJSON(blob string) (map[string]any, error)
}

// ModelSelector picks a model for routed requests.
type ModelSelector interface {
	Select(ctx context.Context, c selector.Criteria) (*selector.Selection, error)
}

// Dependencies aggregates everything the gateway calls.
type Dependencies struct {
	APIKeys     auth.APIKeyStore
	KeyToucher  KeyToucher
	RateLimit   ratelimit.Limiter
	Selector    ModelSelector
	Credentials CredentialStore
	Codec       Decrypter
	Factory     providers.Factory
	Prices      *pricing.Table
	Usage       storage.UsageWriter
	Metrics     *metrics.Metrics
	Logger      *zap.Logger

	HTTPClient      *http.Client
	Retry           providers.RetryPolicy
	DispatchTimeout time.Duration
}

// Service handles chat completions.
type Service struct {
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time
}

// NewService fills in defaults for optional dependencies.
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RateLimit == nil {
		deps.RateLimit = ratelimit.NewNoopLimiter()
	}
	if deps.Factory == nil {
		deps.Factory = providers.New
	}
	if deps.Prices == nil {
		deps.Prices = pricing.Default()
	}
	if deps.DispatchTimeout <= 0 {
		deps.DispatchTimeout = DefaultDispatchTimeout
	}
	return &Service{
		deps:   deps,
		logger: deps.Logger.Named("gateway"),
		now:    time.Now,
	}
}

// Result is what the HTTP layer needs to answer. It is returned even on
// failure so callers can label metrics with the chosen provider.
type Result struct {
	Completion *ChatCompletion
	Stream     bool
	Provider   string
	State      State
}

// exchange carries one request through the states.
type exchange struct {
	id      string
	state   State
	started time.Time

	key    *models.UniversalAPIKey
	req    *ChatCompletionRequest
	target target

	provider providers.Type
	model    string
	routing  RoutingInfo

	resp *providers.ChatResponse
}

func (ex *exchange) to(s State) { ex.state = s }

// Handle authenticates token, decodes body and runs the request. Every
// request that got past authentication leaves a usage record behind.
func (s *Service) Handle(ctx context.Context, token, requestID string, body io.Reader) (res *Result, err error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ex := &exchange{id: requestID, state: StateAuthenticating, started: s.now()}
	res = &Result{}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while %s: %v", ex.state, r)
		}
		res.Provider = string(ex.provider)
		if err == nil {
			return
		}
		failedIn := ex.state
		ex.to(StateErrored)
		res.State = StateErrored
		s.logFailure(ex, failedIn, err)
		if ex.key != nil {
			s.recordUsage(ctx, ex, err)
		}
	}()

	if err := s.authenticate(ctx, ex, token); err != nil {
		return res, err
	}

	req, err := DecodeRequest(body)
	if err != nil {
		return res, err
	}
	ex.req = req
	res.Stream = req.Stream

	ex.to(StateSelecting)
	if err := s.selectModel(ctx, ex); err != nil {
		return res, err
	}

	ex.to(StateKeyResolving)
	payload, err := s.resolveCredential(ctx, ex)
	if err != nil {
		return res, err
	}

	ex.to(StateDispatching)
	if err := s.dispatch(ctx, ex, payload); err != nil {
		return res, err
	}

	ex.to(StateTranslating)
	res.Completion = newCompletion(ex.resp, string(ex.provider), ex.model, ex.routing, s.now())

	ex.to(StateLogging)
	s.recordUsage(ctx, ex, nil)

	ex.to(StateDone)
	res.State = StateDone
	return res, nil
}

// Authenticate resolves a bearer token to a usable key without rate
// limiting or touching it. Management endpoints use it.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.UniversalAPIKey, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrAuthentication)
	}
	key, err := s.deps.APIKeys.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) || errors.Is(err, auth.ErrKeyRevoked) {
			return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}
	return key, nil
}

func (s *Service) authenticate(ctx context.Context, ex *exchange, token string) error {
	key, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	ex.key = key

	s.touch(ctx, key.ID)

	allowed, err := s.deps.RateLimit.Allow(ctx, key.ID.String())
	if err != nil {
		// Fail open: the limiter is an optional Redis dependency.
		s.logger.Warn("rate limiter unavailable",
			zap.String("request_id", ex.id),
			zap.Error(err),
		)
		return nil
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// touch updates last_used_at in the background.
func (s *Service) touch(ctx context.Context, id uuid.UUID) {
	if s.deps.KeyToucher == nil {
		return
	}
	at := s.now().UTC()
	detached := context.WithoutCancel(ctx)
	go func() {
		tctx, cancel := context.WithTimeout(detached, sideEffectTimeout)
		defer cancel()
		if err := s.deps.KeyToucher.TouchLastUsed(tctx, id, at); err != nil {
			s.logger.Debug("failed to touch API key", zap.String("key_id", id.String()), zap.Error(err))
		}
	}()
}

func (s *Service) selectModel(ctx context.Context, ex *exchange) error {
	t, err := resolveTarget(ex.req.Model)
	if err != nil {
		return err
	}
	ex.target = t

	if !t.routed {
		ex.provider = t.provider
		ex.model = t.model
		ex.routing = RoutingInfo{Strategy: t.label, Reason: t.reason()}
		return nil
	}

	sel, err := s.deps.Selector.Select(ctx, t.criteria(ex.key.OwnerUserID, ex.req))
	if err != nil {
		return err
	}

	provider, err := providers.ParseType(sel.Provider)
	if err != nil {
		return fmt.Errorf("ranking names an unsupported provider: %w", err)
	}
	ex.provider = provider
	ex.model = sel.Model
	ex.routing = RoutingInfo{
		Strategy:      string(sel.Strategy),
		Reason:        sel.Reasoning,
		FallbackChain: sel.FallbackChain,
	}
	return nil
}

func (s *Service) resolveCredential(ctx context.Context, ex *exchange) (models.CredentialPayload, error) {
	cred, err := s.deps.Credentials.Get(ctx, ex.key.OwnerUserID, string(ex.provider))
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			return models.CredentialPayload{}, fmt.Errorf("%w: %s", ErrCredentialMissing, ex.provider)
		}
		return models.CredentialPayload{}, err
	}
	if !cred.IsActive {
		return models.CredentialPayload{}, fmt.Errorf("%w: %s credential is inactive", ErrCredentialMissing, ex.provider)
	}

	plain, err := s.deps.Codec.DecryptJSON(cred.EncryptedPayload)
	if err != nil {
		return models.CredentialPayload{}, err
	}
	payload := models.CredentialPayloadFromMap(plain)
	if payload.APIKey == "" {
		return models.CredentialPayload{}, fmt.Errorf("%w: payload has no api_key", storage.ErrDecryption)
	}
	if err := providers.CheckBaseURL(payload.BaseURL); err != nil {
		return models.CredentialPayload{}, fmt.Errorf("%w: %s credential: %w", ErrCredentialMissing, ex.provider, err)
	}
	return payload, nil
}

func (s *Service) dispatch(ctx context.Context, ex *exchange, payload models.CredentialPayload) error {
	provider, err := s.deps.Factory(ex.provider, providers.Config{
		APIKey:     payload.APIKey,
		BaseURL:    payload.BaseURL,
		HTTPClient: s.deps.HTTPClient,
		Retry:      s.deps.Retry,
		Logger:     s.deps.Logger.Named("provider").With(zap.String("provider", string(ex.provider))),
	})
	if err != nil {
		return fmt.Errorf("failed to build %s adapter: %w", ex.provider, err)
	}

	// The upstream call survives a client disconnect; only the dispatch
	// timeout ends it.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.DispatchTimeout)
	defer cancel()

	start := s.now()
	resp, err := provider.Chat(dctx, ex.req.toChatRequest(ex.model))
	s.deps.Metrics.ObserveProviderLatency(string(ex.provider), s.now().Sub(start))
	if err != nil {
		return err
	}
	ex.resp = resp
	return nil
}

// recordUsage writes the audit row. Failures are logged and dropped.
func (s *Service) recordUsage(ctx context.Context, ex *exchange, failure error) {
	if s.deps.Usage == nil {
		return
	}

	rec := &models.UsageRecord{
		ID:               uuid.New(),
		OwnerUserID:      ex.key.OwnerUserID,
		APIKeyID:         ex.key.ID,
		RequestID:        ex.id,
		SelectedProvider: string(ex.provider),
		SelectedModel:    ex.model,
		RoutingReason:    ex.routing.Reason,
		LatencyMs:        s.now().Sub(ex.started).Milliseconds(),
		Success:          failure == nil,
		CreatedAt:        s.now().UTC(),
	}
	if ex.resp != nil {
		rec.TokensIn = ex.resp.TokensIn
		rec.TokensOut = ex.resp.TokensOut
		rec.CostEstimate = s.deps.Prices.Estimate(rec.SelectedProvider, rec.SelectedModel, rec.TokensIn, rec.TokensOut)
	}
	if failure != nil {
		rec.ErrorMessage = sql.NullString{String: failure.Error(), Valid: true}
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := s.deps.Usage.Record(lctx, rec); err != nil {
		s.logger.Error("failed to record usage",
			zap.String("request_id", ex.id),
			zap.Error(err),
		)
	}
}

func (s *Service) logFailure(ex *exchange, failedIn State, err error) {
	fields := []zap.Field{
		zap.String("request_id", ex.id),
		zap.Stringer("state", failedIn),
		zap.String("provider", string(ex.provider)),
		zap.String("model", ex.model),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, storage.ErrDecryption):
		s.logger.Error("credential payload could not be decrypted", fields...)
	case errors.Is(err, ErrAuthentication), errors.Is(err, ErrRateLimited):
		s.logger.Debug("request rejected", fields...)
	default:
		s.logger.Warn("request failed", fields...)
	}
}
