package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"llm_router/internal/middleware"
	"llm_router/internal/models"
	"llm_router/internal/providers"
	"llm_router/internal/storage"
	"llm_router/internal/utils"
)

// CredentialRepository is the subset of the credential repository the
// handler needs.
type CredentialRepository interface {
	Get(ctx context.Context, ownerUserID, provider string) (*models.ProviderCredential, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]*models.ProviderCredential, error)
	Upsert(ctx context.Context, cred *models.ProviderCredential) error
	RecordValidation(ctx context.Context, ownerUserID, provider string, at time.Time, validationErr error) error
	Delete(ctx context.Context, ownerUserID, provider string) error
}

// Codec seals and opens credential payloads.
type Codec interface {
	EncryptJSON(data map[string]any) (string, error)
	DecryptJSON(blob string) (map[string]any, error)
}

// CredentialsHandler manages the caller's provider credentials.
type CredentialsHandler struct {
	repo       CredentialRepository
	codec      Codec
	factory    providers.Factory
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// PutCredentialRequest is the body of PUT /v1/credentials/{provider}.
type PutCredentialRequest struct {
	APIKey  string `json:"api_key" validate:"required"`
	BaseURL string `json:"base_url,omitempty" validate:"omitempty,url"`
}

// CredentialResponse describes a credential without its secret.
type CredentialResponse struct {
	Provider            string     `json:"provider"`
	IsActive            bool       `json:"is_active"`
	LastValidatedAt     *time.Time `json:"last_validated_at,omitempty"`
	LastValidationError string     `json:"last_validation_error,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toCredentialResponse(c *models.ProviderCredential) CredentialResponse {
	return CredentialResponse{
		Provider:            c.Provider,
		IsActive:            c.IsActive,
		LastValidatedAt:     c.LastValidatedAt,
		LastValidationError: c.LastValidationError.String,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

// List handles GET /v1/credentials
func (h *CredentialsHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	creds, err := h.repo.ListByOwner(r.Context(), caller.OwnerUserID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to list credentials")
		return
	}

	out := make([]CredentialResponse, 0, len(creds))
	for _, c := range creds {
		out = append(out, toCredentialResponse(c))
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}

// Put handles PUT /v1/credentials/{provider}: encrypt, upsert, then
// validate live so the response shows whether the key works.
func (h *CredentialsHandler) Put(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	provider, ok := h.providerParam(w, r)
	if !ok {
		return
	}

	var req PutCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid_request_error", "invalid request payload")
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		writeError(w, err)
		return
	}
	if err := providers.CheckBaseURL(req.BaseURL); err != nil {
		writeError(w, &utils.ValidationError{Message: err.Error(), Fields: map[string]string{"base_url": err.Error()}})
		return
	}

	payload := models.CredentialPayload{APIKey: req.APIKey, BaseURL: req.BaseURL}
	blob, err := h.codec.EncryptJSON(payload.ToMap())
	if err != nil {
		h.logger.Error("failed to encrypt credential", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to encrypt credential")
		return
	}

	cred := &models.ProviderCredential{
		OwnerUserID:      caller.OwnerUserID,
		Provider:         string(provider),
		EncryptedPayload: blob,
	}
	if err := h.repo.Upsert(r.Context(), cred); err != nil {
		h.logger.Error("failed to store credential", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to store credential")
		return
	}

	h.validateAndRespond(w, r, caller.OwnerUserID, provider, payload)
}

// Validate handles POST /v1/credentials/{provider}/validate
func (h *CredentialsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	provider, ok := h.providerParam(w, r)
	if !ok {
		return
	}

	cred, err := h.repo.Get(r.Context(), caller.OwnerUserID, string(provider))
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "not_found", "credential not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to load credential")
		return
	}

	plain, err := h.codec.DecryptJSON(cred.EncryptedPayload)
	if err != nil {
		h.logger.Error("credential payload could not be decrypted",
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}

	h.validateAndRespond(w, r, caller.OwnerUserID, provider, models.CredentialPayloadFromMap(plain))
}

// Delete handles DELETE /v1/credentials/{provider}
func (h *CredentialsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	provider, ok := h.providerParam(w, r)
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), caller.OwnerUserID, string(provider)); err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "not_found", "credential not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to delete credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CredentialsHandler) providerParam(w http.ResponseWriter, r *http.Request) (providers.Type, bool) {
	t, err := providers.ParseType(chi.URLParam(r, "provider"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return "", false
	}
	return t, true
}

// validateAndRespond lists models with the credential, stores the outcome
// and answers with the updated credential.
func (h *CredentialsHandler) validateAndRespond(w http.ResponseWriter, r *http.Request, owner string, provider providers.Type, payload models.CredentialPayload) {
	validationErr := h.check(r.Context(), provider, payload)
	if validationErr != nil {
		h.logger.Info("credential validation failed",
			zap.String("provider", string(provider)),
			zap.Error(validationErr),
		)
	}

	if err := h.repo.RecordValidation(r.Context(), owner, string(provider), time.Now().UTC(), validationErr); err != nil {
		h.logger.Error("failed to record validation", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to record validation")
		return
	}

	cred, err := h.repo.Get(r.Context(), owner, string(provider))
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to load credential")
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, toCredentialResponse(cred))
}

func (h *CredentialsHandler) check(ctx context.Context, provider providers.Type, payload models.CredentialPayload) error {
	if err := providers.CheckBaseURL(payload.BaseURL); err != nil {
		return err
	}
	adapter, err := h.factory(provider, providers.Config{
		APIKey:     payload.APIKey,
		BaseURL:    payload.BaseURL,
		HTTPClient: h.httpClient,
		Retry:      providers.RetryPolicy{MaxAttempts: 1},
		Logger:     h.logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	_, err = adapter.ListModels(ctx)
	return err
}
