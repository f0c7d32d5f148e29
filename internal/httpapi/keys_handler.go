package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"llm_router/internal/auth"
	"llm_router/internal/middleware"
	"llm_router/internal/models"
	"llm_router/internal/storage"
	"llm_router/internal/utils"
)

// KeyRepository is the subset of the key repository the handler needs.
type KeyRepository interface {
	ListByOwner(ctx context.Context, ownerUserID string) ([]*models.UniversalAPIKey, error)
	Create(ctx context.Context, key *models.UniversalAPIKey) error
	Revoke(ctx context.Context, ownerUserID string, id uuid.UUID) error
}

// KeysHandler manages the caller's universal keys.
type KeysHandler struct {
	repo   KeyRepository
	logger *zap.Logger
}

// CreateKeyRequest is the body of POST /v1/keys.
type CreateKeyRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=100"`
}

// KeyResponse never carries the hash.
type KeyResponse struct {
	ID          string     `json:"id"`
	KeyPrefix   string     `json:"key_prefix"`
	DisplayName string     `json:"display_name"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	Revoked     bool       `json:"revoked"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// KeyCreatedResponse is the only response that includes the plaintext key.
type KeyCreatedResponse struct {
	KeyResponse
	Key string `json:"key"`
}

func toKeyResponse(k *models.UniversalAPIKey) KeyResponse {
	return KeyResponse{
		ID:          k.ID.String(),
		KeyPrefix:   k.KeyPrefix,
		DisplayName: k.DisplayName,
		CreatedAt:   k.CreatedAt,
		LastUsedAt:  k.LastUsedAt,
		Revoked:     k.Revoked,
		RevokedAt:   k.RevokedAt,
	}
}

// Create handles POST /v1/keys
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid_request_error", "invalid request payload")
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		writeError(w, err)
		return
	}

	plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to generate API key")
		return
	}

	key := &models.UniversalAPIKey{
		ID:          uuid.New(),
		OwnerUserID: caller.OwnerUserID,
		KeyHash:     auth.HashAPIKey(plaintext),
		KeyPrefix:   auth.KeyDisplayPrefix(plaintext),
		DisplayName: req.DisplayName,
	}
	if err := h.repo.Create(r.Context(), key); err != nil {
		h.logger.Error("failed to create API key", zap.Error(err))
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to create API key")
		return
	}

	_ = utils.RespondWithJSON(w, http.StatusCreated, KeyCreatedResponse{
		KeyResponse: toKeyResponse(key),
		Key:         plaintext,
	})
}

// List handles GET /v1/keys
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	keys, err := h.repo.ListByOwner(r.Context(), caller.OwnerUserID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to list API keys")
		return
	}

	out := make([]KeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, toKeyResponse(k))
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}

// Revoke handles DELETE /v1/keys/{id}. Only the caller's own keys match.
func (h *KeysHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid_request_error", "invalid key id")
		return
	}

	if err := h.repo.Revoke(r.Context(), caller.OwnerUserID, id); err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "not_found", "API key not found")
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to revoke API key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
