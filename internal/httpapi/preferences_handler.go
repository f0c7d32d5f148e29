package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"llm_router/internal/middleware"
	"llm_router/internal/models"
	"llm_router/internal/providers"
	"llm_router/internal/storage"
	"llm_router/internal/utils"
)

// PreferenceRepository loads and stores routing preferences.
type PreferenceRepository interface {
	Get(ctx context.Context, ownerUserID string) (*models.RoutingPreference, error)
	Upsert(ctx context.Context, pref *models.RoutingPreference) error
}

// PreferencesHandler manages the caller's default routing constraints.
type PreferencesHandler struct {
	repo PreferenceRepository
}

// PreferenceBody is both the PUT body and the response. An empty strategy
// defers to the system default.
type PreferenceBody struct {
	Strategy           string     `json:"strategy" validate:"omitempty,oneof=cheapest fastest best_for_coding best_for_reasoning balanced"`
	MaxCostPerKToken   *float64   `json:"max_cost_per_k_token,omitempty" validate:"omitempty,gt=0"`
	MaxLatencyMs       *int64     `json:"max_latency_ms,omitempty" validate:"omitempty,gt=0"`
	ExcludedProviders  []string   `json:"excluded_providers" validate:"omitempty,dive,required"`
	ExcludedModels     []string   `json:"excluded_models" validate:"omitempty,dive,required"`
	RequireToolCalling bool       `json:"require_tool_calling"`
	RequireStreaming   bool       `json:"require_streaming"`
	Stored             bool       `json:"stored"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

func toPreferenceBody(p *models.RoutingPreference) PreferenceBody {
	body := PreferenceBody{
		Strategy:           p.Strategy,
		ExcludedProviders:  nonNil(p.ExcludedProviders),
		ExcludedModels:     nonNil(p.ExcludedModels),
		RequireToolCalling: p.RequireToolCalling,
		RequireStreaming:   p.RequireStreaming,
		Stored:             true,
	}
	if p.MaxCostPerKToken.Valid {
		v := p.MaxCostPerKToken.Float64
		body.MaxCostPerKToken = &v
	}
	if p.MaxLatencyMs.Valid {
		v := p.MaxLatencyMs.Int64
		body.MaxLatencyMs = &v
	}
	if !p.UpdatedAt.IsZero() {
		at := p.UpdatedAt
		body.UpdatedAt = &at
	}
	return body
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Get handles GET /v1/preferences
func (h *PreferencesHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	pref, err := h.repo.Get(r.Context(), caller.OwnerUserID)
	if err != nil {
		if errors.Is(err, storage.ErrPreferenceNotFound) {
			_ = utils.RespondWithJSON(w, http.StatusOK, PreferenceBody{
				ExcludedProviders: []string{},
				ExcludedModels:    []string{},
			})
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to load preferences")
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, toPreferenceBody(pref))
}

// Put handles PUT /v1/preferences. The whole row is replaced.
func (h *PreferencesHandler) Put(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	var body PreferenceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid_request_error", "invalid request payload")
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		writeError(w, err)
		return
	}
	for i, p := range body.ExcludedProviders {
		t, err := providers.ParseType(p)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		body.ExcludedProviders[i] = string(t)
	}

	pref := &models.RoutingPreference{
		OwnerUserID:        caller.OwnerUserID,
		Strategy:           body.Strategy,
		ExcludedProviders:  body.ExcludedProviders,
		ExcludedModels:     body.ExcludedModels,
		RequireToolCalling: body.RequireToolCalling,
		RequireStreaming:   body.RequireStreaming,
	}
	if body.MaxCostPerKToken != nil {
		pref.MaxCostPerKToken = sql.NullFloat64{Float64: *body.MaxCostPerKToken, Valid: true}
	}
	if body.MaxLatencyMs != nil {
		pref.MaxLatencyMs = sql.NullInt64{Int64: *body.MaxLatencyMs, Valid: true}
	}

	if err := h.repo.Upsert(r.Context(), pref); err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to store preferences")
		return
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, toPreferenceBody(pref))
}
