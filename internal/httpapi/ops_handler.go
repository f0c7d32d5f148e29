package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"llm_router/internal/middleware"
	"llm_router/internal/utils"
)

const healthTimeout = 2 * time.Second

// InvalidateRequest is the optional body of the ranking cache hook. An
// empty suite drops every suite.
type InvalidateRequest struct {
	Suite string `json:"suite" validate:"omitempty,oneof=general deep"`
}

// handleInvalidateRankings serves POST /internal/rankings/invalidate. It is
// idempotent.
func (d *Dependencies) handleInvalidateRankings(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid_request_error", "invalid request payload")
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		writeError(w, err)
		return
	}

	subject := ""
	if claims, ok := middleware.GetClaims(r.Context()); ok {
		subject = claims.Subject
	}

	broadcast := true
	if err := d.Rankings.Publish(r.Context(), req.Suite); err != nil {
		// The local cache is already invalidated; other replicas expire by TTL.
		broadcast = false
		d.Logger.Warn("ranking invalidation not broadcast", zap.String("suite", req.Suite), zap.Error(err))
	}
	d.Logger.Info("rankings invalidated",
		zap.String("suite", req.Suite),
		zap.String("subject", subject),
		zap.Bool("broadcast", broadcast),
	)

	suite := req.Suite
	if suite == "" {
		suite = "all"
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"invalidated": suite,
		"broadcast":   broadcast,
	})
}

// handleHealth serves GET /health.
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(d.HealthChecks))
	for name := range d.HealthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := d.HealthChecks[name].Health(ctx)
		cancel()

		if err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	_ = utils.RespondWithJSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
	})
}
