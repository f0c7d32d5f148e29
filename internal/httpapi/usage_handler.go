package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"llm_router/internal/middleware"
	"llm_router/internal/models"
	"llm_router/internal/storage"
	"llm_router/internal/utils"
)

// UsageReader reads the usage audit trail.
type UsageReader interface {
	GetAggregate(ctx context.Context, ownerUserID, yearMonth string) (*models.MonthlyUsageAggregate, error)
	ListRecent(ctx context.Context, ownerUserID string, limit int) ([]*models.UsageRecord, error)
}

// UsageHandler reports the caller's usage.
type UsageHandler struct {
	repo UsageReader
}

// UsageSummary is the response of GET /v1/usage.
type UsageSummary struct {
	Month   models.MonthlyUsageAggregate `json:"month"`
	Records []*models.UsageRecord        `json:"records"`
}

// Summary handles GET /v1/usage?month=YYYY-MM&limit=N
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.GetAPIKeyRecord(r.Context())

	month := r.URL.Query().Get("month")
	if month == "" {
		month = models.YearMonthOf(time.Now())
	} else if _, err := time.Parse("2006-01", month); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid_request_error", "month must be formatted YYYY-MM")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
			return
		}
		limit = n
	}

	summary := UsageSummary{Month: models.MonthlyUsageAggregate{OwnerUserID: caller.OwnerUserID, YearMonth: month}}

	agg, err := h.repo.GetAggregate(r.Context(), caller.OwnerUserID, month)
	switch {
	case err == nil:
		summary.Month = *agg
	case !errors.Is(err, storage.ErrAggregateNotFound):
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to load usage")
		return
	}

	records, err := h.repo.ListRecent(r.Context(), caller.OwnerUserID, limit)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "failed to load usage")
		return
	}
	if records == nil {
		records = []*models.UsageRecord{}
	}
	summary.Records = records

	_ = utils.RespondWithJSON(w, http.StatusOK, summary)
}
