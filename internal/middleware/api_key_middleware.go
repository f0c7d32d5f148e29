// Package middleware holds the HTTP middlewares that authenticate callers.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"llm_router/internal/auth"
	"llm_router/internal/models"
	"llm_router/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// APIKeyRecordKey is the context key for storing the authenticated API key record
	APIKeyRecordKey ContextKey = "apiKeyRecord"
)

// APIKeyMiddleware resolves the universal key of the request and stores its
// record in the request context.
func APIKeyMiddleware(store auth.APIKeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := auth.BearerToken(r)
			if apiKey == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "authentication_error", "missing API key")
				return
			}

			keyRecord, err := store.Lookup(r.Context(), apiKey)
			switch {
			case errors.Is(err, auth.ErrKeyNotFound):
				utils.RespondWithError(w, http.StatusUnauthorized, "authentication_error", "invalid API key")
				return
			case errors.Is(err, auth.ErrKeyRevoked):
				utils.RespondWithError(w, http.StatusUnauthorized, "authentication_error", "API key has been revoked")
				return
			case err != nil:
				utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "error validating API key")
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyRecordKey, keyRecord)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKeyRecord retrieves the API key record from the request context
func GetAPIKeyRecord(ctx context.Context) (*models.UniversalAPIKey, bool) {
	record, ok := ctx.Value(APIKeyRecordKey).(*models.UniversalAPIKey)
	return record, ok
}
