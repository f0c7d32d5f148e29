package httpapi

import (
	"errors"
	"net/http"

	"llm_router/internal/gateway"
	"llm_router/internal/providers"
	"llm_router/internal/selector"
	"llm_router/internal/storage"
	"llm_router/internal/utils"
)

// apiError is a translated failure ready to be written.
type apiError struct {
	Status  int
	Type    string
	Message string
}

// translate maps a typed failure onto a status code and error type. It is
// the only place that does so.
func translate(err error) apiError {
	var (
		noMatch   *selector.NoMatchingModelError
		empty     *providers.EmptyResponseError
		exhausted *providers.FallbackExhaustedError
		upstream  *providers.ProviderError
	)

	switch {
	case errors.Is(err, gateway.ErrAuthentication):
		return apiError{http.StatusUnauthorized, "authentication_error", err.Error()}
	case errors.Is(err, gateway.ErrRateLimited):
		return apiError{http.StatusTooManyRequests, "rate_limit_error", err.Error()}
	case utils.IsValidationError(err):
		return apiError{http.StatusBadRequest, "invalid_request_error", err.Error()}
	case errors.Is(err, selector.ErrNoProviderConfigured):
		return apiError{http.StatusBadRequest, "no_provider_configured", err.Error()}
	case errors.As(err, &noMatch):
		return apiError{http.StatusUnprocessableEntity, "no_matching_model", err.Error()}
	case errors.Is(err, gateway.ErrCredentialMissing):
		return apiError{http.StatusPreconditionFailed, "credential_missing", err.Error()}
	case errors.Is(err, storage.ErrDecryption):
		return apiError{http.StatusInternalServerError, "credential_error", "stored provider credential could not be decrypted"}
	case errors.As(err, &exhausted):
		return apiError{http.StatusBadGateway, "provider_error", err.Error()}
	case providers.IsCreditExhausted(err):
		return apiError{http.StatusPaymentRequired, "credit_exhausted", err.Error()}
	case errors.As(err, &empty), errors.Is(err, providers.ErrRetriesExhausted):
		return apiError{http.StatusBadGateway, "provider_error", err.Error()}
	case errors.As(err, &upstream):
		return apiError{http.StatusInternalServerError, "provider_error", err.Error()}
	default:
		return apiError{http.StatusInternalServerError, "internal_error", "internal error"}
	}
}

func writeError(w http.ResponseWriter, err error) apiError {
	e := translate(err)
	utils.RespondWithError(w, e.Status, e.Type, e.Message)
	return e
}
