package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the OpenAI-style error envelope every endpoint returns.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message, a stable type and an optional code.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// RespondWithError sends an error envelope. errType doubles as the code.
func RespondWithError(w http.ResponseWriter, status int, errType, message string) {
	_ = RespondWithJSON(w, status, ErrorBody{Error: ErrorDetail{
		Message: message,
		Type:    errType,
		Code:    errType,
	}})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}
