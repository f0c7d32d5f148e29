package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		errType string
		message string
	}{
		{
			name:    "bad request",
			code:    http.StatusBadRequest,
			errType: "invalid_request_error",
			message: "messages is required",
		},
		{
			name:    "unauthorized",
			code:    http.StatusUnauthorized,
			errType: "authentication_error",
			message: "invalid API key",
		},
		{
			name:    "precondition failed",
			code:    http.StatusPreconditionFailed,
			errType: "credential_missing",
			message: "no active credential for provider: anthropic",
		},
		{
			name:    "internal server error",
			code:    http.StatusInternalServerError,
			errType: "internal_error",
			message: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			RespondWithError(w, tt.code, tt.errType, tt.message)

			if w.Code != tt.code {
				t.Errorf("RespondWithError() status = %d, want %d", w.Code, tt.code)
			}

			contentType := w.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("RespondWithError() Content-Type = %s, want application/json", contentType)
			}

			var response ErrorBody
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}

			if response.Error.Message != tt.message {
				t.Errorf("RespondWithError() message = %s, want %s", response.Error.Message, tt.message)
			}
			if response.Error.Type != tt.errType {
				t.Errorf("RespondWithError() type = %s, want %s", response.Error.Type, tt.errType)
			}
			if response.Error.Code != tt.errType {
				t.Errorf("RespondWithError() code = %s, want %s", response.Error.Code, tt.errType)
			}
		})
	}
}

func TestRespondWithError_EnvelopeShape(t *testing.T) {
	w := httptest.NewRecorder()
	RespondWithError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")

	var raw map[string]map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	inner, ok := raw["error"]
	if !ok {
		t.Fatalf("response has no error object: %v", raw)
	}
	for _, key := range []string{"message", "type", "code"} {
		if _, ok := inner[key]; !ok {
			t.Errorf("error object missing %q: %v", key, inner)
		}
	}
}

func TestRespondWithJSON(t *testing.T) {
	t.Run("simple struct", func(t *testing.T) {
		w := httptest.NewRecorder()

		payload := struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
			Active   bool   `json:"is_active"`
		}{
			ID:       "cred-1",
			Provider: "openai",
			Active:   true,
		}

		err := RespondWithJSON(w, http.StatusOK, payload)
		if err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}

		if w.Code != http.StatusOK {
			t.Errorf("RespondWithJSON() status = %d, want %d", w.Code, http.StatusOK)
		}

		contentType := w.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("RespondWithJSON() Content-Type = %s, want application/json", contentType)
		}

		var response struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
			Active   bool   `json:"is_active"`
		}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if response != payload {
			t.Errorf("RespondWithJSON() decoded = %+v, want %+v", response, payload)
		}
	})

	t.Run("map payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		payload := map[string]any{
			"object": "list",
			"count":  42,
			"data":   []string{"a", "b", "c"},
		}

		err := RespondWithJSON(w, http.StatusCreated, payload)
		if err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}

		if w.Code != http.StatusCreated {
			t.Errorf("RespondWithJSON() status = %d, want %d", w.Code, http.StatusCreated)
		}

		var response map[string]any
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if response["object"] != "list" {
			t.Errorf("RespondWithJSON() object = %v, want list", response["object"])
		}
		if int(response["count"].(float64)) != 42 {
			t.Errorf("RespondWithJSON() count = %v, want 42", response["count"])
		}
	})

	t.Run("nil payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := RespondWithJSON(w, http.StatusOK, nil)
		if err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}

		if body := w.Body.String(); body != "null\n" {
			t.Errorf("RespondWithJSON() with nil payload body = %q", body)
		}
	})
}
