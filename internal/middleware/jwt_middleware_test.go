package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"llm_router/internal/auth"
)

func TestRoleMiddleware(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	issue := func(t *testing.T, role auth.Role, key []byte) string {
		t.Helper()
		token, _, err := auth.IssueToken(key, "bench-runner", role, time.Hour)
		if err != nil {
			t.Fatalf("IssueToken() error = %v", err)
		}
		return token
	}

	tests := []struct {
		name       string
		header     func(t *testing.T) string
		wantStatus int
	}{
		{"benchmark role", func(t *testing.T) string { return "Bearer " + issue(t, auth.RoleBenchmark, secret) }, http.StatusOK},
		{"admin satisfies benchmark", func(t *testing.T) string { return "Bearer " + issue(t, auth.RoleAdmin, secret) }, http.StatusOK},
		{"missing", func(t *testing.T) string { return "" }, http.StatusUnauthorized},
		{"not bearer", func(t *testing.T) string { return issue(t, auth.RoleBenchmark, secret) }, http.StatusUnauthorized},
		{"wrong secret", func(t *testing.T) string {
			return "Bearer " + issue(t, auth.RoleBenchmark, []byte("another-secret-another-secret-xx"))
		}, http.StatusUnauthorized},
		{"garbage", func(t *testing.T) string { return "Bearer not.a.jwt" }, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RoleMiddleware(secret, auth.RoleBenchmark)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				claims, ok := GetClaims(r.Context())
				if !ok {
					t.Error("claims not found in context")
				} else if claims.Subject != "bench-runner" {
					t.Errorf("unexpected subject %q", claims.Subject)
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/internal/rankings/invalidate", nil)
			if h := tt.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("next handler called = %v", called)
			}
		})
	}
}

func TestRoleMiddleware_Forbidden(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	token, _, err := auth.IssueToken(secret, "bench-runner", auth.RoleBenchmark, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	handler := RoleMiddleware(secret, auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Next handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/rankings/invalidate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}
