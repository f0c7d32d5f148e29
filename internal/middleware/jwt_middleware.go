package middleware

import (
	"context"
	"net/http"
	"strings"

	"llm_router/internal/auth"
	"llm_router/internal/utils"
)

// ClaimsKey is the context key for verified service token claims
const ClaimsKey ContextKey = "serviceClaims"

// RoleMiddleware accepts only bearer JWTs signed with secret whose role
// satisfies one of requiredRoles. Admin satisfies every role.
func RoleMiddleware(secret []byte, requiredRoles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			tokenString = strings.TrimSpace(tokenString)
			if !ok || tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "authentication_error", "missing authentication token")
				return
			}

			claims, err := auth.ParseToken(secret, tokenString)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "authentication_error", "invalid or expired token")
				return
			}

			if len(requiredRoles) > 0 {
				hasPermission := false
				for _, required := range requiredRoles {
					if claims.Role.HasPermission(required) {
						hasPermission = true
						break
					}
				}
				if !hasPermission {
					utils.RespondWithError(w, http.StatusForbidden, "permission_error", "insufficient permissions")
					return
				}
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims retrieves the verified claims from the request context
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}
