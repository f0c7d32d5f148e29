package middleware

import (
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"llm_router/internal/utils"
)

// Recoverer turns a handler panic into a 500 error envelope and logs the
// stack. http.ErrAbortHandler is re-panicked so the server can abort the
// connection.
func Recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.String("request_id", chimw.GetReqID(r.Context())),
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				utils.RespondWithError(w, http.StatusInternalServerError, "internal_error", "internal error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
