// Package httpapi exposes the gateway, the management API and the
// operational endpoints over chi.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"llm_router/internal/auth"
	"llm_router/internal/gateway"
	"llm_router/internal/logging"
	"llm_router/internal/metrics"
	"llm_router/internal/middleware"
	"llm_router/internal/providers"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 8 << 20

// RankingPublisher invalidates cached rankings on every replica.
type RankingPublisher interface {
	Publish(ctx context.Context, suite string) error
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Gateway     *gateway.Service
	APIKeys     auth.APIKeyStore
	Keys        KeyRepository
	Credentials CredentialRepository
	Preferences PreferenceRepository
	Usage       UsageReader
	Codec       Codec
	Rankings    RankingPublisher
	Metrics     *metrics.Metrics
	Logger      *zap.Logger

	// Factory builds adapters for live credential validation.
	Factory           providers.Factory
	HTTPClient        *http.Client
	ValidationTimeout time.Duration

	// HealthChecks are run by GET /health, keyed by name.
	HealthChecks map[string]HealthChecker

	JWTSecret   []byte
	CORSOrigins []string
}

// NewRouter creates the HTTP handler with all routes registered.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Factory == nil {
		deps.Factory = providers.New
	}
	if deps.ValidationTimeout <= 0 {
		deps.ValidationTimeout = 30 * time.Second
	}
	d := &deps

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.RequestLogger(d.Logger))
	r.Use(middleware.Recoverer(d.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(d.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	d.registerRoutes(r)
	return r
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (d *Dependencies) registerRoutes(r chi.Router) {
	r.Get("/health", d.handleHealth)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Post("/v1/chat/completions", d.handleChat)
	r.Post("/chat/completions", d.handleChat)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyMiddleware(d.APIKeys))

		keys := &KeysHandler{repo: d.Keys, logger: d.Logger}
		r.Post("/v1/keys", keys.Create)
		r.Get("/v1/keys", keys.List)
		r.Delete("/v1/keys/{id}", keys.Revoke)

		creds := &CredentialsHandler{
			repo:       d.Credentials,
			codec:      d.Codec,
			factory:    d.Factory,
			httpClient: d.HTTPClient,
			timeout:    d.ValidationTimeout,
			logger:     d.Logger.Named("credentials"),
		}
		r.Get("/v1/credentials", creds.List)
		r.Put("/v1/credentials/{provider}", creds.Put)
		r.Post("/v1/credentials/{provider}/validate", creds.Validate)
		r.Delete("/v1/credentials/{provider}", creds.Delete)

		prefs := &PreferencesHandler{repo: d.Preferences}
		r.Get("/v1/preferences", prefs.Get)
		r.Put("/v1/preferences", prefs.Put)

		usage := &UsageHandler{repo: d.Usage}
		r.Get("/v1/usage", usage.Summary)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RoleMiddleware(d.JWTSecret, auth.RoleBenchmark, auth.RoleAdmin))
		r.Post("/internal/rankings/invalidate", d.handleInvalidateRankings)
	})
}
