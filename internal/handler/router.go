package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"havosec-api/internal/metrics"
	"havosec-api/internal/service"
)

// RouterConfig carries everything NewRouter mounts.
type RouterConfig struct {
	Auth      *AuthHandler
	Dashboard *DashboardHandler
	Events    *EventHandler
	// Authenticator backs RequireAuth on the dashboard and admin groups.
	Authenticator  Authenticator
	AllowedOrigins []string
	// RequireTLS rejects plain-HTTP requests with 426.
	RequireTLS     bool
	RequestTimeout time.Duration
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"success":false,"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(rc RouterConfig, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if rc.RequireTLS {
		router.Use(requireHTTPS)
	}

	timeout := rc.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(metrics.Middleware)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(timeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rc.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"OK","service":"havosec-api"}`))
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/api", func(api chi.Router) {
		api.Route("/auth", rc.Auth.RegisterClientRoutes)
		api.Route("/admin", func(admin chi.Router) {
			admin.Route("/auth", rc.Auth.RegisterAdminRoutes)
			admin.With(RequireAuth(rc.Authenticator, service.TokenKindAdmin, logger)).
				Post("/security-events", rc.Events.Ingest)
		})
		api.Route("/dashboard", func(r chi.Router) {
			r.Use(RequireAuth(rc.Authenticator, service.TokenKindClient, logger))
			rc.Dashboard.RegisterRoutes(r)
			rc.Events.RegisterRoutes(r)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, logger, http.StatusNotFound, errorResponse(errEndpointMissing, "Route not found"))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, logger, http.StatusMethodNotAllowed, errorResponse(errMethodNotFound, ""))
	})

	return router
}
