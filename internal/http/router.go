package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"multimodal-agent/internal/middleware"
)

type Router struct {
	chi.Router
}

func NewRouter(limiter middleware.Limiter, requestTimeout time.Duration) *Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	if requestTimeout > 0 {
		r.Use(chimiddleware.Timeout(requestTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	if limiter != nil {
		r.Use(middleware.RateLimit(limiter))
	}

	return &Router{r}
}

// RegisterAgentRoutes registers the processing API
func (r *Router) RegisterAgentRoutes(h *AgentHandler) {
	h.RegisterRoutes(r)
}

// RegisterHealthRoutes registers liveness and readiness probes
func (r *Router) RegisterHealthRoutes(h *ProbeHandler) {
	r.Get("/health", h.Live)
	r.Get("/ready", h.Ready)
}

// RegisterMetricsRoutes registers the Prometheus scrape endpoint
func (r *Router) RegisterMetricsRoutes(metrics http.Handler) {
	r.Method(http.MethodGet, "/metrics", metrics)
}
