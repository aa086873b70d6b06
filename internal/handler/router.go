package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EthanVT97/viber-uat-middleware/internal/middleware"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

// Handlers groups the HTTP handlers served by the relay.
type Handlers struct {
	Dashboard *DashboardHandler
	Stream    *StreamHandler
	Webhook   *WebhookHandler
	Monitor   *MonitorHandler
	Health    *HealthHandler
}

// RouterConfig holds cross-cutting HTTP settings.
type RouterConfig struct {
	// Auth gates the dashboard and monitor routes. Nil means no auth.
	Auth              func(http.Handler) http.Handler
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
}

// NewRouter builds the relay's HTTP routes.
func NewRouter(h *Handlers, cfg RouterConfig, log *logger.Logger) http.Handler {
	auth := cfg.Auth
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitRequests > 0 && cfg.RateLimitWindow > 0 {
		limit = middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Viber authenticates itself with the content signature.
	r.With(limit).Post("/viber/webhook", h.Webhook.Handle)

	r.Route("/agent_dashboard", func(r chi.Router) {
		r.Use(auth)

		r.Get("/stream", h.Stream.Stream)
		r.Get("/ws", h.Stream.WebSocket)
		r.Get("/conversations", h.Dashboard.ListConversations)
		r.Get("/conversations/{id}", h.Dashboard.GetConversation)
		r.Get("/subscribers", h.Dashboard.Subscribers)

		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/send_message", h.Dashboard.SendMessage)
			r.Post("/end_chat", h.Dashboard.EndChat)
			r.Post("/conversations/{id}/suggest", h.Dashboard.Suggest)
			r.Post("/conversations/{id}/messages/{messageID}/redeliver", h.Dashboard.Redeliver)
		})
	})

	r.Route("/monitor", func(r chi.Router) {
		r.Use(auth)
		r.Get("/logs", h.Monitor.Logs)
	})

	return r
}
