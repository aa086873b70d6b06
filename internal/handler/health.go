package handler

import (
	"net/http"

	natsclient "github.com/EthanVT97/viber-uat-middleware/internal/nats"
	"github.com/EthanVT97/viber-uat-middleware/internal/service"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	relay      *service.Relay
	natsClient *natsclient.Client
}

// NewHealthHandler creates a new health handler. natsClient is nil when NATS
// is disabled.
func NewHealthHandler(relay *service.Relay, natsClient *natsclient.Client) *HealthHandler {
	return &HealthHandler{
		relay:      relay,
		natsClient: natsClient,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"conversations": h.relay.ActiveConversations(),
		"subscribers":   len(h.relay.Subscribers()),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
