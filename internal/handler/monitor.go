package handler

import (
	"net/http"

	"github.com/EthanVT97/viber-uat-middleware/internal/activity"
)

// MonitorHandler serves operator views.
type MonitorHandler struct {
	activity *activity.Log
}

// NewMonitorHandler creates a new monitor handler.
func NewMonitorHandler(activityLog *activity.Log) *MonitorHandler {
	return &MonitorHandler{activity: activityLog}
}

// Logs handles GET /monitor/logs
func (h *MonitorHandler) Logs(w http.ResponseWriter, r *http.Request) {
	entries := h.activity.Entries()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}
