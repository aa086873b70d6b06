package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/internal/bus"
	"github.com/EthanVT97/viber-uat-middleware/internal/middleware"
	"github.com/EthanVT97/viber-uat-middleware/internal/model"
	"github.com/EthanVT97/viber-uat-middleware/internal/service"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
	"github.com/EthanVT97/viber-uat-middleware/pkg/metrics"
)

// DefaultHeartbeatInterval is used when no interval is configured.
const DefaultHeartbeatInterval = 30 * time.Second

const (
	streamWriteWait = 10 * time.Second
	wsReadLimit     = 512
	transportSSE    = "sse"
	transportWS     = "websocket"
	disconnectCode  = "subscriber_overflow"
	shutdownCode    = "server_shutdown"
)

// ConnectedEvent is the first frame of every stream.
type ConnectedEvent struct {
	SubscriberID string    `json:"subscriber_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// controlFrame wraps non-relay frames on the WebSocket transport. Relay
// events are sent as-is; both carry a "type" field.
type controlFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// StreamHandler pushes relay events to agent dashboards.
type StreamHandler struct {
	relay     *service.Relay
	heartbeat time.Duration
	writeWait time.Duration
	upgrader  websocket.Upgrader
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(relay *service.Relay, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &StreamHandler{
		relay:     relay,
		heartbeat: heartbeat,
		writeWait: streamWriteWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards may be served from another origin; access is gated
			// by the auth middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// Stream handles GET /agent_dashboard/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before taking the snapshot so nothing falls in between.
	sub := h.relay.Subscribe(ctx)
	defer h.relay.Unsubscribe(sub)

	sse, err := newSSEWriter(w, h.writeWait)
	if err != nil {
		return
	}

	metrics.IncrementStreamConnections(transportSSE)
	defer metrics.DecrementStreamConnections(transportSSE)

	log := h.logger.ForRequest(middleware.GetCorrelationID(ctx)).With(
		zap.String("sub_id", sub.ID()),
		zap.String("transport", transportSSE),
	)
	log.Info("dashboard connected")

	if err := sse.event("connected", &ConnectedEvent{SubscriberID: sub.ID(), ConnectedAt: time.Now().UTC()}); err != nil {
		return
	}
	if err := sse.event("snapshot", h.snapshot()); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("dashboard disconnected")
			return

		case ev, ok := <-sub.Events():
			if !ok {
				if frame := disconnectFrame(sub.Err()); frame != nil {
					sse.event("disconnected", frame)
					log.Warn("stream closed by server", zap.String("code", frame.Code))
				}
				return
			}
			if err := sse.data(ev.Sequence, ev); err != nil {
				log.Info("dashboard write failed", zap.Error(err))
				return
			}
			sub.MarkDelivered(ev)

		case <-heartbeat.C:
			if err := sse.event("heartbeat", &model.HeartbeatEvent{Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

// WebSocket handles GET /agent_dashboard/ws
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// A hijacked connection does not cancel the request context, so a reader
	// goroutine watches for the client going away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.relay.Subscribe(ctx)
	defer h.relay.Unsubscribe(sub)

	metrics.IncrementStreamConnections(transportWS)
	defer metrics.DecrementStreamConnections(transportWS)

	log := h.logger.ForRequest(middleware.GetCorrelationID(r.Context())).With(
		zap.String("sub_id", sub.ID()),
		zap.String("transport", transportWS),
	)
	log.Info("dashboard connected")

	go func() {
		defer cancel()
		conn.SetReadLimit(wsReadLimit)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(v interface{}) error {
		conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		return conn.WriteJSON(v)
	}

	if err := write(&controlFrame{Type: "connected", Data: &ConnectedEvent{SubscriberID: sub.ID(), ConnectedAt: time.Now().UTC()}}); err != nil {
		return
	}
	if err := write(&controlFrame{Type: "snapshot", Data: h.snapshot()}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("dashboard disconnected")
			return

		case ev, ok := <-sub.Events():
			if !ok {
				h.closeWebSocket(conn, log, sub.Err())
				return
			}
			if err := write(ev); err != nil {
				log.Info("dashboard write failed", zap.Error(err))
				return
			}
			sub.MarkDelivered(ev)

		case <-heartbeat.C:
			if err := write(&controlFrame{Type: "heartbeat", Data: &model.HeartbeatEvent{Timestamp: time.Now().UTC()}}); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) closeWebSocket(conn *websocket.Conn, log *logger.Logger, err error) {
	frame := disconnectFrame(err)
	if frame == nil {
		return
	}
	log.Warn("stream closed by server", zap.String("code", frame.Code))

	conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	if err := conn.WriteJSON(&controlFrame{Type: "disconnected", Data: frame}); err != nil {
		return
	}

	code := websocket.CloseTryAgainLater
	if frame.Code == shutdownCode {
		code = websocket.CloseGoingAway
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, frame.Code),
		time.Now().Add(h.writeWait))
}

func (h *StreamHandler) snapshot() *model.ListConversationsResponse {
	list := h.relay.List()
	return &model.ListConversationsResponse{
		Conversations: list,
		Total:         len(list),
	}
}

// disconnectFrame describes why the server ended a subscription, or returns
// nil if the client went away on its own.
func disconnectFrame(err error) *model.ErrorEvent {
	switch {
	case errors.Is(err, bus.ErrSubscriberOverflow):
		return &model.ErrorEvent{Code: disconnectCode, Message: "stream fell too far behind; reconnect to resync"}
	case errors.Is(err, bus.ErrBusClosed):
		return &model.ErrorEvent{Code: shutdownCode, Message: "server is shutting down"}
	default:
		return nil
	}
}
