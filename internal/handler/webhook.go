package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/internal/activity"
	"github.com/EthanVT97/viber-uat-middleware/internal/dedupe"
	"github.com/EthanVT97/viber-uat-middleware/internal/service"
	"github.com/EthanVT97/viber-uat-middleware/internal/store"
	"github.com/EthanVT97/viber-uat-middleware/internal/viber"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
	"github.com/EthanVT97/viber-uat-middleware/pkg/metrics"
)

// Defaults for the Viber conversation keywords.
const (
	DefaultStartKeyword = "talk_to_agent"
	DefaultStopKeyword  = "ရပ်မည်"
)

// Webhook outcomes, used as metric labels and in the activity log.
const (
	outcomeStarted   = "started"
	outcomeActive    = "already_active"
	outcomeRelayed   = "relayed"
	outcomeEnded     = "ended"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

// WebhookConfig configures the Viber callback handler.
type WebhookConfig struct {
	Token           string
	VerifySignature bool
	StartKeyword    string
	StopKeyword     string

	// StartMessage and StopMessage are sent to the user when they open or
	// close an agent conversation. Empty texts send nothing.
	StartMessage string
	StopMessage  string
}

// WebhookHandler turns Viber callbacks into relay operations.
type WebhookHandler struct {
	relay    *service.Relay
	seen     *dedupe.Cache
	activity *activity.Log
	cfg      WebhookConfig
	logger   *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(relay *service.Relay, seen *dedupe.Cache, activityLog *activity.Log, cfg WebhookConfig, log *logger.Logger) *WebhookHandler {
	if cfg.StartKeyword == "" {
		cfg.StartKeyword = DefaultStartKeyword
	}
	if cfg.StopKeyword == "" {
		cfg.StopKeyword = DefaultStopKeyword
	}
	return &WebhookHandler{
		relay:    relay,
		seen:     seen,
		activity: activityLog,
		cfg:      cfg,
		logger:   log.With(zap.String("component", "viber_webhook")),
	}
}

// Handle handles POST /viber/webhook
//
// Viber retries callbacks that do not get a 2xx answer, so anything that
// parses is acknowledged, including events the relay does not act on.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if h.cfg.VerifySignature && !viber.VerifySignature(h.cfg.Token, body, r.Header.Get(viber.SignatureHeader)) {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", outcomeRejected).Inc()
		h.logger.Warn("rejected webhook with bad signature", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	cb, err := viber.ParseCallback(body)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("unknown", outcomeRejected).Inc()
		writeError(w, http.StatusBadRequest, errInvalidBody.Error())
		return
	}

	outcome := outcomeDuplicate
	if !h.seen.CheckAndMark(cb.DedupeKey()) {
		outcome = h.dispatch(r.Context(), cb)
	}

	metrics.WebhookEventsTotal.WithLabelValues(cb.Event, outcome).Inc()
	h.logger.Debug("webhook handled",
		zap.String("event", cb.Event),
		zap.String("viber_id", cb.SenderID()),
		zap.String("outcome", outcome),
	)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"outcome": outcome,
	})
}

func (h *WebhookHandler) dispatch(ctx context.Context, cb *viber.Callback) string {
	id := cb.SenderID()
	if cb.Event != viber.EventMessage || id == "" {
		return outcomeIgnored
	}

	text := strings.TrimSpace(cb.Text())
	switch {
	case text == h.cfg.StartKeyword:
		created, err := h.relay.NotifyNewConversation(ctx, id, "")
		if err != nil {
			return h.fail(id, err)
		}
		if !created {
			return outcomeActive
		}
		h.notify(ctx, id, h.cfg.StartMessage)
		return outcomeStarted

	case !h.relay.IsActive(id):
		// Messages outside an agent conversation belong to the bot flow.
		return outcomeIgnored

	case text == h.cfg.StopKeyword:
		if h.relay.NotifyUserEnded(ctx, id) {
			h.notify(ctx, id, h.cfg.StopMessage)
			return outcomeEnded
		}
		return outcomeIgnored

	case text == "":
		h.record(id, cb.Event, outcomeIgnored, "unsupported message type")
		return outcomeIgnored

	default:
		_, err := h.relay.NotifyUserMessage(ctx, id, cb.Text())
		if errors.Is(err, store.ErrUnknownConversation) {
			// Ended between the activity check and the append.
			return outcomeIgnored
		}
		if err != nil {
			return h.fail(id, err)
		}
		return outcomeRelayed
	}
}

// notify sends a courtesy message to the user. Failures are logged only.
func (h *WebhookHandler) notify(ctx context.Context, id, text string) {
	if err := h.relay.SendNotice(ctx, id, text); err != nil {
		h.logger.Warn("failed to notify user", zap.String("viber_id", id), zap.Error(err))
	}
}

func (h *WebhookHandler) fail(id string, err error) string {
	h.logger.Error("failed to apply webhook", zap.String("viber_id", id), zap.Error(err))
	h.record(id, viber.EventMessage, outcomeFailed, err.Error())
	return outcomeFailed
}

func (h *WebhookHandler) record(id, event, outcome, detail string) {
	if h.activity == nil {
		return
	}
	status := activity.StatusIgnored
	if outcome == outcomeFailed {
		status = activity.StatusFailed
	}
	h.activity.Add("viber_webhook", status, map[string]any{
		"viber_id": id,
		"event":    event,
	}, detail)
}
