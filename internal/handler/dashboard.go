package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/internal/middleware"
	"github.com/EthanVT97/viber-uat-middleware/internal/model"
	"github.com/EthanVT97/viber-uat-middleware/internal/service"
	"github.com/EthanVT97/viber-uat-middleware/internal/store"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

// DashboardHandler handles agent actions and conversation queries.
type DashboardHandler struct {
	relay     *service.Relay
	suggester *service.Suggester
	logger    *logger.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(relay *service.Relay, suggester *service.Suggester, log *logger.Logger) *DashboardHandler {
	return &DashboardHandler{
		relay:     relay,
		suggester: suggester,
		logger:    log,
	}
}

// SendReplyResponse is returned by SendMessage and Redeliver.
type SendReplyResponse struct {
	Status          string         `json:"status"`
	MessageRecorded bool           `json:"message_recorded"`
	Message         *model.Message `json:"message,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// EndChatResponse is returned by EndChat.
type EndChatResponse struct {
	Status  string `json:"status"`
	ViberID string `json:"viber_id"`
	Ended   bool   `json:"ended"`
}

// SendMessage handles POST /agent_dashboard/send_message
func (h *DashboardHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SendReplyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.relay.SubmitReply(ctx, req.ReceiverViberID, req.MessageText)
	h.writeReplyResult(w, r, req.ReceiverViberID, msg, err)
}

// Redeliver handles POST /agent_dashboard/conversations/{id}/messages/{messageID}/redeliver
func (h *DashboardHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	msg, err := h.relay.RedeliverReply(r.Context(), id, messageID)
	if errors.Is(err, service.ErrMessageNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	h.writeReplyResult(w, r, id, msg, err)
}

func (h *DashboardHandler) writeReplyResult(w http.ResponseWriter, r *http.Request, id string, msg model.Message, err error) {
	var verr *service.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, &SendReplyResponse{
			Status:          "sent",
			MessageRecorded: true,
			Message:         &msg,
		})
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrUnknownConversation):
		writeError(w, http.StatusNotFound, "no active conversation for this user")
	case errors.Is(err, service.ErrDeliveryFailed):
		h.logger.ForRequest(middleware.GetCorrelationID(r.Context())).ForConversation(id).Warn("reply recorded but not delivered",
			zap.String("agent", middleware.GetAgent(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, &SendReplyResponse{
			Status:          "delivery_failed",
			MessageRecorded: true,
			Message:         &msg,
			Error:           err.Error(),
		})
	default:
		h.logger.Error("failed to submit reply", zap.String("viber_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit reply")
	}
}

// EndChat handles POST /agent_dashboard/end_chat
func (h *DashboardHandler) EndChat(w http.ResponseWriter, r *http.Request) {
	var req model.EndChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ended, err := h.relay.EndChat(r.Context(), req.ViberID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, &EndChatResponse{
		Status:  "success",
		ViberID: req.ViberID,
		Ended:   ended,
	})
}

// ListConversations handles GET /agent_dashboard/conversations
func (h *DashboardHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	list := h.relay.List()
	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: list,
		Total:         len(list),
	})
}

// GetConversation handles GET /agent_dashboard/conversations/{id}
func (h *DashboardHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.relay.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Suggest handles POST /agent_dashboard/conversations/{id}/suggest
func (h *DashboardHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	resp, err := h.suggester.Suggest(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, service.ErrSuggestionsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	default:
		writeError(w, http.StatusBadGateway, "failed to draft a reply")
	}
}

// Subscribers handles GET /agent_dashboard/subscribers
func (h *DashboardHandler) Subscribers(w http.ResponseWriter, r *http.Request) {
	stats := h.relay.Subscribers()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscribers": stats,
		"total":       len(stats),
	})
}
