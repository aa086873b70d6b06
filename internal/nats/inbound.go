package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/internal/model"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

// Inbound subjects. Other services, such as a bot engine that owns the Viber
// webhook, publish user events here instead of calling the HTTP API.
const (
	InboundPrefix          = "inbound"
	InboundNewConversation = InboundPrefix + ".new_conversation"
	InboundUserMessage     = InboundPrefix + ".user_message"
	InboundUserEnded       = InboundPrefix + ".user_ended"

	inboundQueue   = "viber-relay"
	inboundTimeout = 10 * time.Second
)

// ErrUnknownSubject is returned for inbound subjects without a handler.
var ErrUnknownSubject = errors.New("unknown inbound subject")

// InboundMessage is the body of an inbound user event.
type InboundMessage struct {
	ViberID     string `json:"viber_id"`
	MessageText string `json:"message_text,omitempty"`
}

// InboundReply answers request-style inbound messages.
type InboundReply struct {
	OK      bool   `json:"ok"`
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// Relay is the part of the relay the inbound consumer drives.
type Relay interface {
	NotifyNewConversation(ctx context.Context, id, firstText string) (bool, error)
	NotifyUserMessage(ctx context.Context, id, text string) (model.Message, error)
	NotifyUserEnded(ctx context.Context, id string) bool
}

// Inbound consumes inbound user events.
type Inbound struct {
	client *Client
	relay  Relay
	logger *logger.Logger
}

// NewInbound creates an inbound consumer.
func NewInbound(client *Client, relay Relay, log *logger.Logger) *Inbound {
	return &Inbound{
		client: client,
		relay:  relay,
		logger: log.With(zap.String("component", "nats_inbound")),
	}
}

// Run consumes until ctx is done.
func (in *Inbound) Run(ctx context.Context) error {
	sub, err := in.client.Conn().QueueSubscribe(InboundPrefix+".*", inboundQueue, func(msg *nats.Msg) {
		in.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to inbound events: %w", err)
	}
	in.logger.Info("consuming inbound events", zap.String("subject", sub.Subject))

	<-ctx.Done()

	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("failed to drain inbound subscription: %w", err)
	}
	return nil
}

func (in *Inbound) handle(ctx context.Context, msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(ctx, inboundTimeout)
	defer cancel()

	changed, err := in.Apply(ctx, msg.Subject, msg.Data)
	reply := InboundReply{OK: err == nil, Changed: changed}
	if err != nil {
		reply.Error = err.Error()
		in.logger.Warn("inbound event rejected",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
	}

	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := msg.Respond(data); err != nil {
		in.logger.Warn("failed to answer inbound request", zap.Error(err))
	}
}

// Apply runs the relay operation for one inbound message. It reports
// whether the relay state changed.
func (in *Inbound) Apply(ctx context.Context, subject string, data []byte) (bool, error) {
	var m InboundMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return false, fmt.Errorf("failed to decode inbound message: %w", err)
	}

	switch strings.TrimSpace(subject) {
	case InboundNewConversation:
		return in.relay.NotifyNewConversation(ctx, m.ViberID, m.MessageText)
	case InboundUserMessage:
		if _, err := in.relay.NotifyUserMessage(ctx, m.ViberID, m.MessageText); err != nil {
			return false, err
		}
		return true, nil
	case InboundUserEnded:
		return in.relay.NotifyUserEnded(ctx, m.ViberID), nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
}
