// Package service applies inbound user events and agent actions to the
// conversation store and publishes the resulting events to dashboards.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/internal/activity"
	"github.com/EthanVT97/viber-uat-middleware/internal/bus"
	"github.com/EthanVT97/viber-uat-middleware/internal/model"
	"github.com/EthanVT97/viber-uat-middleware/internal/store"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
	"github.com/EthanVT97/viber-uat-middleware/pkg/metrics"
)

var (
	// ErrDeliveryFailed wraps outbound delivery errors. The reply it belongs
	// to is still recorded.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrMessageNotFound is returned when redelivering an unknown reply.
	ErrMessageNotFound = errors.New("message not found")
)

// Outbound delivers agent replies to the messaging platform.
type Outbound interface {
	Deliver(ctx context.Context, conversationID, text string) error
}

// Mirror receives a copy of every published event, for example to forward
// it to a message broker. Errors are logged and never fail the operation.
type Mirror interface {
	MirrorEvent(ctx context.Context, ev model.Event) error
}

const (
	lockStripes     = 64
	deliveryTimeout = 15 * time.Second
)

// Relay is the single entry point for mutating conversations. Operations on
// the same conversation are serialized so that store order, publish order
// and delivery order to each subscriber agree.
type Relay struct {
	store      *store.Store
	bus        *bus.Bus
	outbound   Outbound
	mirror     Mirror
	activity   *activity.Log
	logger     *logger.Logger
	tracer     trace.Tracer
	endMessage string
	now        func() time.Time

	locks [lockStripes]sync.Mutex
}

// Option configures a Relay.
type Option func(*Relay)

// WithMirror forwards every published event to m.
func WithMirror(m Mirror) Option {
	return func(r *Relay) {
		r.mirror = m
	}
}

// WithActivityLog records agent and user actions in l.
func WithActivityLog(l *activity.Log) Option {
	return func(r *Relay) {
		r.activity = l
	}
}

// WithEndMessage sets the text sent to a user when an agent ends the chat.
// An empty text sends nothing.
func WithEndMessage(text string) Option {
	return func(r *Relay) {
		r.endMessage = text
	}
}

// NewRelay creates a relay over the given store and bus.
func NewRelay(st *store.Store, b *bus.Bus, out Outbound, log *logger.Logger, opts ...Option) *Relay {
	r := &Relay{
		store:    st,
		bus:      b,
		outbound: out,
		logger:   log.With(zap.String("component", "relay")),
		tracer:   otel.Tracer("github.com/EthanVT97/viber-uat-middleware/internal/service"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &r.locks[h.Sum32()%lockStripes]
}

// NotifyNewConversation opens a conversation when a user asks for an agent.
// A non-empty firstText is recorded as the first user message. Calling it for
// an already active conversation changes nothing and publishes nothing.
func (r *Relay) NotifyNewConversation(ctx context.Context, id, firstText string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "relay.NotifyNewConversation",
		trace.WithAttributes(attribute.String("viber.id", id)))
	defer span.End()

	if err := ValidateViberID("viber_id", id); err != nil {
		return false, failSpan(span, err)
	}
	if firstText != "" {
		if err := ValidateMessageText("message_text", firstText); err != nil {
			return false, failSpan(span, err)
		}
	}

	mu := r.lock(id)
	mu.Lock()
	if !r.store.Upsert(id) {
		mu.Unlock()
		span.SetAttributes(attribute.Bool("relay.created", false))
		return false, nil
	}

	var first *model.Message
	if firstText != "" {
		msg, err := r.store.AppendUserMessage(id, firstText)
		if err != nil {
			mu.Unlock()
			return true, failSpan(span, fmt.Errorf("failed to record first message: %w", err))
		}
		first = &msg
	}
	r.mirrorEvent(ctx, r.bus.Publish(model.NewConversationEvent(id, r.now().UTC(), first)))
	mu.Unlock()

	span.SetAttributes(attribute.Bool("relay.created", true))
	metrics.ConversationsTotal.Inc()
	metrics.ConversationsActive.Set(float64(r.store.Count()))
	if first != nil {
		metrics.MessagesTotal.WithLabelValues(string(model.SenderUser)).Inc()
	}

	r.logger.Info("conversation opened", zap.String("viber_id", id))
	r.record("new_conversation", activity.StatusOK, map[string]any{"viber_id": id}, "")

	return true, nil
}

// NotifyUserMessage records a message from the user of an active
// conversation and publishes it.
func (r *Relay) NotifyUserMessage(ctx context.Context, id, text string) (model.Message, error) {
	ctx, span := r.tracer.Start(ctx, "relay.NotifyUserMessage",
		trace.WithAttributes(attribute.String("viber.id", id)))
	defer span.End()

	if err := ValidateViberID("viber_id", id); err != nil {
		return model.Message{}, failSpan(span, err)
	}
	if err := ValidateMessageText("message_text", text); err != nil {
		return model.Message{}, failSpan(span, err)
	}

	msg, err := r.appendAndPublish(ctx, id, text, r.store.AppendUserMessage)
	if err != nil {
		return model.Message{}, failSpan(span, err)
	}

	metrics.MessagesTotal.WithLabelValues(string(model.SenderUser)).Inc()

	return msg, nil
}

// NotifyUserEnded ends a conversation from the user's side. It reports
// whether an active conversation was ended.
func (r *Relay) NotifyUserEnded(ctx context.Context, id string) bool {
	ctx, span := r.tracer.Start(ctx, "relay.NotifyUserEnded",
		trace.WithAttributes(attribute.String("viber.id", id)))
	defer span.End()

	return r.end(ctx, id, model.ReasonUserEnded)
}

// SubmitReply records an agent reply, publishes it, then hands it to the
// outbound adapter. If delivery fails the reply stays recorded and the error
// wraps ErrDeliveryFailed.
func (r *Relay) SubmitReply(ctx context.Context, id, text string) (model.Message, error) {
	ctx, span := r.tracer.Start(ctx, "relay.SubmitReply",
		trace.WithAttributes(attribute.String("viber.id", id)))
	defer span.End()

	if err := ValidateViberID("receiver_viber_id", id); err != nil {
		return model.Message{}, failSpan(span, err)
	}
	if err := ValidateMessageText("message_text", text); err != nil {
		return model.Message{}, failSpan(span, err)
	}

	msg, err := r.appendAndPublish(ctx, id, text, r.store.AppendAgentMessage)
	if err != nil {
		r.record("send_message", activity.StatusFailed, map[string]any{"receiver_id": id}, err.Error())
		return model.Message{}, failSpan(span, err)
	}

	metrics.MessagesTotal.WithLabelValues(string(model.SenderAgent)).Inc()

	if err := r.deliver(ctx, id, text); err != nil {
		r.record("send_message", activity.StatusFailed, map[string]any{
			"receiver_id": id,
			"message_id":  msg.ID,
		}, err.Error())
		return msg, failSpan(span, err)
	}

	r.record("send_message", activity.StatusOK, map[string]any{
		"receiver_id": id,
		"message_id":  msg.ID,
	}, "")
	return msg, nil
}

// RedeliverReply retries delivery of an agent reply that is already
// recorded. Nothing is appended or published.
func (r *Relay) RedeliverReply(ctx context.Context, id, messageID string) (model.Message, error) {
	ctx, span := r.tracer.Start(ctx, "relay.RedeliverReply",
		trace.WithAttributes(
			attribute.String("viber.id", id),
			attribute.String("message.id", messageID),
		))
	defer span.End()

	conv, err := r.store.Get(id)
	if err != nil {
		return model.Message{}, failSpan(span, store.ErrUnknownConversation)
	}

	for _, msg := range conv.Messages {
		if msg.ID != messageID {
			continue
		}
		if msg.Sender != model.SenderAgent {
			break
		}
		if err := r.deliver(ctx, id, msg.Text); err != nil {
			return msg, failSpan(span, err)
		}
		r.record("redeliver", activity.StatusOK, map[string]any{
			"receiver_id": id,
			"message_id":  msg.ID,
		}, "")
		return msg, nil
	}

	return model.Message{}, failSpan(span, ErrMessageNotFound)
}

// EndChat ends a conversation on an agent's request. Ending a conversation
// that does not exist succeeds and publishes nothing. It reports whether a
// conversation was ended.
func (r *Relay) EndChat(ctx context.Context, id string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "relay.EndChat",
		trace.WithAttributes(attribute.String("viber.id", id)))
	defer span.End()

	if err := ValidateViberID("viber_id", id); err != nil {
		return false, failSpan(span, err)
	}

	ended := r.end(ctx, id, model.ReasonAgentEnded)
	if ended {
		if err := r.SendNotice(ctx, id, r.endMessage); err != nil {
			r.logger.Warn("failed to notify user of ended chat",
				zap.String("viber_id", id),
				zap.Error(err),
			)
		}
	}

	return ended, nil
}

// SendNotice sends a courtesy text to the user without recording it in the
// conversation. An empty text sends nothing. Like replies, the send is bounded
// by the delivery timeout and survives cancellation of ctx.
func (r *Relay) SendNotice(ctx context.Context, id, text string) error {
	if text == "" {
		return nil
	}
	return r.deliver(ctx, id, text)
}

// IsActive reports whether id has an active conversation.
func (r *Relay) IsActive(id string) bool {
	return r.store.IsActive(id)
}

// List returns a snapshot of active conversations.
func (r *Relay) List() []model.ConversationSummary {
	return r.store.List()
}

// Get returns the full history of an active conversation.
func (r *Relay) Get(id string) (model.Conversation, error) {
	return r.store.Get(id)
}

// Subscribe registers a dashboard stream.
func (r *Relay) Subscribe(ctx context.Context) *bus.Subscription {
	return r.bus.Subscribe(ctx)
}

// Unsubscribe releases a dashboard stream.
func (r *Relay) Unsubscribe(sub *bus.Subscription) {
	r.bus.Unsubscribe(sub)
}

// Subscribers returns the delivery state of connected dashboards.
func (r *Relay) Subscribers() []bus.SubscriberStats {
	return r.bus.Stats()
}

// ActiveConversations returns the number of active conversations.
func (r *Relay) ActiveConversations() int {
	return r.store.Count()
}

// appendAndPublish records a message and publishes it under the
// conversation lock, so the store, the bus and the mirror see the same order.
func (r *Relay) appendAndPublish(ctx context.Context, id, text string, appendFn func(id, text string) (model.Message, error)) (model.Message, error) {
	mu := r.lock(id)
	mu.Lock()
	defer mu.Unlock()

	msg, err := appendFn(id, text)
	if err != nil {
		return model.Message{}, err
	}
	r.mirrorEvent(ctx, r.bus.Publish(model.NewMessageEvent(msg)))
	return msg, nil
}

func (r *Relay) end(ctx context.Context, id, reason string) bool {
	mu := r.lock(id)
	mu.Lock()
	if !r.store.End(id) {
		mu.Unlock()
		return false
	}
	r.mirrorEvent(ctx, r.bus.Publish(model.ConversationEndedEvent(id, reason, r.now().UTC())))
	mu.Unlock()

	metrics.ConversationsActive.Set(float64(r.store.Count()))
	r.logger.Info("conversation ended",
		zap.String("viber_id", id),
		zap.String("reason", reason),
	)
	r.record("end_chat", activity.StatusOK, map[string]any{"viber_id": id, "reason": reason}, "")

	return true
}

// deliver runs the outbound call detached from the caller's cancellation so
// a dashboard navigating away does not abort a send in flight.
func (r *Relay) deliver(ctx context.Context, id, text string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	start := time.Now()
	err := r.outbound.Deliver(ctx, id, text)
	if err != nil {
		metrics.RecordDelivery("failed", time.Since(start).Seconds())
		r.logger.Warn("outbound delivery failed",
			zap.String("viber_id", id),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	metrics.RecordDelivery("ok", time.Since(start).Seconds())
	return nil
}

// mirrorEvent runs under the conversation lock. Mirrors must not block; the
// event is already recorded, so the caller's cancellation does not apply.
func (r *Relay) mirrorEvent(ctx context.Context, ev model.Event) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.MirrorEvent(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn("failed to mirror event",
			zap.String("type", string(ev.Type)),
			zap.Uint64("sequence", ev.Sequence),
			zap.Error(err),
		)
	}
}

func (r *Relay) record(endpoint, status string, payload map[string]any, errDetail string) {
	if r.activity == nil {
		return
	}
	r.activity.Add(endpoint, status, payload, errDetail)
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
