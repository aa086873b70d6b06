// Package bus fans relay events out to connected dashboard subscribers.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/internal/model"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
	"github.com/EthanVT97/viber-uat-middleware/pkg/metrics"
)

// DefaultBufferSize is the per-subscriber queue bound.
const DefaultBufferSize = 64

var (
	// ErrSubscriberOverflow is reported by a subscription that was dropped
	// because its queue filled up.
	ErrSubscriberOverflow = errors.New("subscriber queue overflow")

	// ErrBusClosed is reported by subscriptions closed by Bus.Close.
	ErrBusClosed = errors.New("event bus closed")
)

// Bus delivers every published event to every current subscriber. It never
// replays: a subscriber only sees events published after it subscribed.
type Bus struct {
	mu         sync.Mutex
	subs       map[string]*Subscription
	bufferSize int
	seq        uint64
	closed     bool
	logger     *logger.Logger
}

// New creates a bus whose subscribers buffer up to bufferSize events.
func New(bufferSize int, log *logger.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[string]*Subscription),
		bufferSize: bufferSize,
		logger:     log.With(zap.String("component", "bus")),
	}
}

// Subscribe registers a subscriber. The subscription is removed when ctx is
// done or Unsubscribe is called, whichever happens first.
func (b *Bus) Subscribe(ctx context.Context) *Subscription {
	sub := &Subscription{
		id:          uuid.New().String(),
		ch:          make(chan model.Event, b.bufferSize),
		done:        make(chan struct{}),
		connectedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	// Lag is measured from the point of subscription.
	sub.lastSequence.Store(b.seq)
	if b.closed {
		b.mu.Unlock()
		sub.closeLocked(ErrBusClosed)
		return sub
	}
	b.subs[sub.id] = sub
	count := len(b.subs)
	b.mu.Unlock()

	metrics.SubscribersActive.Set(float64(count))
	b.logger.Debug("subscriber added", zap.String("sub_id", sub.id))

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(sub)
		case <-sub.done:
		}
	}()

	return sub
}

// Publish stamps the event with the next bus sequence and enqueues it for
// every subscriber without waiting. A subscriber whose queue is full is
// dropped and its queue closed. The stamped event is returned.
func (b *Bus) Publish(ev model.Event) model.Event {
	b.mu.Lock()
	b.seq++
	ev.Sequence = b.seq

	var evicted []string
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(b.subs, id)
			sub.closeLocked(ErrSubscriberOverflow)
			evicted = append(evicted, id)
		}
	}
	count := len(b.subs)
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	if len(evicted) > 0 {
		metrics.SubscriberEvictions.Add(float64(len(evicted)))
		metrics.SubscribersActive.Set(float64(count))
		for _, id := range evicted {
			b.logger.Warn("dropped slow subscriber",
				zap.String("sub_id", id),
				zap.Uint64("sequence", ev.Sequence),
			)
		}
	}

	return ev
}

// Unsubscribe removes the subscription and closes its queue. It is safe to
// call more than once and from any goroutine.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	current, ok := b.subs[sub.id]
	if !ok || current != sub {
		b.mu.Unlock()
		return
	}
	delete(b.subs, sub.id)
	sub.closeLocked(nil)
	count := len(b.subs)
	b.mu.Unlock()

	metrics.SubscribersActive.Set(float64(count))
	b.logger.Debug("subscriber removed", zap.String("sub_id", sub.id))
}

// Len returns the number of current subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Stats returns the delivery state of every current subscriber.
func (b *Bus) Stats() []SubscriberStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := make([]SubscriberStats, 0, len(b.subs))
	for _, sub := range b.subs {
		stats = append(stats, sub.statsLocked(b.seq))
	}
	return stats
}

// Close drops every subscriber. Later subscriptions are closed immediately.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.closeLocked(ErrBusClosed)
	}
	b.closed = true
	metrics.SubscribersActive.Set(0)
}
