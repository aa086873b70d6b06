package bus

import (
	"sync/atomic"
	"time"

	"github.com/EthanVT97/viber-uat-middleware/internal/model"
)

// Subscription is one dashboard's view of the bus. Its queue is read by a
// single delivery loop.
type Subscription struct {
	id          string
	ch          chan model.Event
	connectedAt time.Time

	// done and err are guarded by the owning bus mutex.
	done   chan struct{}
	err    error
	closed bool

	delivered    atomic.Uint64
	lastSequence atomic.Uint64
}

// SubscriberStats describes a subscriber's delivery progress.
type SubscriberStats struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connected_at"`
	Queued       int       `json:"queued"`
	Capacity     int       `json:"capacity"`
	Delivered    uint64    `json:"delivered"`
	LastSequence uint64    `json:"last_sequence"`
	Lag          uint64    `json:"lag"`
}

// ID returns the process-local subscriber id.
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the subscriber's queue. It is closed when the subscription
// ends; Err then tells why.
func (s *Subscription) Events() <-chan model.Event {
	return s.ch
}

// Err returns ErrSubscriberOverflow if the subscriber was dropped for being
// too slow, ErrBusClosed after Bus.Close, and nil otherwise.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// MarkDelivered records that ev was flushed to the client.
func (s *Subscription) MarkDelivered(ev model.Event) {
	s.delivered.Add(1)
	s.lastSequence.Store(ev.Sequence)
}

// closeLocked ends the subscription. Callers hold the bus mutex, or own the
// subscription exclusively.
func (s *Subscription) closeLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
	close(s.done)
}

func (s *Subscription) statsLocked(busSeq uint64) SubscriberStats {
	last := s.lastSequence.Load()
	var lag uint64
	if busSeq > last {
		lag = busSeq - last
	}
	return SubscriberStats{
		ID:           s.id,
		ConnectedAt:  s.connectedAt,
		Queued:       len(s.ch),
		Capacity:     cap(s.ch),
		Delivered:    s.delivered.Load(),
		LastSequence: last,
		Lag:          lag,
	}
}
