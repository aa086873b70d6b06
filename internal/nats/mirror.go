package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/EthanVT97/viber-uat-middleware/internal/model"
)

const (
	// StreamName is the name of the relay events stream.
	StreamName = "RELAY_EVENTS"

	// SubjectPrefix is the prefix for mirrored relay events.
	SubjectPrefix = "relay"

	// SequenceHeader carries the relay sequence of a mirrored event.
	SequenceHeader = "Relay-Sequence"
)

// Mirror copies relay events into JetStream so other services can audit or
// replay agent conversations.
type Mirror struct {
	client *Client
}

// NewMirror creates a new event mirror.
func NewMirror(client *Client) *Mirror {
	return &Mirror{client: client}
}

// EnsureStream ensures the relay events stream exists.
func (m *Mirror) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		Discard:     jetstream.DiscardOld,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Agent conversation events relayed between Viber and dashboards",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject an event is mirrored on.
func EventSubject(ev model.Event) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, SubjectToken(ev.ConversationID()), ev.Type)
}

// ConversationFilter returns the filter subject for one conversation.
func ConversationFilter(viberID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, SubjectToken(viberID))
}

// SubjectToken makes s usable as a single subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// MirrorEvent publishes ev without waiting for the acknowledgement. Publish
// failures are reported by the client's async error handler.
func (m *Mirror) MirrorEvent(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(EventSubject(ev))
	msg.Data = data
	msg.Header.Set(SequenceHeader, fmt.Sprintf("%d", ev.Sequence))

	if _, err := m.client.JetStream().PublishMsgAsync(msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
