package model

import (
	"time"
)

// EventType is the discriminator of a relay event.
type EventType string

const (
	EventTypeNewConversation   EventType = "new_conversation"
	EventTypeNewMessage        EventType = "new_message"
	EventTypeConversationEnded EventType = "conversation_ended"
)

// Reasons attached to conversation_ended events.
const (
	ReasonUserEnded  = "User ended chat"
	ReasonAgentEnded = "Agent ended chat"
)

// Event is a relay event as it is pushed to dashboards. Only the fields
// belonging to the event type are set.
type Event struct {
	Type        EventType `json:"type"`
	ViberID     string    `json:"viber_id,omitempty"`
	SenderID    string    `json:"sender_id,omitempty"`
	Sender      Sender    `json:"sender,omitempty"`
	MessageText string    `json:"message_text,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Reason      string    `json:"reason,omitempty"`
	Sequence    uint64    `json:"sequence"`
}

// ConversationID returns the id of the conversation the event belongs to.
func (e Event) ConversationID() string {
	if e.Type == EventTypeNewMessage {
		return e.SenderID
	}
	return e.ViberID
}

// NewConversationEvent builds a new_conversation event. first may be nil when
// the conversation was opened without a message.
func NewConversationEvent(id string, startedAt time.Time, first *Message) Event {
	ev := Event{
		Type:      EventTypeNewConversation,
		ViberID:   id,
		Timestamp: startedAt,
	}
	if first != nil {
		ev.MessageText = first.Text
		ev.Timestamp = first.Timestamp
	}
	return ev
}

// NewMessageEvent builds a new_message event from a stored message.
func NewMessageEvent(msg Message) Event {
	return Event{
		Type:        EventTypeNewMessage,
		SenderID:    msg.ConversationID,
		Sender:      msg.Sender,
		MessageText: msg.Text,
		Timestamp:   msg.Timestamp,
	}
}

// ConversationEndedEvent builds a conversation_ended event.
func ConversationEndedEvent(id, reason string, at time.Time) Event {
	return Event{
		Type:      EventTypeConversationEnded,
		ViberID:   id,
		Timestamp: at,
		Reason:    reason,
	}
}
