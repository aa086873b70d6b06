// Package model defines data structures for the agent-chat relay.
package model

import (
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Conversation is an agent-mediated chat with one Viber user.
type Conversation struct {
	ID        string    `json:"viber_id"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Messages  []Message `json:"messages"`
}

// ConversationSummary is the list view of an active conversation.
type ConversationSummary struct {
	ID           string    `json:"viber_id"`
	StartedAt    time.Time `json:"started_at"`
	MessageCount int       `json:"message_count"`
	LastMessage  *Message  `json:"last_message,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}
