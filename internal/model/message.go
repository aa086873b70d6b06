package model

import (
	"time"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Message is one entry of a conversation history.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	Seq            int       `json:"seq"`
}

// SendReplyRequest is the body of an agent reply.
type SendReplyRequest struct {
	ReceiverViberID string `json:"receiver_viber_id"`
	MessageText     string `json:"message_text"`
}

// EndChatRequest is the body of an agent end-chat command.
type EndChatRequest struct {
	ViberID string `json:"viber_id"`
}

// SuggestReplyResponse carries an LLM drafted reply.
type SuggestReplyResponse struct {
	ViberID    string `json:"viber_id"`
	Suggestion string `json:"suggestion"`
	Model      string `json:"model"`
}

// ErrorEvent is sent on a stream before it is closed by the server.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent keeps idle streams open through proxies.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
