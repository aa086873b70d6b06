package viber

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// SignatureHeader carries the HMAC of a webhook body.
const SignatureHeader = "X-Viber-Content-Signature"

// Callback event types.
const (
	EventMessage             = "message"
	EventConversationStarted = "conversation_started"
	EventSubscribed          = "subscribed"
	EventUnsubscribed        = "unsubscribed"
	EventDelivered           = "delivered"
	EventSeen                = "seen"
	EventFailed              = "failed"
	EventWebhook             = "webhook"
)

// User is a Viber user as it appears in callbacks.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CallbackMessage is the message part of a message callback.
type CallbackMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Callback is a webhook request sent by Viber.
type Callback struct {
	Event        string           `json:"event"`
	Timestamp    int64            `json:"timestamp"`
	MessageToken json.Number      `json:"message_token,omitempty"`
	Sender       *User            `json:"sender,omitempty"`
	User         *User            `json:"user,omitempty"`
	UserID       string           `json:"user_id,omitempty"`
	Message      *CallbackMessage `json:"message,omitempty"`
}

// ParseCallback decodes a webhook body.
func ParseCallback(body []byte) (*Callback, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("failed to decode callback: %w", err)
	}
	if cb.Event == "" {
		return nil, fmt.Errorf("callback has no event type")
	}
	return &cb, nil
}

// SenderID returns the id of the user the callback is about.
func (cb *Callback) SenderID() string {
	switch cb.Event {
	case EventMessage:
		if cb.Sender != nil {
			return cb.Sender.ID
		}
	case EventConversationStarted, EventSubscribed:
		if cb.User != nil {
			return cb.User.ID
		}
	default:
		return cb.UserID
	}
	return ""
}

// Text returns the text of a text message callback.
func (cb *Callback) Text() string {
	if cb.Message == nil || cb.Message.Type != "text" {
		return ""
	}
	return cb.Message.Text
}

// DedupeKey identifies a callback across Viber retries.
func (cb *Callback) DedupeKey() string {
	if cb.MessageToken != "" {
		return cb.Event + ":" + cb.MessageToken.String()
	}
	return cb.Event + ":" + cb.SenderID() + ":" + strconv.FormatInt(cb.Timestamp, 10)
}

// Sign returns the hex HMAC-SHA256 of body keyed by the bot token.
func Sign(token string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body.
func VerifySignature(token string, body []byte, signature string) bool {
	if token == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
