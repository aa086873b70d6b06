package viber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

func TestClient_SendTextPostsMessage(t *testing.T) {
	var got sendMessageRequest
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send_message", r.URL.Path)
		token = r.Header.Get(authHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":0,"status_message":"ok","message_token":42}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Token: "secret", BaseURL: srv.URL}, logger.NewNop())
	require.NoError(t, c.Deliver(context.Background(), "U1", "hi"))

	assert.Equal(t, "secret", token)
	assert.Equal(t, "U1", got.Receiver)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "hi", got.Text)
}

func TestClient_SendTextReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":6,"status_message":"notSubscribed"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Token: "secret", BaseURL: srv.URL}, logger.NewNop())
	err := c.SendText(context.Background(), "U1", "hi")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 6, apiErr.Status)
	assert.Equal(t, "notSubscribed", apiErr.Message)
}

func TestClient_SendTextReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{Token: "secret", BaseURL: srv.URL}, logger.NewNop())
	err := c.SendText(context.Background(), "U1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_DryRunWithoutToken(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, logger.NewNop())
	assert.False(t, c.Configured())
	assert.NoError(t, c.SendText(context.Background(), "U1", "hi"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "ရပ်", Truncate("ရပ်မည်", 3))
	assert.Len(t, []rune(Truncate(strings.Repeat("x", MaxTextLength+10), MaxTextLength)), MaxTextLength)
}

func TestSignature_RoundTrip(t *testing.T) {
	body := []byte(`{"event":"message"}`)
	sig := Sign("token", body)

	assert.True(t, VerifySignature("token", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("token", []byte(`{}`), sig))
	assert.False(t, VerifySignature("token", body, "not-hex"))
	assert.False(t, VerifySignature("", body, sig))
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		sender string
		text   string
		key    string
	}{
		{
			name:   "text message",
			body:   `{"event":"message","timestamp":1,"message_token":4912661846655238145,"sender":{"id":"U1","name":"Ko"},"message":{"type":"text","text":"hello"}}`,
			sender: "U1",
			text:   "hello",
			key:    "message:4912661846655238145",
		},
		{
			name:   "sticker message has no text",
			body:   `{"event":"message","timestamp":1,"message_token":7,"sender":{"id":"U1"},"message":{"type":"sticker"}}`,
			sender: "U1",
			key:    "message:7",
		},
		{
			name:   "conversation started",
			body:   `{"event":"conversation_started","timestamp":5,"user":{"id":"U2"}}`,
			sender: "U2",
			key:    "conversation_started:U2:5",
		},
		{
			name:   "delivery receipt",
			body:   `{"event":"delivered","timestamp":9,"message_token":3,"user_id":"U3"}`,
			sender: "U3",
			key:    "delivered:3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := ParseCallback([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.sender, cb.SenderID())
			assert.Equal(t, tt.text, cb.Text())
			assert.Equal(t, tt.key, cb.DedupeKey())
		})
	}
}

func TestParseCallback_Invalid(t *testing.T) {
	_, err := ParseCallback([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseCallback([]byte(`{}`))
	assert.Error(t, err)
}
