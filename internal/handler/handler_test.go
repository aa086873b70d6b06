package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanVT97/viber-uat-middleware/internal/activity"
	"github.com/EthanVT97/viber-uat-middleware/internal/bus"
	"github.com/EthanVT97/viber-uat-middleware/internal/dedupe"
	"github.com/EthanVT97/viber-uat-middleware/internal/middleware"
	"github.com/EthanVT97/viber-uat-middleware/internal/model"
	"github.com/EthanVT97/viber-uat-middleware/internal/service"
	"github.com/EthanVT97/viber-uat-middleware/internal/store"
	"github.com/EthanVT97/viber-uat-middleware/internal/viber"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

const testToken = "bot-token"

type fakeOutbound struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeOutbound) Deliver(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeOutbound) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type testEnv struct {
	router   http.Handler
	relay    *service.Relay
	bus      *bus.Bus
	out      *fakeOutbound
	activity *activity.Log
}

type envOption func(*WebhookConfig, *RouterConfig)

func withSignatureCheck() envOption {
	return func(wc *WebhookConfig, _ *RouterConfig) { wc.VerifySignature = true }
}

func withAuth(mw func(http.Handler) http.Handler) envOption {
	return func(_ *WebhookConfig, rc *RouterConfig) { rc.Auth = mw }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	log := logger.NewNop()

	env := &testEnv{
		bus:      bus.New(64, log),
		out:      &fakeOutbound{},
		activity: activity.New(10),
	}
	t.Cleanup(env.bus.Close)
	env.relay = service.NewRelay(store.New(), env.bus, env.out, log,
		service.WithActivityLog(env.activity),
		service.WithEndMessage("Thanks for chatting"),
	)

	wc := WebhookConfig{Token: testToken, StartMessage: "An agent will answer shortly", StopMessage: "Chat closed"}
	rc := RouterConfig{}
	for _, opt := range opts {
		opt(&wc, &rc)
	}

	env.router = NewRouter(&Handlers{
		Dashboard: NewDashboardHandler(env.relay, service.NewSuggester(env.relay, nil, "", log), log),
		Stream:    NewStreamHandler(env.relay, time.Hour, log),
		Webhook:   NewWebhookHandler(env.relay, dedupe.New(time.Minute, 100), env.activity, wc, log),
		Monitor:   NewMonitorHandler(env.activity),
		Health:    NewHealthHandler(env.relay, nil),
	}, rc, log)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) open(t *testing.T, id string) {
	t.Helper()
	_, err := e.relay.NotifyNewConversation(context.Background(), id, "")
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "U1")

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
	}{
		{name: "malformed json", body: "{", wantCode: http.StatusBadRequest},
		{name: "missing receiver", body: model.SendReplyRequest{MessageText: "hi"}, wantCode: http.StatusBadRequest},
		{name: "empty text", body: model.SendReplyRequest{ReceiverViberID: "U1"}, wantCode: http.StatusBadRequest},
		{name: "unknown conversation", body: model.SendReplyRequest{ReceiverViberID: "U2", MessageText: "hi"}, wantCode: http.StatusNotFound},
		{name: "success", body: model.SendReplyRequest{ReceiverViberID: "U1", MessageText: "hi"}, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/agent_dashboard/send_message", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	assert.Equal(t, []string{"hi"}, env.out.sent())
}

func TestSendMessage_DeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "U1")
	env.out.err = errors.New("viber down")

	rec := env.do(t, http.MethodPost, "/agent_dashboard/send_message",
		model.SendReplyRequest{ReceiverViberID: "U1", MessageText: "hello"})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decode[SendReplyResponse](t, rec)
	assert.True(t, resp.MessageRecorded)
	assert.Equal(t, "delivery_failed", resp.Status)
	require.NotNil(t, resp.Message)

	conv, err := env.relay.Get("U1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)

	env.out.err = nil
	rec = env.do(t, http.MethodPost,
		"/agent_dashboard/conversations/U1/messages/"+resp.Message.ID+"/redeliver", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/agent_dashboard/conversations/U1/messages/nope/redeliver", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndChat(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "U1")

	rec := env.do(t, http.MethodPost, "/agent_dashboard/end_chat", model.EndChatRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/agent_dashboard/end_chat", model.EndChatRequest{ViberID: "U1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[EndChatResponse](t, rec).Ended)
	assert.Equal(t, []string{"Thanks for chatting"}, env.out.sent())

	rec = env.do(t, http.MethodPost, "/agent_dashboard/end_chat", model.EndChatRequest{ViberID: "U1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[EndChatResponse](t, rec).Ended)
}

func TestConversationQueries(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.relay.NotifyNewConversation(context.Background(), "U1", "hello")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/agent_dashboard/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[model.ListConversationsResponse](t, rec)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "U1", list.Conversations[0].ID)

	rec = env.do(t, http.MethodGet, "/agent_dashboard/conversations/U1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[model.Conversation](t, rec)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hello", conv.Messages[0].Text)

	rec = env.do(t, http.MethodGet, "/agent_dashboard/conversations/U9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/agent_dashboard/conversations/U1/suggest", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func callback(event, sender, text, token string) map[string]interface{} {
	cb := map[string]interface{}{
		"event":         event,
		"timestamp":     1700000000000,
		"message_token": token,
		"sender":        map[string]string{"id": sender, "name": "Ko Ko"},
	}
	if text != "" {
		cb["message"] = map[string]string{"type": "text", "text": text}
	}
	return cb
}

func TestWebhook_ConversationLifecycle(t *testing.T) {
	env := newTestEnv(t)

	outcome := func(rec *httptest.ResponseRecorder) string {
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[map[string]string](t, rec)["outcome"]
	}

	rec := env.do(t, http.MethodPost, "/viber/webhook", callback(viber.EventMessage, "U1", "hello bot", "1"))
	assert.Equal(t, outcomeIgnored, outcome(rec))
	assert.False(t, env.relay.IsActive("U1"))

	rec = env.do(t, http.MethodPost, "/viber/webhook", callback(viber.EventMessage, "U1", DefaultStartKeyword, "2"))
	assert.Equal(t, outcomeStarted, outcome(rec))
	assert.True(t, env.relay.IsActive("U1"))

	rec = env.do(t, http.MethodPost, "/viber/webhook", callback(viber.EventMessage, "U1", "my order is late", "3"))
	assert.Equal(t, outcomeRelayed, outcome(rec))

	// Viber retries with the same token.
	rec = env.do(t, http.MethodPost, "/viber/webhook", callback(viber.EventMessage, "U1", "my order is late", "3"))
	assert.Equal(t, outcomeDuplicate, outcome(rec))

	rec = env.do(t, http.MethodPost, "/viber/webhook", callback(viber.EventDelivered, "U1", "", "4"))
	assert.Equal(t, outcomeIgnored, outcome(rec))

	rec = env.do(t, http.MethodPost, "/viber/webhook", callback(viber.EventMessage, "U1", DefaultStopKeyword, "5"))
	assert.Equal(t, outcomeEnded, outcome(rec))
	assert.False(t, env.relay.IsActive("U1"))

	assert.Equal(t, []string{"An agent will answer shortly", "Chat closed"}, env.out.sent())
}

func TestWebhook_NoticeFailureIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	env.out.err = errors.New("viber unavailable")

	rec := env.do(t, http.MethodPost, "/viber/webhook", callback(viber.EventMessage, "U1", DefaultStartKeyword, "1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, outcomeStarted, decode[map[string]string](t, rec)["outcome"])
	assert.True(t, env.relay.IsActive("U1"))
	assert.Equal(t, []string{"An agent will answer shortly"}, env.out.sent())
}

func TestWebhook_RelayedMessagesAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "U1")

	env.do(t, http.MethodPost, "/viber/webhook", callback(viber.EventMessage, "U1", "first", "10"))
	env.do(t, http.MethodPost, "/viber/webhook", callback(viber.EventMessage, "U1", "second", "11"))

	conv, err := env.relay.Get("U1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "first", conv.Messages[0].Text)
	assert.Equal(t, "second", conv.Messages[1].Text)
}

func TestWebhook_Signature(t *testing.T) {
	env := newTestEnv(t, withSignatureCheck())
	body, err := json.Marshal(callback(viber.EventMessage, "U1", DefaultStartKeyword, "1"))
	require.NoError(t, err)

	send := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/viber/webhook", bytes.NewReader(body))
		if sig != "" {
			req.Header.Set(viber.SignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusForbidden, send(""))
	assert.Equal(t, http.StatusForbidden, send(viber.Sign("other-token", body)))
	assert.False(t, env.relay.IsActive("U1"))

	assert.Equal(t, http.StatusOK, send(viber.Sign(testToken, body)))
	assert.True(t, env.relay.IsActive("U1"))
}

func TestWebhook_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/viber/webhook", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitorLogs(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "U1")
	_, err := env.relay.EndChat(context.Background(), "U1")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/monitor/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []activity.Entry `json:"entries"`
		Total   int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "end_chat", resp.Entries[0].Endpoint)
	assert.Equal(t, "new_conversation", resp.Entries[1].Endpoint)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubscribers(t *testing.T) {
	env := newTestEnv(t)

	body := decode[struct {
		Subscribers []bus.SubscriberStats `json:"subscribers"`
		Total       int                   `json:"total"`
	}](t, env.do(t, http.MethodGet, "/agent_dashboard/subscribers", nil))
	assert.Equal(t, 0, body.Total)

	sub := env.relay.Subscribe(context.Background())
	defer env.relay.Unsubscribe(sub)

	body = decode[struct {
		Subscribers []bus.SubscriberStats `json:"subscribers"`
		Total       int                   `json:"total"`
	}](t, env.do(t, http.MethodGet, "/agent_dashboard/subscribers", nil))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, sub.ID(), body.Subscribers[0].ID)
	assert.Equal(t, 64, body.Subscribers[0].Capacity)
}

func TestRouter_AuthGatesDashboard(t *testing.T) {
	env := newTestEnv(t, withAuth(middleware.BasicAuth("admin", "secret")))

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/agent_dashboard/conversations", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/monitor/logs", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/agent_dashboard/conversations", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// sseFrame is one parsed Server-Sent Events frame.
type sseFrame struct {
	event string
	id    string
	data  string
}

func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return f
		}
		key, value, _ := strings.Cut(line, ": ")
		switch key {
		case "event":
			f.event = value
		case "id":
			f.id = value
		case "data":
			f.data = value
		}
	}
}

func TestStream_SSE(t *testing.T) {
	env := newTestEnv(t)
	env.open(t, "U0")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/agent_dashboard/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)

	assert.Equal(t, "connected", readFrame(t, r).event)

	snap := readFrame(t, r)
	assert.Equal(t, "snapshot", snap.event)
	var list model.ListConversationsResponse
	require.NoError(t, json.Unmarshal([]byte(snap.data), &list))
	assert.Equal(t, 1, list.Total)

	_, err = env.relay.NotifyNewConversation(ctx, "U1", "")
	require.NoError(t, err)
	_, err = env.relay.NotifyUserMessage(ctx, "U1", "hello")
	require.NoError(t, err)

	first := readFrame(t, r)
	assert.Empty(t, first.event)
	assert.NotEmpty(t, first.id)
	var ev model.Event
	require.NoError(t, json.Unmarshal([]byte(first.data), &ev))
	assert.Equal(t, model.EventTypeNewConversation, ev.Type)
	assert.Equal(t, "U1", ev.ViberID)

	second := readFrame(t, r)
	require.NoError(t, json.Unmarshal([]byte(second.data), &ev))
	assert.Equal(t, model.EventTypeNewMessage, ev.Type)
	assert.Equal(t, "U1", ev.SenderID)
	assert.Equal(t, "hello", ev.MessageText)

	// Shutting the bus down tells the dashboard why the stream ends.
	env.bus.Close()
	bye := readFrame(t, r)
	assert.Equal(t, "disconnected", bye.event)
	assert.Contains(t, bye.data, shutdownCode)
}

func TestStream_SSECancelUnsubscribes(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/agent_dashboard/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "connected", readFrame(t, bufio.NewReader(resp.Body)).event)
	require.Len(t, env.relay.Subscribers(), 1)

	cancel()
	assert.Eventually(t, func() bool { return len(env.relay.Subscribers()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

// streamServer serves the SSE handler alone over a bus with a small
// per-subscriber buffer, and closes done when the handler returns.
type streamServer struct {
	bus  *bus.Bus
	url  string
	done chan struct{}
}

func newStreamServer(t *testing.T, buffer int, writeWait time.Duration) *streamServer {
	t.Helper()
	log := logger.NewNop()
	b := bus.New(buffer, log)
	t.Cleanup(b.Close)

	h := NewStreamHandler(service.NewRelay(store.New(), b, &fakeOutbound{}, log), time.Hour, log)
	h.writeWait = writeWait

	s := &streamServer{bus: b, done: make(chan struct{})}
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer once.Do(func() { close(s.done) })
		h.Stream(w, r)
	}))
	t.Cleanup(srv.Close)
	s.url = srv.URL
	return s
}

// floodUntilEvicted publishes messages until the only subscriber is dropped.
func (s *streamServer) floodUntilEvicted(t *testing.T, text string) {
	t.Helper()
	require.Eventually(t, func() bool { return s.bus.Len() == 1 }, time.Second, 5*time.Millisecond)
	for i := 0; s.bus.Len() > 0; i++ {
		require.Less(t, i, 100000, "subscriber was never evicted")
		s.bus.Publish(model.NewMessageEvent(model.Message{
			ConversationID: "U1",
			Sender:         model.SenderUser,
			Text:           text,
			Timestamp:      time.Now().UTC(),
		}))
	}
}

func (s *streamServer) waitReturned(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(within):
		t.Fatal("stream handler did not return")
	}
}

func TestStream_SSEOverflowDisconnects(t *testing.T) {
	s := newStreamServer(t, 1, streamWriteWait)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/agent_dashboard/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	require.Equal(t, "connected", readFrame(t, r).event)
	require.Equal(t, "snapshot", readFrame(t, r).event)

	s.floodUntilEvicted(t, "m")

	// Data frames queued before eviction are unnamed; the first named frame
	// must explain the disconnect.
	var frame sseFrame
	for frame.event == "" {
		frame = readFrame(t, r)
	}
	assert.Equal(t, "disconnected", frame.event)
	assert.Contains(t, frame.data, disconnectCode)

	s.waitReturned(t, time.Second)
}

func TestStream_SSEStalledClientIsReleased(t *testing.T) {
	s := newStreamServer(t, 1, 200*time.Millisecond)

	// A client that sends the request and never reads the response.
	conn, err := net.Dial("tcp", strings.TrimPrefix(s.url, "http://"))
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprint(conn, "GET /agent_dashboard/stream HTTP/1.1\r\nHost: relay\r\n\r\n")
	require.NoError(t, err)

	s.floodUntilEvicted(t, strings.Repeat("x", 64<<10))

	s.waitReturned(t, 3*time.Second)
}

func TestStream_WebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent_dashboard/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connected", frame.Type)
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "snapshot", frame.Type)

	env.open(t, "U1")

	var ev model.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, model.EventTypeNewConversation, ev.Type)
	assert.Equal(t, "U1", ev.ViberID)

	assert.Eventually(t, func() bool {
		stats := env.relay.Subscribers()
		return len(stats) == 1 && stats[0].Delivered == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return len(env.relay.Subscribers()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestDisconnectFrame(t *testing.T) {
	assert.Nil(t, disconnectFrame(nil))
	assert.Equal(t, disconnectCode, disconnectFrame(bus.ErrSubscriberOverflow).Code)
	assert.Equal(t, shutdownCode, disconnectFrame(bus.ErrBusClosed).Code)
}
