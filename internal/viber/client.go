// Package viber talks to the Viber REST bot API.
package viber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

const (
	// DefaultAPIURL is the base URL of the Viber bot API.
	DefaultAPIURL = "https://chatapi.viber.com/pa"

	// MaxTextLength is the longest text message Viber accepts, in characters.
	MaxTextLength = 7000

	authHeader = "X-Viber-Auth-Token"
)

// APIError is returned when Viber answers with a non-zero status.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"status_message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("viber api status %d: %s", e.Status, e.Message)
}

// Config holds Viber client configuration.
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// Client sends messages to Viber users.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a Viber client. An empty token puts the client in dry-run
// mode: messages are logged instead of sent.
func NewClient(cfg Config, log *logger.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		token:      cfg.Token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(zap.String("component", "viber")),
	}
}

// Configured reports whether a bot token is set.
func (c *Client) Configured() bool {
	return c.token != ""
}

type sendMessageRequest struct {
	Receiver string `json:"receiver"`
	Type     string `json:"type"`
	Text     string `json:"text"`
}

type sendMessageResponse struct {
	Status        int    `json:"status"`
	StatusMessage string `json:"status_message"`
	MessageToken  int64  `json:"message_token"`
}

// SendText sends a text message to receiver.
func (c *Client) SendText(ctx context.Context, receiver, text string) error {
	if !c.Configured() {
		c.logger.Warn("viber bot token not set, message not sent",
			zap.String("viber_id", receiver),
		)
		return nil
	}

	body, err := json.Marshal(sendMessageRequest{
		Receiver: receiver,
		Type:     "text",
		Text:     Truncate(text, MaxTextLength),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send_message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("viber api http status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out sendMessageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Status != 0 {
		return &APIError{Status: out.Status, Message: out.StatusMessage}
	}

	c.logger.Debug("viber message sent",
		zap.String("viber_id", receiver),
		zap.Int64("message_token", out.MessageToken),
	)
	return nil
}

// Deliver sends an agent reply to the conversation's user.
func (c *Client) Deliver(ctx context.Context, conversationID, text string) error {
	return c.SendText(ctx, conversationID, text)
}

// Truncate cuts s to at most max characters.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
