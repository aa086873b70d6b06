package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/internal/llm"
	"github.com/EthanVT97/viber-uat-middleware/internal/model"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

// ErrSuggestionsDisabled is returned when no language model is configured.
var ErrSuggestionsDisabled = errors.New("reply suggestions are not configured")

const suggestInstruction = `You are helping a customer support agent answer a chat on Viber.
Below is the conversation so far. Draft the agent's next reply: short, polite,
in the same language the user writes in. Reply with the message text only.`

// Suggester drafts agent replies from a conversation transcript. Drafts are
// never sent or recorded; the agent submits them like any other reply.
type Suggester struct {
	relay  *Relay
	client llm.Client
	model  string
	logger *logger.Logger
}

// NewSuggester creates a suggester. A nil client disables suggestions.
func NewSuggester(relay *Relay, client llm.Client, model string, log *logger.Logger) *Suggester {
	return &Suggester{
		relay:  relay,
		client: client,
		model:  model,
		logger: log.With(zap.String("component", "suggester")),
	}
}

// Enabled reports whether a language model is configured.
func (s *Suggester) Enabled() bool {
	return s != nil && s.client != nil
}

// Suggest drafts a reply for the active conversation id.
func (s *Suggester) Suggest(ctx context.Context, id string) (*model.SuggestReplyResponse, error) {
	if !s.Enabled() {
		return nil, ErrSuggestionsDisabled
	}

	ctx, span := s.relay.tracer.Start(ctx, "relay.SuggestReply",
		trace.WithAttributes(attribute.String("viber.id", id)))
	defer span.End()

	conv, err := s.relay.Get(id)
	if err != nil {
		return nil, failSpan(span, err)
	}

	resp, err := s.client.Complete(ctx, &llm.CompletionRequest{
		Model: s.model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleUser, Content: transcript(conv)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		s.logger.Warn("suggestion failed",
			zap.String("viber_id", id),
			zap.String("provider", s.client.Name()),
			zap.Error(err),
		)
		return nil, failSpan(span, fmt.Errorf("failed to draft reply: %w", err))
	}

	span.SetAttributes(
		attribute.String("llm.model", resp.Model),
		attribute.Int("llm.tokens_in", resp.TokensIn),
		attribute.Int("llm.tokens_out", resp.TokensOut),
	)

	return &model.SuggestReplyResponse{
		ViberID:    id,
		Suggestion: strings.TrimSpace(resp.Content),
		Model:      resp.Model,
	}, nil
}

func transcript(conv model.Conversation) string {
	var b strings.Builder
	b.WriteString(suggestInstruction)
	b.WriteString("\n\n")
	for _, msg := range conv.Messages {
		switch msg.Sender {
		case model.SenderAgent:
			b.WriteString("Agent: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Text)
		b.WriteString("\n")
	}
	b.WriteString("Agent:")
	return b.String()
}
