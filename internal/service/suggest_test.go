package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanVT97/viber-uat-middleware/internal/llm"
	"github.com/EthanVT97/viber-uat-middleware/internal/store"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

type fakeLLM struct {
	req  *llm.CompletionRequest
	resp *llm.CompletionResponse
	err  error
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeLLM) Name() string         { return "fake" }
func (f *fakeLLM) DefaultModel() string { return "fake-1" }

func TestSuggester_Disabled(t *testing.T) {
	f := newFixture(t)
	s := NewSuggester(f.relay, nil, "", logger.NewNop())

	assert.False(t, s.Enabled())
	_, err := s.Suggest(context.Background(), "U1")
	assert.ErrorIs(t, err, ErrSuggestionsDisabled)

	var nilSuggester *Suggester
	assert.False(t, nilSuggester.Enabled())
}

func TestSuggester_BuildsTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := &fakeLLM{resp: &llm.CompletionResponse{Content: "  Sure, one moment.\n", Model: "fake-1"}}
	s := NewSuggester(f.relay, client, "fake-1", logger.NewNop())

	_, err := f.relay.NotifyNewConversation(ctx, "U1", "my card is blocked")
	require.NoError(t, err)
	_, err = f.relay.SubmitReply(ctx, "U1", "Let me check")
	require.NoError(t, err)

	resp, err := s.Suggest(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "U1", resp.ViberID)
	assert.Equal(t, "Sure, one moment.", resp.Suggestion)
	assert.Equal(t, "fake-1", resp.Model)

	require.NotNil(t, client.req)
	assert.Equal(t, "fake-1", client.req.Model)
	require.Len(t, client.req.Messages, 1)
	prompt := client.req.Messages[0].Content
	assert.Contains(t, prompt, "User: my card is blocked\n")
	assert.Contains(t, prompt, "Agent: Let me check\n")

	// Drafting never records anything.
	conv, err := f.relay.Get("U1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestSuggester_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := &fakeLLM{err: errors.New("rate limited")}
	s := NewSuggester(f.relay, client, "", logger.NewNop())

	_, err := s.Suggest(ctx, "U1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.relay.NotifyNewConversation(ctx, "U1", "")
	require.NoError(t, err)
	_, err = s.Suggest(ctx, "U1")
	assert.ErrorContains(t, err, "rate limited")
}
