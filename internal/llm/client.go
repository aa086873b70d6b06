// Package llm drafts agent replies with a hosted language model.
package llm

import (
	"context"
	"fmt"
)

// Role of a message in a completion request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionRequest is a provider-neutral completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage is one prompt message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse is a provider-neutral completion.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is implemented by each provider.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Name() string
	DefaultModel() string
}

// Provider names a hosted model vendor.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Keys holds the configured provider credentials.
type Keys struct {
	Anthropic string
	OpenAI    string
}

// NewClient returns a client for the preferred provider, falling back to the
// other one when only its key is set. It returns nil, nil when no key is set.
func NewClient(preferred Provider, keys Keys) (Client, error) {
	switch preferred {
	case ProviderAnthropic, "":
		if keys.Anthropic != "" {
			return NewAnthropicClient(keys.Anthropic)
		}
		if keys.OpenAI != "" {
			return NewOpenAIClient(keys.OpenAI)
		}
	case ProviderOpenAI:
		if keys.OpenAI != "" {
			return NewOpenAIClient(keys.OpenAI)
		}
		if keys.Anthropic != "" {
			return NewAnthropicClient(keys.Anthropic)
		}
	default:
		return nil, fmt.Errorf("unknown llm provider %q", preferred)
	}
	return nil, nil
}

func withDefaults(req *CompletionRequest, model string) (string, int) {
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}
	return model, maxTokens
}
