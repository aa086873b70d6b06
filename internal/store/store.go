// Package store provides the in-memory registry of active agent conversations.
//
// The store is the single owner of conversation and message data. Every read
// returns a copy, so callers can never observe or mutate live state. Nothing
// is persisted: a process restart clears all conversations.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EthanVT97/viber-uat-middleware/internal/model"
)

var (
	// ErrUnknownConversation is returned when appending to a conversation
	// that is not active.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrNotFound is returned by Get for ids without an active conversation.
	ErrNotFound = errors.New("conversation not found")

	// ErrEmptyMessage is returned when appending a message without text.
	ErrEmptyMessage = errors.New("message text cannot be empty")
)

type conversation struct {
	id        string
	startedAt time.Time
	messages  []model.Message
}

// Store holds active conversations keyed by Viber user id.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*conversation),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert creates an active conversation for id unless one exists. It reports
// whether the conversation was newly created.
func (s *Store) Upsert(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[id]; exists {
		return false
	}

	s.conversations[id] = &conversation{
		id:        id,
		startedAt: s.now().UTC(),
	}
	return true
}

// AppendUserMessage appends a message written by the Viber user.
func (s *Store) AppendUserMessage(id, text string) (model.Message, error) {
	return s.append(id, model.SenderUser, text)
}

// AppendAgentMessage appends a message written by an agent.
func (s *Store) AppendAgentMessage(id, text string) (model.Message, error) {
	return s.append(id, model.SenderAgent, text)
}

func (s *Store) append(id string, sender model.Sender, text string) (model.Message, error) {
	if text == "" {
		return model.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return model.Message{}, ErrUnknownConversation
	}

	// Timestamps never go backwards within a conversation, even if the
	// clock does.
	ts := s.now().UTC()
	if n := len(conv.messages); n > 0 {
		if last := conv.messages[n-1].Timestamp; ts.Before(last) {
			ts = last
		}
	} else if ts.Before(conv.startedAt) {
		ts = conv.startedAt
	}

	msg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: id,
		Sender:         sender,
		Text:           text,
		Timestamp:      ts,
		Seq:            len(conv.messages) + 1,
	}
	conv.messages = append(conv.messages, msg)

	return msg, nil
}

// End removes the conversation. It reports whether an active conversation
// was ended; ending an absent conversation is a no-op.
func (s *Store) End(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[id]; !exists {
		return false
	}
	delete(s.conversations, id)
	return true
}

// IsActive reports whether id has an active conversation.
func (s *Store) IsActive(id string) bool {
	s.mu.RLock()
	_, exists := s.conversations[id]
	s.mu.RUnlock()
	return exists
}

// List returns a snapshot of all active conversations, oldest first.
func (s *Store) List() []model.ConversationSummary {
	s.mu.RLock()
	summaries := make([]model.ConversationSummary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summary := model.ConversationSummary{
			ID:           conv.id,
			StartedAt:    conv.startedAt,
			MessageCount: len(conv.messages),
		}
		if n := len(conv.messages); n > 0 {
			last := conv.messages[n-1]
			summary.LastMessage = &last
		}
		summaries = append(summaries, summary)
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].StartedAt.Equal(summaries[j].StartedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].StartedAt.Before(summaries[j].StartedAt)
	})

	return summaries
}

// Get returns a copy of the full conversation history.
func (s *Store) Get(id string) (model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return model.Conversation{}, ErrNotFound
	}

	messages := make([]model.Message, len(conv.messages))
	copy(messages, conv.messages)

	return model.Conversation{
		ID:        conv.id,
		Status:    model.StatusActive,
		StartedAt: conv.startedAt,
		Messages:  messages,
	}, nil
}

// Count returns the number of active conversations.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
