package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanVT97/viber-uat-middleware/internal/bus"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
)

type staticSource struct {
	conversations int
	subs          []bus.SubscriberStats
}

func (s *staticSource) ActiveConversations() int           { return s.conversations }
func (s *staticSource) Subscribers() []bus.SubscriberStats { return s.subs }

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(&staticSource{}, "every now and then", logger.NewNop())
	assert.Error(t, err)

	_, err = New(&staticSource{}, "*/5 * * * *", logger.NewNop())
	assert.NoError(t, err)

	_, err = New(&staticSource{}, "", logger.NewNop())
	assert.NoError(t, err)
}

func TestCollect(t *testing.T) {
	src := &staticSource{
		conversations: 3,
		subs: []bus.SubscriberStats{
			{ID: "fast", Queued: 0, Capacity: 64, Lag: 0},
			{ID: "slow", Queued: 40, Capacity: 64, Lag: 41},
			{ID: "edge", Queued: 32, Capacity: 64, Lag: 7},
		},
	}
	r, err := New(src, DefaultSchedule, logger.NewNop())
	require.NoError(t, err)

	snap := r.Collect()
	assert.Equal(t, 3, snap.Conversations)
	assert.Equal(t, 3, snap.Subscribers)
	assert.Equal(t, uint64(41), snap.MaxLag)
	require.Len(t, snap.Lagging, 2)
	assert.Equal(t, "slow", snap.Lagging[0].ID)
	assert.Equal(t, "edge", snap.Lagging[1].ID)
}

func TestRun_StopsWithContext(t *testing.T) {
	r, err := New(&staticSource{}, "@every 1s", logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}
}
