// Package stats periodically samples relay state into gauges and warns about
// dashboards that fall behind.
package stats

import (
	"context"
	"fmt"

	robfigcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/EthanVT97/viber-uat-middleware/internal/bus"
	"github.com/EthanVT97/viber-uat-middleware/pkg/logger"
	"github.com/EthanVT97/viber-uat-middleware/pkg/metrics"
)

// DefaultSchedule samples every 15 seconds.
const DefaultSchedule = "@every 15s"

// Source exposes the relay state that is sampled.
type Source interface {
	ActiveConversations() int
	Subscribers() []bus.SubscriberStats
}

// Snapshot is one sample.
type Snapshot struct {
	Conversations int
	Subscribers   int
	MaxLag        uint64
	Lagging       []bus.SubscriberStats
}

// Reporter samples a Source on a cron schedule.
type Reporter struct {
	source Source
	cron   *robfigcron.Cron
	logger *logger.Logger
}

// New creates a reporter. schedule accepts standard five-field cron
// expressions and descriptors such as "@every 30s".
func New(source Source, schedule string, log *logger.Logger) (*Reporter, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	r := &Reporter{
		source: source,
		cron:   robfigcron.New(),
		logger: log.With(zap.String("component", "stats")),
	}
	if _, err := r.cron.AddFunc(schedule, func() { r.Collect() }); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Collect takes a sample, updates the gauges and logs lagging subscribers.
// A subscriber is lagging once its queue is at least half full.
func (r *Reporter) Collect() Snapshot {
	subs := r.source.Subscribers()
	snap := Snapshot{
		Conversations: r.source.ActiveConversations(),
		Subscribers:   len(subs),
	}

	for _, sub := range subs {
		if sub.Lag > snap.MaxLag {
			snap.MaxLag = sub.Lag
		}
		if sub.Capacity > 0 && sub.Queued*2 >= sub.Capacity {
			snap.Lagging = append(snap.Lagging, sub)
		}
	}

	metrics.ConversationsActive.Set(float64(snap.Conversations))
	metrics.SubscribersActive.Set(float64(snap.Subscribers))
	metrics.SubscriberMaxLag.Set(float64(snap.MaxLag))

	for _, sub := range snap.Lagging {
		r.logger.Warn("dashboard subscriber is falling behind",
			zap.String("sub_id", sub.ID),
			zap.Int("queued", sub.Queued),
			zap.Int("capacity", sub.Capacity),
			zap.Uint64("lag", sub.Lag),
		)
	}

	return snap
}

// Run samples until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	r.Collect()
	r.cron.Start()
	<-ctx.Done()
	<-r.cron.Stop().Done()
	return nil
}
