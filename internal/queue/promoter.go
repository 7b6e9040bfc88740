package queue

import (
	"context"
	"log/slog"
	"time"

	"supportdesk.app/relay/common/logger"
)

// Promoter periodically moves due jobs from the schedule into the job stream.
// Several promoters may run against the same Redis; the move is atomic.
type Promoter struct {
	queue    *RedisDelayedQueue
	interval time.Duration

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewPromoter(queue *RedisDelayedQueue, interval time.Duration) *Promoter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Promoter{
		queue:     queue,
		interval:  interval,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks until Stop is called or ctx is done.
func (p *Promoter) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.queue.promoter",
	})

	defer close(p.stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "promoter started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			slog.InfoContext(ctx, "promoter stopping")
			return
		case now := <-ticker.C:
			n, err := p.queue.Promote(ctx, now)
			if err != nil {
				slog.ErrorContext(ctx, "promotion failed", "error", err)
				continue
			}
			if n > 0 {
				slog.DebugContext(ctx, "promoted due jobs", "count", n)
			}
		}
	}
}

func (p *Promoter) Stop() {
	close(p.stopCh)
	<-p.stoppedCh
}
