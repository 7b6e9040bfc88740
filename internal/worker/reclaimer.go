package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/internal/metrics"
	"supportdesk.app/relay/internal/queue"
)

type ReclaimerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MinIdle is how long a delivery may stay unsettled before another
	// consumer takes it over.
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
	// MaxDeliveries dead-letters a job that was delivered this many times
	// without ever being settled. Zero disables the check.
	MaxDeliveries int64
}

// Reclaimer takes over timer jobs whose consumer died between reading and
// settling them. A job that keeps killing its consumer is dead-lettered
// instead of being handed out forever.
type Reclaimer struct {
	client   *redis.Client
	cfg      ReclaimerConfig
	consumer Consumer
	settle   queue.MessageProcessor

	stopOnce  sync.Once
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// NewReclaimer wires the reclaimer. settle is normally Worker.Settle so that
// reclaimed jobs follow the same retry and dead-letter path as fresh ones.
func NewReclaimer(client *redis.Client, consumer Consumer, settle queue.MessageProcessor, cfg ReclaimerConfig) *Reclaimer {
	return &Reclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		settle:    settle,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run sweeps every Interval until Stop is called or ctx ends.
func (r *Reclaimer) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.worker.reclaimer",
	})
	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"max_deliveries", r.cfg.MaxDeliveries)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			n, err := r.sweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "reclaim sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "reclaimed stale jobs", "count", n)
			}
		}
	}
}

func (r *Reclaimer) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.stoppedCh
}

// sweep claims one batch of stale deliveries and settles or dead-letters
// each. It returns how many jobs it took over.
func (r *Reclaimer) sweep(ctx context.Context) (int, error) {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		deliveries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}

	// XCLAIM re-checks the idle time, so a job settled or claimed by another
	// reclaimer since XPENDING is skipped.
	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xclaim: %w", err)
	}

	for _, raw := range claimed {
		r.handle(ctx, raw, deliveries[raw.ID])
	}
	return len(claimed), nil
}

func (r *Reclaimer) handle(ctx context.Context, raw redis.XMessage, delivered int64) {
	msgID := raw.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{MessageID: &msgID})

	msg, err := queue.ParseMessage(raw)
	if err != nil {
		slog.ErrorContext(ctx, "dropping unparseable reclaimed job", "error", err)
		_ = r.consumer.Ack(ctx, queue.Message{ID: raw.ID, Raw: raw})
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TicketID: &msg.Job.TicketID,
		JobKey:   &msg.Key,
	})

	if r.cfg.MaxDeliveries > 0 && delivered >= r.cfg.MaxDeliveries {
		metrics.TimerJobs.WithLabelValues(string(msg.Job.Kind), "poisoned").Inc()
		reason := fmt.Sprintf("delivered %d times without settling", delivered)
		if err := r.consumer.SendDLQ(ctx, msg, reason); err != nil {
			slog.ErrorContext(ctx, "failed to dead-letter poisoned job", "error", err)
		}
		return
	}

	metrics.TimerJobs.WithLabelValues(string(msg.Job.Kind), "reclaimed").Inc()
	slog.InfoContext(ctx, "settling reclaimed job", "deliveries", delivered)

	// Settle owns retry and dead-letter handling, the error is already logged.
	_ = r.settle(ctx, msg)
}
