package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/internal/metrics"
	"supportdesk.app/relay/internal/queue"
)

// ErrPermanent marks a job failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

type Config struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
}

type Worker struct {
	consumer Consumer
	handlers map[queue.JobKind]Handler
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, handlers map[queue.JobKind]Handler, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Minute
	}
	return &Worker{
		consumer:  consumer,
		handlers:  handlers,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "relay.worker",
	})
	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		_ = w.Settle(ctx, msg)
	}

	return nil
}

// Settle processes msg and resolves its delivery: ack on success, retry with
// backoff on failure, dead-letter once attempts are exhausted. Exported so the
// reclaimer settles reclaimed deliveries the same way.
func (w *Worker) Settle(ctx context.Context, msg queue.Message) error {
	key := msg.Key
	msgID := msg.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TicketID:  &msg.Job.TicketID,
		JobKey:    &key,
		MessageID: &msgID,
	})

	err := w.processMessageSafe(ctx, msg)
	if err == nil {
		metrics.TimerJobs.WithLabelValues(string(msg.Job.Kind), "ok").Inc()
		if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
			// Redelivery via the reclaimer is safe, handlers re-check state
			slog.WarnContext(ctx, "failed to ACK message", "error", ackErr)
		}
		return nil
	}

	slog.ErrorContext(ctx, "message processing failed",
		"error", err,
		"attempt", msg.Job.Attempt)
	w.handleFailedMessage(ctx, msg, err)
	return err
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage dispatches msg to the handler registered for its kind.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartJobSpan(ctx, msg.Job.TraceID, string(msg.Job.Kind), msg.Job.TicketID)
	defer sc.End()
	ctx = sc.Context()

	handler, ok := w.handlers[msg.Job.Kind]
	if !ok {
		return fmt.Errorf("%w: no handler for %q", ErrPermanent, msg.Job.Kind)
	}

	slog.InfoContext(ctx, "processing job",
		"kind", msg.Job.Kind,
		"attempt", msg.Job.Attempt,
		"scheduled_at", msg.Job.ScheduledAt)

	start := time.Now()
	if err := handler.Handle(ctx, msg.Job); err != nil {
		sc.RecordError(err)
		return err
	}

	slog.InfoContext(ctx, "job processed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Job.Attempt >= w.cfg.MaxAttempts || errors.Is(err, ErrPermanent) {
		metrics.TimerJobs.WithLabelValues(string(msg.Job.Kind), "dead").Inc()
		slog.ErrorContext(ctx, "giving up on job, sending to DLQ",
			"attempts", msg.Job.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	metrics.TimerJobs.WithLabelValues(string(msg.Job.Kind), "retry").Inc()
	delay := Backoff(msg.Job.Attempt, w.cfg.RetryBase, w.cfg.RetryMax)
	slog.WarnContext(ctx, "requeuing failed job",
		"attempt", msg.Job.Attempt,
		"delay", delay)
	if requeueErr := w.consumer.Requeue(ctx, msg, delay, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}

// Backoff returns base * 2^(attempt-1), capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
