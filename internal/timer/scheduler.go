package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"supportdesk.app/relay/common/logger"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/queue"
)

// JobQueue is the durable delayed queue. Schedule is an upsert keyed by
// job.Key(); Cancel of an absent key is a no-op.
type JobQueue interface {
	Schedule(ctx context.Context, job queue.Job, delay time.Duration) error
	Cancel(ctx context.Context, key string) error
}

type Delays struct {
	FirstReminder  time.Duration
	SecondReminder time.Duration
	Escalation     time.Duration
	AutoClose      time.Duration
}

func (d Delays) For(kind queue.JobKind) time.Duration {
	switch kind {
	case queue.JobKindEscalationFirst:
		return d.FirstReminder
	case queue.JobKindEscalationSecond:
		return d.SecondReminder
	case queue.JobKindEscalationFinal:
		return d.Escalation
	case queue.JobKindAutoClose:
		return d.AutoClose
	}
	return 0
}

// Scheduler arms and disarms the timers of a ticket.
type Scheduler struct {
	queue  JobQueue
	delays Delays
	now    func() time.Time
}

func NewScheduler(q JobQueue, delays Delays) *Scheduler {
	return &Scheduler{queue: q, delays: delays, now: time.Now}
}

// ScheduleEscalations arms every escalation level of the ticket. Levels that
// fail to schedule are reported together.
func (s *Scheduler) ScheduleEscalations(ctx context.Context, t *model.Ticket) error {
	var errs []error
	for _, kind := range queue.EscalationKinds {
		if err := s.schedule(ctx, kind, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CancelEscalations disarms every escalation level. Failures are logged.
func (s *Scheduler) CancelEscalations(ctx context.Context, ticketID int64) {
	for _, kind := range queue.EscalationKinds {
		s.cancel(ctx, kind, ticketID)
	}
}

func (s *Scheduler) ScheduleAutoClose(ctx context.Context, t *model.Ticket) error {
	return s.schedule(ctx, queue.JobKindAutoClose, t)
}

// CancelAutoClose disarms the auto-close timer. Failures are logged.
func (s *Scheduler) CancelAutoClose(ctx context.Context, ticketID int64) {
	s.cancel(ctx, queue.JobKindAutoClose, ticketID)
}

func (s *Scheduler) schedule(ctx context.Context, kind queue.JobKind, t *model.Ticket) error {
	job := queue.Job{
		Kind:        kind,
		TicketID:    t.ID,
		ScheduledAt: s.now(),
		TraceID:     logger.TraceID(ctx),
	}
	if t.HasThread() {
		job.ThreadID = *t.ThreadID
	}

	delay := s.delays.For(kind)
	if err := s.queue.Schedule(ctx, job, delay); err != nil {
		return fmt.Errorf("scheduling %s: %w", job.Key(), err)
	}
	slog.DebugContext(ctx, "timer scheduled", "job_key", job.Key(), "delay", delay)
	return nil
}

func (s *Scheduler) cancel(ctx context.Context, kind queue.JobKind, ticketID int64) {
	key := queue.JobKey(kind, ticketID)
	if err := s.queue.Cancel(ctx, key); err != nil {
		slog.WarnContext(ctx, "failed to cancel timer", "error", err, "job_key", key)
	}
}
