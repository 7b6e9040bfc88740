package service_test

import (
	"context"
	"sync"
	"time"

	"supportdesk.app/relay/internal/lifecycle"
	"supportdesk.app/relay/internal/mirror"
	"supportdesk.app/relay/internal/model"
	"supportdesk.app/relay/internal/queue"
)

// memoryQueue keeps the latest schedule per job key, like the Redis queue.
type memoryQueue struct {
	mu   sync.Mutex
	jobs map[string]queue.Job
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{jobs: make(map[string]queue.Job)}
}

func (q *memoryQueue) Schedule(_ context.Context, job queue.Job, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.Key()] = job
	return nil
}

func (q *memoryQueue) Cancel(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, key)
	return nil
}

func (q *memoryQueue) has(kind queue.JobKind, ticketID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[queue.JobKey(kind, ticketID)]
	return ok
}

func (q *memoryQueue) job(kind queue.JobKind, ticketID int64) queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[queue.JobKey(kind, ticketID)]
}

type mockMachine struct {
	applyFn func(ctx context.Context, ticketID int64, trigger lifecycle.Trigger) (*lifecycle.Result, error)
}

func (m *mockMachine) Apply(ctx context.Context, ticketID int64, trigger lifecycle.Trigger) (*lifecycle.Result, error) {
	if m.applyFn != nil {
		return m.applyFn(ctx, ticketID, trigger)
	}
	return &lifecycle.Result{}, nil
}

// noopMirror reports every message as delivered without sending anything.
type noopMirror struct{}

func (noopMirror) Mirror(_ context.Context, ticket *model.Ticket, _ model.Direction, _ model.Channel, msg model.InboundMessage) (*mirror.Result, error) {
	return &mirror.Result{Ticket: ticket, NativeID: msg.NativeID}, nil
}

func (noopMirror) EditMirrored(context.Context, *model.Ticket, model.Direction, model.EditedMessage) bool {
	return true
}
