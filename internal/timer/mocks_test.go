package timer_test

import (
	"context"
	"sync"
	"time"

	"supportdesk.app/relay/internal/queue"
)

type scheduled struct {
	job   queue.Job
	delay time.Duration
}

// memoryQueue keeps the latest schedule per job key, like the Redis queue.
type memoryQueue struct {
	mu        sync.Mutex
	jobs      map[string]scheduled
	schedules int

	scheduleErr error
	cancelErr   error
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{jobs: make(map[string]scheduled)}
}

func (q *memoryQueue) Schedule(_ context.Context, job queue.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scheduleErr != nil {
		return q.scheduleErr
	}
	q.schedules++
	q.jobs[job.Key()] = scheduled{job: job, delay: delay}
	return nil
}

func (q *memoryQueue) Cancel(_ context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancelErr != nil {
		return q.cancelErr
	}
	delete(q.jobs, key)
	return nil
}

func (q *memoryQueue) keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.jobs))
	for k := range q.jobs {
		out = append(out, k)
	}
	return out
}

func (q *memoryQueue) get(key string) (scheduled, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.jobs[key]
	return s, ok
}
