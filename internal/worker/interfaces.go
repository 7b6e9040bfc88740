package worker

import (
	"context"
	"time"

	"supportdesk.app/relay/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, delay time.Duration, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Handler executes one kind of timer job. A returned error is retried with
// backoff until the attempts are exhausted.
type Handler interface {
	Handle(ctx context.Context, job queue.Job) error
}

type HandlerFunc func(ctx context.Context, job queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job queue.Job) error {
	return f(ctx, job)
}
