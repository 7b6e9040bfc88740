package worker_test

import (
	"context"
	"sync"
	"time"

	"supportdesk.app/relay/internal/queue"
)

type requeueCall struct {
	msg    queue.Message
	delay  time.Duration
	errMsg string
}

type mockConsumer struct {
	mu       sync.Mutex
	batches  [][]queue.Message
	acked    []queue.Message
	requeued []requeueCall
	dlq      []queue.Message
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *mockConsumer) Ack(ctx context.Context, msg queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg)
	return nil
}

func (m *mockConsumer) Requeue(ctx context.Context, msg queue.Message, delay time.Duration, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, requeueCall{msg: msg, delay: delay, errMsg: errMsg})
	return nil
}

func (m *mockConsumer) SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, msg)
	return nil
}

func (m *mockConsumer) ackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}
