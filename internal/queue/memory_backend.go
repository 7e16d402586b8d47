package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memMessage struct {
	msg       Message
	visibleAt time.Time
}

type memQueue struct {
	pending  []memMessage
	inflight map[string]memMessage
}

// MemoryBackend is an in-process Backend for local runs and tests.
type MemoryBackend struct {
	mu         sync.Mutex
	queues     map[string]*memQueue
	visibility time.Duration
	wake       chan struct{}
	nowFunc    func() time.Time
}

func NewMemoryBackend(visibility time.Duration) *MemoryBackend {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryBackend{
		queues:     map[string]*memQueue{},
		visibility: visibility,
		wake:       make(chan struct{}),
		nowFunc:    time.Now,
	}
}

// queue must be called with mu held.
func (b *MemoryBackend) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{inflight: map[string]memMessage{}}
		b.queues[name] = q
	}
	return q
}

// broadcast must be called with mu held.
func (b *MemoryBackend) broadcast() {
	close(b.wake)
	b.wake = make(chan struct{})
}

func (b *MemoryBackend) Send(ctx context.Context, queue string, body []byte, delay time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	cp := make([]byte, len(body))
	copy(cp, body)
	q := b.queue(queue)
	q.pending = append(q.pending, memMessage{
		msg:       Message{ID: id, Body: cp},
		visibleAt: b.nowFunc().Add(delay),
	})
	b.broadcast()
	return id, nil
}

func (b *MemoryBackend) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	for {
		b.mu.Lock()
		now := b.nowFunc()
		q := b.queue(queue)
		b.requeueExpired(q, now)

		var out []Message
		var next time.Time
		kept := q.pending[:0]
		for _, m := range q.pending {
			if len(out) < max && !now.Before(m.visibleAt) {
				m.msg.Receipt = uuid.NewString()
				q.inflight[m.msg.Receipt] = memMessage{msg: m.msg, visibleAt: now.Add(b.visibility)}
				out = append(out, m.msg)
				continue
			}
			if next.IsZero() || m.visibleAt.Before(next) {
				next = m.visibleAt
			}
			kept = append(kept, m)
		}
		q.pending = kept
		wake := b.wake
		b.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if !next.IsZero() {
			if until := next.Sub(now); until < remaining {
				remaining = until
			}
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// requeueExpired must be called with mu held.
func (b *MemoryBackend) requeueExpired(q *memQueue, now time.Time) {
	for receipt, m := range q.inflight {
		if !now.Before(m.visibleAt) {
			delete(q.inflight, receipt)
			m.msg.Receipt = ""
			q.pending = append(q.pending, memMessage{msg: m.msg, visibleAt: now})
		}
	}
}

func (b *MemoryBackend) Delete(ctx context.Context, queue, receipt string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queue(queue).inflight, receipt)
	return nil
}

func (b *MemoryBackend) Purge(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue(queue).pending = nil
	return nil
}

func (b *MemoryBackend) MaxDelay() time.Duration { return 0 }

// Len reports pending plus in-flight messages.
func (b *MemoryBackend) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	return len(q.pending) + len(q.inflight)
}

// Drain removes and returns every pending message body regardless of delay.
func (b *MemoryBackend) Drain(queue string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	out := make([][]byte, 0, len(q.pending))
	for _, m := range q.pending {
		out = append(out, m.msg.Body)
	}
	q.pending = nil
	return out
}
