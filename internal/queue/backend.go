package queue

import (
	"context"
	"time"
)

// Message is one delivery from a Backend.
type Message struct {
	ID      string
	Body    []byte
	Receipt string
}

// Backend is the transport under the Manager. Deliveries are at-least-once:
// a received message that is not deleted becomes visible again.
type Backend interface {
	Send(ctx context.Context, queue string, body []byte, delay time.Duration) (string, error)
	// Receive waits up to wait for at most max messages.
	Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, queue, receipt string) error
	Purge(ctx context.Context, queue string) error
	// MaxDelay is the longest delay Send accepts; zero means unbounded.
	MaxDelay() time.Duration
}
