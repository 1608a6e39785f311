package ingest

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrQueueFull is returned by Queue.Enqueue when the queue is at capacity.
// Per SPEC_FULL.md §5, the caller still accepts the upload to disk and the
// Job record is left pending; the caller retries enqueuing with backoff.
var ErrQueueFull = errors.New("ingest: queue full")

// Delivery is one job handed to a worker. Ack/Nack let the transport (an
// in-memory channel, or a Kafka consumer group) decide whether the
// underlying message is committed.
type Delivery struct {
	Job  Job
	Ack  func()
	Nack func()
}

// Queue is the Job Queue contract from SPEC_FULL.md §4.10/§6: bounded,
// at-least-once, back-pressured when full.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Deliveries() <-chan Delivery
	Close() error
}

// MemoryQueue is a bounded in-process Queue backed by a buffered channel.
// Enqueue never blocks: a full queue returns ErrQueueFull immediately so the
// caller can apply its own backoff.
type MemoryQueue struct {
	ch chan Delivery
}

// NewMemoryQueue constructs a MemoryQueue with the given capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryQueue{ch: make(chan Delivery, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	d := Delivery{Job: job, Ack: func() {}, Nack: func() {}}
	select {
	case q.ch <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Deliveries() <-chan Delivery { return q.ch }

func (q *MemoryQueue) Close() error {
	close(q.ch)
	return nil
}

// EnqueueWithBackoff retries Enqueue against a full queue with jittered
// exponential backoff, per §5's "retried with backoff by the API tier" rule.
// It gives up and returns the last error once ctx is done.
func EnqueueWithBackoff(ctx context.Context, q Queue, job Job) error {
	backoff := 50 * time.Millisecond
	const maxBackoff = 2 * time.Second
	for {
		err := q.Enqueue(ctx, job)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
