package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueue_EnqueueAndDeliver(t *testing.T) {
	q := NewMemoryQueue(1)
	job := Job{ID: "job-1", Tenant: "acme"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case d := <-q.Deliveries():
		if d.Job.ID != "job-1" {
			t.Fatalf("unexpected delivery: %#v", d.Job)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryQueue_FullReturnsErrQueueFull(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Enqueue(context.Background(), Job{ID: "job-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(context.Background(), Job{ID: "job-2"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestEnqueueWithBackoff_SucceedsOnceSpaceFrees(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Enqueue(context.Background(), Job{ID: "job-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	go func() {
		time.Sleep(60 * time.Millisecond)
		<-q.Deliveries()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := EnqueueWithBackoff(ctx, q, Job{ID: "job-2"}); err != nil {
		t.Fatalf("expected backoff to eventually succeed, got %v", err)
	}
}

func TestMemoryDedupeStore_MarkAndLookup(t *testing.T) {
	d := NewMemoryDedupeStore()
	ctx := context.Background()

	if id, err := d.SeenJobFor(ctx, "key-1"); err != nil || id != "" {
		t.Fatalf("expected no prior job, got id=%q err=%v", id, err)
	}
	if err := d.MarkSeen(ctx, "key-1", "job-1", time.Minute); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	id, err := d.SeenJobFor(ctx, "key-1")
	if err != nil || id != "job-1" {
		t.Fatalf("expected job-1, got id=%q err=%v", id, err)
	}
}

func TestMemoryDedupeStore_ExpiresEntries(t *testing.T) {
	d := NewMemoryDedupeStore()
	ctx := context.Background()
	if err := d.MarkSeen(ctx, "key-1", "job-1", time.Millisecond); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	id, err := d.SeenJobFor(ctx, "key-1")
	if err != nil || id != "" {
		t.Fatalf("expected expired entry to be invisible, got id=%q err=%v", id, err)
	}
}
