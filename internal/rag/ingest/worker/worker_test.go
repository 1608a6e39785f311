package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ragcore/internal/rag/ingest"
)

type fakeIngester struct {
	err error
}

func (f fakeIngester) Ingest(context.Context, ingest.IngestRequest) (ingest.IngestResponse, error) {
	if f.err != nil {
		return ingest.IngestResponse{}, f.err
	}
	return ingest.IngestResponse{DocID: "doc-1", ChunkIDs: []string{"chunk:doc-1:0"}}, nil
}

type fakeJobStore struct {
	mu      sync.Mutex
	updates []update
}

type update struct {
	id       string
	status   ingest.JobStatus
	progress float64
}

func (f *fakeJobStore) Create(job ingest.Job) (ingest.Job, error) { return job, nil }

func (f *fakeJobStore) UpdateStatus(id string, status ingest.JobStatus, progress float64, errMsg string, result *ingest.IngestResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update{id: id, status: status, progress: progress})
	return nil
}

func (f *fakeJobStore) Get(id string) (ingest.Job, error) { return ingest.Job{}, fmt.Errorf("not used") }

func (f *fakeJobStore) List(string, ingest.JobFilter) ([]ingest.Job, error) { return nil, nil }

func (f *fakeJobStore) snapshot() []update {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]update, len(f.updates))
	copy(out, f.updates)
	return out
}

func TestWorker_ProcessesJobThroughMilestones(t *testing.T) {
	q := ingest.NewMemoryQueue(4)
	jobs := &fakeJobStore{}
	w := New(q, fakeIngester{}, jobs)

	if err := q.Enqueue(context.Background(), ingest.Job{ID: "job-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = w.Run(ctx, 1)

	ups := jobs.snapshot()
	if len(ups) != 4 {
		t.Fatalf("expected 4 milestone updates, got %d: %#v", len(ups), ups)
	}
	progressions := []float64{0.1, 0.5, 0.9, 1.0}
	for i, p := range progressions {
		if ups[i].progress != p {
			t.Fatalf("update %d: expected progress %v, got %v", i, p, ups[i].progress)
		}
	}
	if ups[3].status != ingest.JobCompleted {
		t.Fatalf("expected final status completed, got %v", ups[3].status)
	}
}

func TestWorker_FailureNacksAndMarksFailed(t *testing.T) {
	q := ingest.NewMemoryQueue(4)
	jobs := &fakeJobStore{}
	w := New(q, fakeIngester{err: fmt.Errorf("boom")}, jobs)

	if err := q.Enqueue(context.Background(), ingest.Job{ID: "job-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = w.Run(ctx, 1)

	ups := jobs.snapshot()
	last := ups[len(ups)-1]
	if last.status != ingest.JobFailed {
		t.Fatalf("expected failed status, got %#v", last)
	}
}
