// Package worker implements the ingestion worker from SPEC_FULL.md §4.10: it
// consumes Job deliveries from the queue and drives them through
// *service.Service.Ingest, reporting coarse milestone progress and
// terminal status back to the Job store.
//
// worker.go lives in its own subpackage rather than directly in
// internal/rag/ingest because internal/rag/chunker already imports
// internal/rag/ingest for its chunking options; importing chunker from
// ingest itself to drive the pipeline a second time here would create an
// import cycle. Reusing *service.Service.Ingest (which already calls
// chunker internally) avoids both the cycle and a second, divergent
// implementation of the chunk/embed/upsert pipeline.
package worker

import (
	"context"
	"fmt"

	"ragcore/internal/rag/ingest"
	"ragcore/internal/rag/service"
)

// Ingester is the narrow contract the worker drives, satisfied by
// *service.Service.
type Ingester interface {
	Ingest(ctx context.Context, in ingest.IngestRequest) (ingest.IngestResponse, error)
}

// Worker consumes deliveries from a Queue and processes each through an
// Ingester, reporting progress to a JobStore.
type Worker struct {
	queue    ingest.Queue
	ingester Ingester
	jobs     ingest.JobStore
	log      service.Logger
}

// Option configures a Worker during construction.
type Option func(*Worker)

// WithLogger sets a custom logger.
func WithLogger(l service.Logger) Option { return func(w *Worker) { w.log = l } }

// New constructs a Worker.
func New(queue ingest.Queue, ingester Ingester, jobs ingest.JobStore, opts ...Option) *Worker {
	w := &Worker{queue: queue, ingester: ingester, jobs: jobs, log: noopLogger{}}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run processes deliveries until ctx is canceled or the queue closes.
// Exactly concurrency goroutines (at least one) pull from the same delivery channel, so
// multiple jobs can be in flight, matching §5's "N workers process jobs from
// the queue independently."
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	done := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			w.loop(ctx)
		}()
	}
	for i := 0; i < concurrency; i++ {
		<-done
	}
	return ctx.Err()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-w.queue.Deliveries():
			if !ok {
				return
			}
			w.process(ctx, d)
		}
	}
}

// process runs one job's ingestion to completion, reporting coarse
// milestones (0.1 before extraction, 0.5 before indexing, 0.9 once indexing
// returns, 1.0 once the terminal status is recorded) per §4.10. The job is
// safe to redeliver: chunk ids are deterministic and upserts are idempotent,
// so a replay after a crash simply overwrites the same records.
func (w *Worker) process(ctx context.Context, d ingest.Delivery) {
	job := d.Job
	w.setStatus(job.ID, ingest.JobProcessing, 0.1, "", nil)

	w.setStatus(job.ID, ingest.JobProcessing, 0.5, "", nil)
	resp, err := w.ingester.Ingest(ctx, job.Request)
	if err != nil {
		w.log.Error("worker_ingest_failed", map[string]any{"job_id": job.ID, "err": err.Error()})
		w.setStatus(job.ID, ingest.JobFailed, 1.0, errMessage(err), nil)
		d.Nack()
		return
	}
	w.setStatus(job.ID, ingest.JobProcessing, 0.9, "", &resp)

	w.setStatus(job.ID, ingest.JobCompleted, 1.0, "", &resp)
	d.Ack()
}

func (w *Worker) setStatus(jobID string, status ingest.JobStatus, progress float64, errMsg string, result *ingest.IngestResponse) {
	if err := w.jobs.UpdateStatus(jobID, status, progress, errMsg, result); err != nil {
		w.log.Error("worker_update_status_failed", map[string]any{"job_id": jobID, "err": err.Error()})
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
func (noopLogger) Debug(string, map[string]any) {}
