package ingest

import "time"

// JobStatus tracks a Job's lifecycle per SPEC_FULL.md §6.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobKind distinguishes the unit of work a Job carries. Only document
// ingestion is implemented; the type exists so the queue can carry other
// kinds of work without a breaking change later.
type JobKind string

const JobKindIngestDocument JobKind = "ingest_document"

// Job is one unit of ingestion work tracked from submission through
// completion or failure.
type Job struct {
	ID        string
	Tenant    string
	Kind      JobKind
	Request   IngestRequest
	Status    JobStatus
	Progress  float64 // coarse milestone: 0, 0.1, 0.5, 0.9, 1.0
	Error     string
	Result    *IngestResponse
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobFilter narrows JobStore.List results.
type JobFilter struct {
	Status JobStatus // empty matches any status
}

// JobStore persists Job records and their status transitions.
type JobStore interface {
	Create(job Job) (Job, error)
	UpdateStatus(id string, status JobStatus, progress float64, errMsg string, result *IngestResponse) error
	Get(id string) (Job, error)
	List(tenant string, filter JobFilter) ([]Job, error)
}
