// Package jobstore implements the Job state store from SPEC_FULL.md §6:
// create, update_status, get, and list, backing both the ingestion worker
// and any API tier that reports upload status to callers.
package jobstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/rag/ingest"
)

// Memory is an in-process ingest.JobStore, the default backend for
// single-instance deployments and tests.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]ingest.Job
}

// NewMemory constructs an empty Memory job store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]ingest.Job)}
}

func (m *Memory) Create(job ingest.Job) (ingest.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = ingest.JobPending
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return job, nil
}

func (m *Memory) UpdateStatus(id string, status ingest.JobStatus, progress float64, errMsg string, result *ingest.IngestResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("jobstore: job %s not found", id)
	}
	job.Status = status
	job.Progress = progress
	job.Error = errMsg
	if result != nil {
		job.Result = result
	}
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return nil
}

func (m *Memory) Get(id string) (ingest.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return ingest.Job{}, fmt.Errorf("jobstore: job %s not found", id)
	}
	return job, nil
}

func (m *Memory) List(tenant string, filter ingest.JobFilter) ([]ingest.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ingest.Job, 0)
	for _, job := range m.jobs {
		if tenant != "" && job.Tenant != tenant {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
