package jobstore

import (
	"testing"

	"ragcore/internal/rag/ingest"
)

func TestMemory_CreateUpdateGetList(t *testing.T) {
	s := NewMemory()

	job, err := s.Create(ingest.Job{Tenant: "acme", Kind: ingest.JobKindIngestDocument})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ID == "" || job.Status != ingest.JobPending {
		t.Fatalf("unexpected created job: %#v", job)
	}

	if err := s.UpdateStatus(job.ID, ingest.JobProcessing, 0.5, "", nil); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ingest.JobProcessing || got.Progress != 0.5 {
		t.Fatalf("unexpected job after update: %#v", got)
	}

	list, err := s.List("acme", ingest.JobFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != job.ID {
		t.Fatalf("unexpected list result: %#v", list)
	}

	if _, err := s.List("other-tenant", ingest.JobFilter{}); err != nil {
		t.Fatalf("list other tenant: %v", err)
	}
	if other, _ := s.List("other-tenant", ingest.JobFilter{}); len(other) != 0 {
		t.Fatalf("expected tenant isolation, got %#v", other)
	}
}

func TestMemory_UpdateStatusUnknownJobErrors(t *testing.T) {
	s := NewMemory()
	if err := s.UpdateStatus("missing", ingest.JobCompleted, 1.0, "", nil); err == nil {
		t.Fatal("expected error updating an unknown job")
	}
}
