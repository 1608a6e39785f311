package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/rag/ingest"
)

// Postgres is a pgx-backed ingest.JobStore, grounded on the same
// pool-per-store, create-table-if-not-exists pattern as
// internal/persistence/databases' chat store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres job store. Call Init once before use.
func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

// Init creates the jobs table if it doesn't already exist.
func (p *Postgres) Init(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ingestion_jobs (
    id UUID PRIMARY KEY,
    tenant TEXT NOT NULL,
    kind TEXT NOT NULL,
    request JSONB NOT NULL,
    status TEXT NOT NULL,
    progress DOUBLE PRECISION NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    result JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS ingestion_jobs_tenant_status_idx ON ingestion_jobs(tenant, status);
`)
	return err
}

func (p *Postgres) Create(job ingest.Job) (ingest.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = ingest.JobPending
	}
	reqJSON, err := json.Marshal(job.Request)
	if err != nil {
		return ingest.Job{}, err
	}
	row := p.pool.QueryRow(ctx, `
INSERT INTO ingestion_jobs (id, tenant, kind, request, status, progress)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, updated_at`, job.ID, job.Tenant, job.Kind, reqJSON, job.Status, job.Progress)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return ingest.Job{}, err
	}
	return job, nil
}

func (p *Postgres) UpdateStatus(id string, status ingest.JobStatus, progress float64, errMsg string, result *ingest.IngestResponse) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return err
		}
	}
	cmd, err := p.pool.Exec(ctx, `
UPDATE ingestion_jobs
SET status = $2, progress = $3, error = $4,
    result = COALESCE($5, result),
    updated_at = NOW()
WHERE id = $1`, id, status, progress, errMsg, resultJSON)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.New("jobstore: job not found")
	}
	return nil
}

func (p *Postgres) Get(id string) (ingest.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := p.pool.QueryRow(ctx, `
SELECT id, tenant, kind, request, status, progress, error, result, created_at, updated_at
FROM ingestion_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Job{}, errors.New("jobstore: job not found")
	}
	return job, err
}

func (p *Postgres) List(tenant string, filter ingest.JobFilter) ([]ingest.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
SELECT id, tenant, kind, request, status, progress, error, result, created_at, updated_at
FROM ingestion_jobs WHERE tenant = $1`
	args := []any{tenant}
	if filter.Status != "" {
		query += ` AND status = $2`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ingest.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (ingest.Job, error) {
	var job ingest.Job
	var reqJSON, resultJSON []byte
	if err := row.Scan(&job.ID, &job.Tenant, &job.Kind, &reqJSON, &job.Status, &job.Progress, &job.Error, &resultJSON, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return ingest.Job{}, err
	}
	if len(reqJSON) > 0 {
		if err := json.Unmarshal(reqJSON, &job.Request); err != nil {
			return ingest.Job{}, err
		}
	}
	if len(resultJSON) > 0 {
		var result ingest.IngestResponse
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return ingest.Job{}, err
		}
		job.Result = &result
	}
	return job, nil
}
