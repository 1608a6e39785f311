package databases

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ragcore/internal/errs"
)

// pgVector is a durable pgvector-backed VectorStore alternative to the
// in-memory HNSW index, for deployments that want embeddings to survive a
// process restart without rebuilding the graph from the lexical/document
// stores. Every row is tenant-scoped; searches without a tenant filter fail
// closed rather than scanning across tenants.
type pgVector struct {
	pool       *pgxpool.Pool
	dimensions int
	metric     string // cosine|l2|ip
}

// NewPostgresVector connects a pgvector-backed VectorStore, creating the
// extension, table and tenant index if they do not already exist.
func NewPostgresVector(pool *pgxpool.Pool, dimensions int, metric string) VectorStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	_, _ = pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS embeddings (
  id TEXT PRIMARY KEY,
  tenant TEXT NOT NULL,
  vec %s,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS embeddings_tenant_idx ON embeddings (tenant);
`, vecType))
	return &pgVector{pool: pool, dimensions: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}
}

func (p *pgVector) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	tenant := metadata["tenant"]
	if tenant == "" {
		return errs.New(errs.KindTenantIsolationViolation, "pgVector.Upsert", errs.ErrTenantRequired)
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO embeddings(id, tenant, vec, metadata) VALUES($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET vec=EXCLUDED.vec, metadata=EXCLUDED.metadata
`, id, tenant, pgvector.NewVector(vector), metadata)
	return err
}

func (p *pgVector) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM embeddings WHERE id=$1`, id)
	return err
}

// SimilaritySearch requires filter["tenant"] to be set; a missing tenant
// filter fails closed rather than returning cross-tenant results.
func (p *pgVector) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	tenant := filter["tenant"]
	if tenant == "" {
		return nil, errs.New(errs.KindTenantIsolationViolation, "pgVector.SimilaritySearch", errs.ErrTenantRequired)
	}
	if k <= 0 {
		k = 10
	}
	vec := pgvector.NewVector(vector)
	op := "<=>"
	scoreExpr := "1 - (vec <=> $1)"
	switch p.metric {
	case "l2", "euclidean":
		op = "<->"
		scoreExpr = "-(vec <-> $1)"
	case "ip", "dot":
		op = "<#>"
		scoreExpr = "-(vec <#> $1)"
	}
	query := fmt.Sprintf(`SELECT id, %s AS score, metadata FROM embeddings WHERE tenant = $3 ORDER BY vec %s $1 LIMIT $2`, scoreExpr, op)
	rows, err := p.pool.Query(ctx, query, vec, k, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]VectorResult, 0, k)
	for rows.Next() {
		var r VectorResult
		var md map[string]string
		if err := rows.Scan(&r.ID, &r.Score, &md); err != nil {
			return nil, err
		}
		r.Metadata = md
		out = append(out, r)
	}
	return out, rows.Err()
}
