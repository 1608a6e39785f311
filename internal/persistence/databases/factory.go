package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ragcore/internal/config"
	"ragcore/internal/rag/index/lexical"
	"ragcore/internal/rag/index/vector"
)

// NewManager constructs database backends based on configuration.
// Supported backends: memory (hnsw/bm25, default), postgres, none.
func NewManager(ctx context.Context, cfg config.DBConfig) (Manager, error) {
	var m Manager
	searchDSN := firstNonEmpty(cfg.Search.DSN, cfg.DefaultDSN)
	vectorDSN := firstNonEmpty(cfg.Vector.DSN, cfg.DefaultDSN)

	switch cfg.Search.Backend {
	case "", "memory", "bm25":
		m.Search = lexical.NewTenantSearch(lexical.NewIndex())
	case "auto":
		if searchDSN != "" {
			if p, err := newPgPool(ctx, searchDSN); err == nil {
				m.Search = NewPostgresSearch(p)
			} else {
				m.Search = lexical.NewTenantSearch(lexical.NewIndex())
			}
		} else {
			m.Search = lexical.NewTenantSearch(lexical.NewIndex())
		}
	case "postgres", "pg":
		if searchDSN == "" {
			return Manager{}, fmt.Errorf("search backend postgres requires DSN")
		}
		p, err := newPgPool(ctx, searchDSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (search): %w", err)
		}
		m.Search = NewPostgresSearch(p)
	case "none", "disabled":
		m.Search = noopSearch{}
	default:
		return Manager{}, fmt.Errorf("unsupported search backend: %s", cfg.Search.Backend)
	}

	switch cfg.Vector.Backend {
	case "", "memory", "hnsw":
		m.Vector = vector.NewStore(vector.Config{Dimensions: cfg.Vector.Dimensions, Metric: firstNonEmpty(cfg.Vector.Metric, "cos")})
	case "auto":
		if vectorDSN != "" {
			if p, err := newPgPool(ctx, vectorDSN); err == nil {
				m.Vector = NewPostgresVector(p, cfg.Vector.Dimensions, cfg.Vector.Metric)
			} else {
				m.Vector = vector.NewStore(vector.Config{Dimensions: cfg.Vector.Dimensions, Metric: firstNonEmpty(cfg.Vector.Metric, "cos")})
			}
		} else {
			m.Vector = vector.NewStore(vector.Config{Dimensions: cfg.Vector.Dimensions, Metric: firstNonEmpty(cfg.Vector.Metric, "cos")})
		}
	case "postgres", "pgvector", "pg":
		if vectorDSN == "" {
			return Manager{}, fmt.Errorf("vector backend postgres requires DSN")
		}
		p, err := newPgPool(ctx, vectorDSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (vector): %w", err)
		}
		m.Vector = NewPostgresVector(p, cfg.Vector.Dimensions, cfg.Vector.Metric)
	case "none", "disabled":
		m.Vector = noopVector{}
	default:
		return Manager{}, fmt.Errorf("unsupported vector backend: %s", cfg.Vector.Backend)
	}

	switch cfg.Chat.Backend {
	case "", "memory":
		m.Chat = newMemoryChatStore()
	case "postgres", "pg":
		chatDSN := firstNonEmpty(cfg.Chat.DSN, cfg.DefaultDSN)
		if chatDSN == "" {
			return Manager{}, fmt.Errorf("chat backend postgres requires DSN")
		}
		p, err := newPgPool(ctx, chatDSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (chat): %w", err)
		}
		m.Chat = NewPostgresChatStore(p)
	default:
		return Manager{}, fmt.Errorf("unsupported chat backend: %s", cfg.Chat.Backend)
	}

	return m, nil
}

// no-op backends for "none" configuration
type noopSearch struct{}

func (noopSearch) Index(context.Context, string, string, map[string]string) error { return nil }
func (noopSearch) Remove(context.Context, string) error                           { return nil }
func (noopSearch) Search(context.Context, string, int) ([]SearchResult, error)    { return nil, nil }

type noopVector struct{}

func (noopVector) Upsert(context.Context, string, []float32, map[string]string) error { return nil }
func (noopVector) Delete(context.Context, string) error                               { return nil }
func (noopVector) SimilaritySearch(context.Context, []float32, int, map[string]string) ([]VectorResult, error) {
	return nil, nil
}

// helpers
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NewPgPool opens a pooled Postgres connection, pinging before returning so
// callers outside this package (the job store, cmd/ entrypoints) fail fast
// on a bad DSN instead of on first query.
func NewPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return newPgPool(ctx, dsn)
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
