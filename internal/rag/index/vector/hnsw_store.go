// Package vector implements the tenant-partitioned approximate nearest
// neighbour index used by the hybrid retriever's dense leg, backed by the
// pure-Go coder/hnsw graph so the service carries no CGO dependency.
package vector

import (
	"context"
	"math"
	"strconv"
	"sync"

	"github.com/coder/hnsw"

	"ragcore/internal/errs"
	"ragcore/internal/persistence/databases"
)

// Config tunes the HNSW graph parameters per tenant partition.
type Config struct {
	Dimensions int
	Metric     string // "cos" (default) or "l2"
	M          int
	EfSearch   int
}

// entry tracks the document a vector belongs to, so DeleteByDocument can
// remove every chunk of a reingested or deleted document in one call.
type entry struct {
	key   uint64
	docID string
}

// tenantPartition is one tenant's isolated HNSW graph plus its ID mappings.
type tenantPartition struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	ids     map[string]entry // chunk id -> graph entry
	keys    map[uint64]string
	nextKey uint64
}

func newPartition(cfg Config) *tenantPartition {
	g := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		g.Distance = hnsw.EuclideanDistance
	default:
		g.Distance = hnsw.CosineDistance
	}
	m := cfg.M
	if m == 0 {
		m = 16
	}
	ef := cfg.EfSearch
	if ef == 0 {
		ef = 20
	}
	g.M = m
	g.EfSearch = ef
	g.Ml = 0.25
	return &tenantPartition{graph: g, ids: make(map[string]entry), keys: make(map[uint64]string)}
}

// Store is a tenant-partitioned vector index. Every operation requires a
// tenant in its metadata/filter; a missing tenant fails closed instead of
// falling back to a shared default partition.
type Store struct {
	mu    sync.RWMutex
	cfg   Config
	parts map[string]*tenantPartition
}

// NewStore constructs an empty tenant-partitioned HNSW vector store.
func NewStore(cfg Config) *Store {
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	return &Store{cfg: cfg, parts: make(map[string]*tenantPartition)}
}

func (s *Store) partition(tenant string, create bool) *tenantPartition {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[tenant]
	if !ok && create {
		p = newPartition(s.cfg)
		s.parts[tenant] = p
	}
	return p
}

// Upsert inserts or replaces a chunk's vector. metadata["tenant"] and
// metadata["doc_id"] are required.
func (s *Store) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	tenant := metadata["tenant"]
	if tenant == "" {
		return errs.New(errs.KindTenantIsolationViolation, "vector.Store.Upsert", errs.ErrTenantRequired)
	}
	if s.cfg.Dimensions > 0 && len(vec) != s.cfg.Dimensions {
		return errs.New(errs.KindPermanent, "vector.Store.Upsert", errDimensionMismatch(s.cfg.Dimensions, len(vec)))
	}
	p := s.partition(tenant, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, exists := p.ids[id]; exists {
		delete(p.keys, old.key)
		delete(p.ids, id)
	}
	key := p.nextKey
	p.nextKey++
	v := make([]float32, len(vec))
	copy(v, vec)
	if s.cfg.Metric != "l2" {
		normalize(v)
	}
	p.graph.Add(hnsw.MakeNode(key, v))
	p.ids[id] = entry{key: key, docID: metadata["doc_id"]}
	p.keys[key] = id
	return nil
}

// Delete removes a chunk's vector by id. Since tenant isn't known from id
// alone, it is a no-op if id isn't found in any partition scanned (callers
// should prefer DeleteByDocument, which is tenant-scoped).
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	parts := make([]*tenantPartition, 0, len(s.parts))
	for _, p := range s.parts {
		parts = append(parts, p)
	}
	s.mu.RUnlock()
	for _, p := range parts {
		p.mu.Lock()
		if e, ok := p.ids[id]; ok {
			delete(p.keys, e.key)
			delete(p.ids, id)
		}
		p.mu.Unlock()
	}
	return nil
}

// DeleteByDocument removes every chunk vector belonging to docID within tenant.
func (s *Store) DeleteByDocument(ctx context.Context, tenant, docID string) error {
	if tenant == "" {
		return errs.New(errs.KindTenantIsolationViolation, "vector.Store.DeleteByDocument", errs.ErrTenantRequired)
	}
	p := s.partition(tenant, false)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.ids {
		if e.docID == docID {
			delete(p.keys, e.key)
			delete(p.ids, id)
		}
	}
	return nil
}

// SimilaritySearch requires filter["tenant"]; a missing tenant fails closed.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int, filter map[string]string) ([]databases.VectorResult, error) {
	tenant := filter["tenant"]
	if tenant == "" {
		return nil, errs.New(errs.KindTenantIsolationViolation, "vector.Store.SimilaritySearch", errs.ErrTenantRequired)
	}
	p := s.partition(tenant, false)
	if p == nil {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.graph.Len() == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	q := make([]float32, len(query))
	copy(q, query)
	if s.cfg.Metric != "l2" {
		normalize(q)
	}
	nodes := p.graph.Search(q, k)
	out := make([]databases.VectorResult, 0, len(nodes))
	for _, n := range nodes {
		id, ok := p.keys[n.Key]
		if !ok {
			continue
		}
		dist := p.graph.Distance(q, n.Value)
		out = append(out, databases.VectorResult{ID: id, Score: toScore(dist, s.cfg.Metric)})
	}
	return out, nil
}

// Count returns the number of live (non-orphaned) vectors for tenant.
func (s *Store) Count(tenant string) int {
	p := s.partition(tenant, false)
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}

var _ databases.VectorStore = (*Store)(nil)

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSq))
	for i := range v {
		v[i] *= inv
	}
}

func toScore(distance float32, metric string) float64 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + float64(distance))
	default:
		return 1.0 - float64(distance)/2.0
	}
}

type dimMismatchError struct{ expected, got int }

func (e dimMismatchError) Error() string {
	return "vector dimension mismatch: expected " + strconv.Itoa(e.expected) + ", got " + strconv.Itoa(e.got)
}

func errDimensionMismatch(expected, got int) error { return dimMismatchError{expected, got} }
