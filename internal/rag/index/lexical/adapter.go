package lexical

import (
	"context"
	"sync"

	"ragcore/internal/errs"
	"ragcore/internal/persistence/databases"
)

// TenantSearch adapts the tenant-partitioned Index to the
// databases.FullTextSearch interface. The base interface predates
// multi-tenancy and has no tenant parameter, so TenantSearch additionally
// implements SearchChunks(ctx, query, lang, limit, filter) — the retriever's
// candidate-fetch path prefers that method and always supplies a tenant
// filter. Index/Remove recover the tenant from metadata or from a small
// id->tenant side table so the narrower interface still behaves safely.
type TenantSearch struct {
	idx *Index

	mu      sync.RWMutex
	tenants map[string]string // chunk id -> tenant, for Remove's narrower signature
}

// NewTenantSearch wraps idx for use wherever a databases.FullTextSearch is expected.
func NewTenantSearch(idx *Index) *TenantSearch {
	return &TenantSearch{idx: idx, tenants: make(map[string]string)}
}

// Index stores text under the tenant named in metadata["tenant"]; doc_id
// defaults to metadata["doc_id"] and falls back to id.
func (t *TenantSearch) Index(ctx context.Context, id string, text string, metadata map[string]string) error {
	tenant := metadata["tenant"]
	if tenant == "" {
		return errs.New(errs.KindTenantIsolationViolation, "lexical.TenantSearch.Index", errs.ErrTenantRequired)
	}
	docID := metadata["doc_id"]
	if docID == "" {
		docID = id
	}
	if err := t.idx.Upsert(tenant, id, docID, text); err != nil {
		return err
	}
	t.mu.Lock()
	t.tenants[id] = tenant
	t.mu.Unlock()
	return nil
}

// Remove deletes id from whichever tenant partition last indexed it.
func (t *TenantSearch) Remove(ctx context.Context, id string) error {
	t.mu.Lock()
	tenant := t.tenants[id]
	delete(t.tenants, id)
	t.mu.Unlock()
	if tenant == "" {
		return nil
	}
	return t.idx.Delete(tenant, id)
}

// Search always fails closed: callers must use SearchChunks so a tenant
// filter is present. The base interface has no room for one.
func (t *TenantSearch) Search(ctx context.Context, query string, limit int) ([]databases.SearchResult, error) {
	return nil, errs.New(errs.KindTenantIsolationViolation, "lexical.TenantSearch.Search", errs.ErrTenantRequired)
}

// SearchChunks runs a tenant-scoped BM25 search; filter["tenant"] is required.
func (t *TenantSearch) SearchChunks(ctx context.Context, query string, lang string, limit int, filter map[string]string) ([]databases.SearchResult, error) {
	tenant := filter["tenant"]
	if tenant == "" {
		return nil, errs.New(errs.KindTenantIsolationViolation, "lexical.TenantSearch.SearchChunks", errs.ErrTenantRequired)
	}
	hits, err := t.idx.Search(tenant, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]databases.SearchResult, len(hits))
	for i, h := range hits {
		out[i] = databases.SearchResult{
			ID:      h.ChunkID,
			Score:   h.Score,
			Snippet: h.Snippet,
			Metadata: map[string]string{
				"tenant": tenant,
				"doc_id": h.DocID,
			},
		}
	}
	return out, nil
}

// GetByID looks up a chunk's full text across whichever tenant last indexed
// it, using the id->tenant side table populated by Index.
func (t *TenantSearch) GetByID(ctx context.Context, id string) (databases.SearchResult, bool, error) {
	t.mu.RLock()
	tenant := t.tenants[id]
	t.mu.RUnlock()
	if tenant == "" {
		return databases.SearchResult{}, false, nil
	}
	docID, text, snippet, ok := t.idx.GetByID(tenant, id)
	if !ok {
		return databases.SearchResult{}, false, nil
	}
	return databases.SearchResult{
		ID:       id,
		Snippet:  snippet,
		Text:     text,
		Metadata: map[string]string{"tenant": tenant, "doc_id": docID},
	}, true, nil
}

// DeleteByDocument removes every chunk of docID within tenant, including
// their entries in the id->tenant side table.
func (t *TenantSearch) DeleteByDocument(tenant, docID string) error {
	t.mu.Lock()
	for id, tn := range t.tenants {
		if tn != tenant {
			continue
		}
		if d, _, _, ok := t.idx.GetByID(tenant, id); ok && d == docID {
			delete(t.tenants, id)
		}
	}
	t.mu.Unlock()
	return t.idx.DeleteByDocument(tenant, docID)
}

var _ databases.FullTextSearch = (*TenantSearch)(nil)
