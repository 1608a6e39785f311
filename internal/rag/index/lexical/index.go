// Package lexical implements the tenant-partitioned BM25 full-text index
// used by the hybrid retriever's sparse leg. Scoring follows Robertson/Spärck
// Jones BM25 with k1=1.5, b=0.75; persistence uses an atomic temp-file+rename
// write of a versioned snapshot.
package lexical

import (
	"math"
	"sync"

	"ragcore/internal/errs"
)

const (
	k1 = 1.5
	b  = 0.75
)

// chunkMeta carries the document-level metadata needed to answer searches
// without a second round-trip to document storage.
type chunkMeta struct {
	DocID   string
	Text    string
	Snippet string
	Length  int // token count, for the BM25 length-normalization term
}

// partition is one tenant's isolated lexical index.
type partition struct {
	mu         sync.RWMutex
	docFreq    map[string]int               // term -> number of chunks containing it
	postings   map[string]map[string]int    // term -> chunk id -> term frequency
	chunks     map[string]chunkMeta
	totalLen   int64
	numChunks  int
}

func newPartition() *partition {
	return &partition{
		docFreq:  make(map[string]int),
		postings: make(map[string]map[string]int),
		chunks:   make(map[string]chunkMeta),
	}
}

func (p *partition) avgLen() float64 {
	if p.numChunks == 0 {
		return 0
	}
	return float64(p.totalLen) / float64(p.numChunks)
}

// Index is a tenant-partitioned BM25 lexical index. Every operation requires
// an explicit tenant; a missing tenant fails closed.
type Index struct {
	mu    sync.RWMutex
	parts map[string]*partition
}

// NewIndex constructs an empty lexical index.
func NewIndex() *Index {
	return &Index{parts: make(map[string]*partition)}
}

func (idx *Index) partition(tenant string, create bool) *partition {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	p, ok := idx.parts[tenant]
	if !ok && create {
		p = newPartition()
		idx.parts[tenant] = p
	}
	return p
}

// Upsert (re)indexes a chunk's text under tenant. Re-indexing an existing
// chunk id first removes its prior postings so document frequency stays correct.
func (idx *Index) Upsert(tenant, chunkID, docID, text string) error {
	if tenant == "" {
		return errs.New(errs.KindTenantIsolationViolation, "lexical.Index.Upsert", errs.ErrTenantRequired)
	}
	p := idx.partition(tenant, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.chunks[chunkID]; exists {
		p.removeLocked(chunkID)
	}
	tokens := Tokenize(text)
	tf := TermFrequencies(tokens)
	postingsEntry := make(map[string]int, len(tf))
	for term, f := range tf {
		postingsEntry[term] = f
		if p.postings[term] == nil {
			p.postings[term] = make(map[string]int)
		}
		p.postings[term][chunkID] = f
		p.docFreq[term]++
	}
	snippet := text
	if len(snippet) > 240 {
		snippet = snippet[:240]
	}
	p.chunks[chunkID] = chunkMeta{DocID: docID, Text: text, Snippet: snippet, Length: len(tokens)}
	p.totalLen += int64(len(tokens))
	p.numChunks++
	return nil
}

// removeLocked removes chunkID's postings; caller must hold p.mu.
func (p *partition) removeLocked(chunkID string) {
	meta, ok := p.chunks[chunkID]
	if !ok {
		return
	}
	for term := range TermFrequencies(Tokenize(meta.Text)) {
		if m, ok := p.postings[term]; ok {
			delete(m, chunkID)
			if len(m) == 0 {
				delete(p.postings, term)
			}
		}
		if p.docFreq[term] > 0 {
			p.docFreq[term]--
			if p.docFreq[term] == 0 {
				delete(p.docFreq, term)
			}
		}
	}
	p.totalLen -= int64(meta.Length)
	p.numChunks--
	delete(p.chunks, chunkID)
}

// Delete removes a single chunk from tenant's index.
func (idx *Index) Delete(tenant, chunkID string) error {
	if tenant == "" {
		return errs.New(errs.KindTenantIsolationViolation, "lexical.Index.Delete", errs.ErrTenantRequired)
	}
	p := idx.partition(tenant, false)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(chunkID)
	return nil
}

// DeleteByDocument removes every chunk belonging to docID within tenant.
func (idx *Index) DeleteByDocument(tenant, docID string) error {
	if tenant == "" {
		return errs.New(errs.KindTenantIsolationViolation, "lexical.Index.DeleteByDocument", errs.ErrTenantRequired)
	}
	p := idx.partition(tenant, false)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var toRemove []string
	for id, meta := range p.chunks {
		if meta.DocID == docID {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		p.removeLocked(id)
	}
	return nil
}

// GetByID returns the stored text and snippet for chunkID within tenant.
func (idx *Index) GetByID(tenant, chunkID string) (docID, text, snippet string, ok bool) {
	if tenant == "" {
		return "", "", "", false
	}
	p := idx.partition(tenant, false)
	if p == nil {
		return "", "", "", false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	meta, ok := p.chunks[chunkID]
	if !ok {
		return "", "", "", false
	}
	return meta.DocID, meta.Text, meta.Snippet, true
}

// Hit is a single scored BM25 search result.
type Hit struct {
	ChunkID string
	DocID   string
	Score   float64
	Snippet string
}

// Search runs a BM25 query against tenant's partition, returning the top k
// hits ordered by descending score with chunk_id-ascending tie-breaking.
func (idx *Index) Search(tenant, query string, k int) ([]Hit, error) {
	if tenant == "" {
		return nil, errs.New(errs.KindTenantIsolationViolation, "lexical.Index.Search", errs.ErrTenantRequired)
	}
	p := idx.partition(tenant, false)
	if p == nil {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	terms := Tokenize(query)
	if len(terms) == 0 || p.numChunks == 0 {
		return nil, nil
	}
	avgLen := p.avgLen()
	scores := make(map[string]float64)
	seen := make(map[string]struct{})
	for _, term := range terms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		df := p.docFreq[term]
		if df == 0 {
			continue
		}
		idf := idfBM25(p.numChunks, df)
		for chunkID, tf := range p.postings[term] {
			length := p.chunks[chunkID].Length
			denom := float64(tf) + k1*(1-b+b*float64(length)/avgLen)
			scores[chunkID] += idf * (float64(tf) * (k1 + 1)) / denom
		}
	}
	hits := make([]Hit, 0, len(scores))
	for chunkID, score := range scores {
		meta := p.chunks[chunkID]
		hits = append(hits, Hit{ChunkID: chunkID, DocID: meta.DocID, Score: score, Snippet: meta.Snippet})
	}
	sortHitsDesc(hits)
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func sortHitsDesc(hits []Hit) {
	// Insertion sort is fine: result sets are bounded by retrieval top-k.
	for i := 1; i < len(hits); i++ {
		j := i
		for j > 0 && less(hits[j], hits[j-1]) {
			hits[j], hits[j-1] = hits[j-1], hits[j]
			j--
		}
	}
}

// less orders by descending score, then ascending chunk_id for determinism.
func less(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ChunkID < b.ChunkID
}

func idfBM25(n, df int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}
