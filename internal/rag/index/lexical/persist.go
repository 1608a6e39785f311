package lexical

import (
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// formatVersion is bumped whenever the on-disk snapshot layout changes
// incompatibly; Load refuses to read a mismatched version.
const formatVersion byte = 1

// tokenizerConfigHash fingerprints the stopword list and scoring constants so
// a snapshot built under a different tokenizer configuration is rejected
// instead of silently producing skewed scores.
func tokenizerConfigHash() [32]byte {
	h := sha256.New()
	for w := range stopWords {
		h.Write([]byte(w))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "k1=%v;b=%v", k1, b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// snapshot is the gob-serializable payload of one tenant partition.
type snapshot struct {
	DocFreq   map[string]int
	Postings  map[string]map[string]int
	Chunks    map[string]chunkMeta
	TotalLen  int64
	NumChunks int
}

// Save atomically persists tenant's partition to path: a version byte and
// tokenizer config hash are written first, then a gob-encoded snapshot. The
// write goes to a temp file in the same directory followed by rename, so a
// crash mid-write never corrupts the previous snapshot.
func (idx *Index) Save(tenant, path string) error {
	p := idx.partition(tenant, false)
	if p == nil {
		p = newPartition()
	}
	p.mu.RLock()
	snap := snapshot{
		DocFreq:   p.docFreq,
		Postings:  p.postings,
		Chunks:    p.chunks,
		TotalLen:  p.totalLen,
		NumChunks: p.numChunks,
	}
	p.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	defer os.Remove(tmp)

	if _, err := f.Write([]byte{formatVersion}); err != nil {
		f.Close()
		return fmt.Errorf("write format version: %w", err)
	}
	hash := tokenizerConfigHash()
	if _, err := f.Write(hash[:]); err != nil {
		f.Close()
		return fmt.Errorf("write tokenizer config hash: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(snap); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp index file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a snapshot written by Save into tenant's partition, replacing
// any in-memory state. It returns an error if the version byte or tokenizer
// config hash doesn't match the running binary's configuration.
func (idx *Index) Load(tenant, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	var header [1 + 32]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return fmt.Errorf("read index header: %w", err)
	}
	if header[0] != formatVersion {
		return fmt.Errorf("unsupported lexical index format version %d", header[0])
	}
	want := tokenizerConfigHash()
	for i := range want {
		if header[1+i] != want[i] {
			return fmt.Errorf("tokenizer configuration changed since index was built, reindex required")
		}
	}

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	p := idx.partition(tenant, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docFreq = snap.DocFreq
	p.postings = snap.Postings
	p.chunks = snap.Chunks
	p.totalLen = snap.TotalLen
	p.numChunks = snap.NumChunks
	return nil
}
