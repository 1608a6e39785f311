package embedder

import (
	"context"
	"testing"
)

func TestDeterministicEmbedder_StableAndSized(t *testing.T) {
	e := NewDeterministic(16, true, 7)
	vecs, err := e.EmbedBatch(context.Background(), []string{"hello world", "hello world"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 16 {
		t.Fatalf("unexpected shape: %d vectors, dim %d", len(vecs), len(vecs[0]))
	}
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			t.Fatalf("expected identical embeddings for identical text, diverged at %d", i)
		}
	}
}

func TestCachedEmbedder_ServesFromCache(t *testing.T) {
	inner := NewDeterministic(8, false, 1)
	cached := NewCached(inner, 8)
	ctx := context.Background()

	first, err := cached.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	second, err := cached.EmbedBatch(ctx, []string{"a", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Fatalf("expected cached vector for repeated text \"a\"")
		}
	}
}
