package vector

import (
	"context"
	"testing"
)

func TestStore_TenantIsolation(t *testing.T) {
	s := NewStore(Config{Dimensions: 4})
	ctx := context.Background()

	if err := s.Upsert(ctx, "c1", []float32{1, 0, 0, 0}, map[string]string{"tenant": "acme", "doc_id": "d1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, "c2", []float32{1, 0, 0, 0}, map[string]string{"tenant": "other", "doc_id": "d2"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	res, err := s.SimilaritySearch(ctx, []float32{1, 0, 0, 0}, 10, map[string]string{"tenant": "acme"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].ID != "c1" {
		t.Fatalf("expected only acme's vector, got %+v", res)
	}
}

func TestStore_MissingTenantFailsClosed(t *testing.T) {
	s := NewStore(Config{Dimensions: 4})
	ctx := context.Background()
	if err := s.Upsert(ctx, "c1", []float32{1, 0, 0, 0}, map[string]string{}); err == nil {
		t.Fatal("expected error when tenant is missing")
	}
	if _, err := s.SimilaritySearch(ctx, []float32{1, 0, 0, 0}, 10, map[string]string{}); err == nil {
		t.Fatal("expected error when tenant filter is missing")
	}
}

func TestStore_DeleteByDocument(t *testing.T) {
	s := NewStore(Config{Dimensions: 2})
	ctx := context.Background()
	_ = s.Upsert(ctx, "c1", []float32{1, 0}, map[string]string{"tenant": "acme", "doc_id": "docA"})
	_ = s.Upsert(ctx, "c2", []float32{0, 1}, map[string]string{"tenant": "acme", "doc_id": "docA"})
	_ = s.Upsert(ctx, "c3", []float32{1, 1}, map[string]string{"tenant": "acme", "doc_id": "docB"})

	if err := s.DeleteByDocument(ctx, "acme", "docA"); err != nil {
		t.Fatalf("delete by document: %v", err)
	}
	if got := s.Count("acme"); got != 1 {
		t.Fatalf("expected 1 remaining vector, got %d", got)
	}
}
