package documents

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveReadDelete(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	path, err := s.Save(ctx, "acme", "doc-1", "pdf", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "acme") {
		t.Fatalf("expected file under tenant dir, got %s", path)
	}

	rc, err := s.Read(ctx, "acme", "doc-1", "pdf")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected content: %q", data)
	}

	if err := s.Delete(ctx, "acme", "doc-1", "pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Read(ctx, "acme", "doc-1", "pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDelete_MissingFileIsNotAnError(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Delete(context.Background(), "acme", "missing", "pdf"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestRead_MissingFileReturnsErrNotFound(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Read(context.Background(), "acme", "missing", "pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
