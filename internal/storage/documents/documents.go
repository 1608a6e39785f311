// Package documents implements the file-based document storage from
// SPEC_FULL.md §6: uploaded files are persisted under
// <UPLOAD_DIR>/<tenant_id>/<document_id>.<ext>; deletion removes the file
// and the caller is responsible for cascading index deletes. Writes are
// atomic, mirroring the lexical index's temp-file-then-rename discipline.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a document file does not exist.
var ErrNotFound = errors.New("documents: not found")

// Store persists uploaded document bytes on the local filesystem, scoped by
// tenant.
type Store struct {
	root string
}

// New constructs a Store rooted at uploadDir (SPEC_FULL.md's UPLOAD_DIR).
func New(uploadDir string) *Store {
	return &Store{root: uploadDir}
}

func (s *Store) path(tenant, documentID, ext string) string {
	name := documentID
	if ext != "" {
		name = documentID + "." + strings.TrimPrefix(ext, ".")
	}
	return filepath.Join(s.root, tenant, name)
}

// Save writes content to <UPLOAD_DIR>/<tenant>/<documentID>.<ext>, replacing
// any existing file atomically via a temp-file-then-rename so a crash
// mid-write never corrupts a previously accepted upload.
func (s *Store) Save(ctx context.Context, tenant, documentID, ext string, content io.Reader) (string, error) {
	if strings.TrimSpace(tenant) == "" || strings.TrimSpace(documentID) == "" {
		return "", fmt.Errorf("documents: tenant and document id are required")
	}
	dir := filepath.Join(s.root, tenant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create tenant upload dir: %w", err)
	}

	dest := s.path(tenant, documentID, ext)
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp upload file: %w", err)
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return "", fmt.Errorf("write upload content: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp upload file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return dest, nil
}

// Read opens the stored file for tenant/documentID/ext. The caller must
// close the returned ReadCloser.
func (s *Store) Read(ctx context.Context, tenant, documentID, ext string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(tenant, documentID, ext))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Delete removes the stored file. It is not an error if the file is already
// gone, so repeated cascading deletes from a redelivered job stay idempotent.
func (s *Store) Delete(ctx context.Context, tenant, documentID, ext string) error {
	err := os.Remove(s.path(tenant, documentID, ext))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
