package lexical

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WriterLock serializes index-mutating operations for a single tenant across
// processes, so two ingestion workers never interleave writes to the same
// tenant's on-disk snapshot.
type WriterLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewWriterLock returns a lock file at <dir>/<tenant>.lock.
func NewWriterLock(dir, tenant string) *WriterLock {
	path := filepath.Join(dir, tenant+".lock")
	return &WriterLock{path: path, flock: flock.New(path)}
}

// Lock blocks until the exclusive lock is acquired.
func (l *WriterLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire lexical index lock: %w", err)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock; safe to call when not held.
func (l *WriterLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lexical index lock: %w", err)
	}
	l.locked = false
	return nil
}
