package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeStore records which idempotency keys have already produced a Job, so
// a redelivered upload doesn't enqueue a duplicate. Adapted from the
// teacher's command-dedupe store, retargeted to job idempotency keys.
type DedupeStore interface {
	// SeenJobFor returns the existing job id for key, if any.
	SeenJobFor(ctx context.Context, key string) (string, error)
	// MarkSeen records that key now maps to jobID, expiring after ttl.
	MarkSeen(ctx context.Context, key, jobID string, ttl time.Duration) error
	Close() error
}

// MemoryDedupeStore is an in-process DedupeStore, the default backend for
// single-instance deployments and tests. Entries are not actively expired;
// a background sweep is unnecessary at the scale this backend targets.
type MemoryDedupeStore struct {
	mu   sync.Mutex
	seen map[string]dedupeEntry
}

type dedupeEntry struct {
	jobID   string
	expires time.Time
}

func NewMemoryDedupeStore() *MemoryDedupeStore {
	return &MemoryDedupeStore{seen: make(map[string]dedupeEntry)}
}

func (m *MemoryDedupeStore) SeenJobFor(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.seen[key]
	if !ok || time.Now().After(e.expires) {
		return "", nil
	}
	return e.jobID, nil
}

func (m *MemoryDedupeStore) MarkSeen(_ context.Context, key, jobID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key] = dedupeEntry{jobID: jobID, expires: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryDedupeStore) Close() error { return nil }

// RedisDedupeStore backs DedupeStore with Redis, for multi-instance worker
// deployments that must agree on which idempotency keys were already
// enqueued.
type RedisDedupeStore struct {
	client *redis.Client
}

// NewRedisDedupeStore connects to addr and verifies reachability with a PING.
func NewRedisDedupeStore(addr string) (*RedisDedupeStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisDedupeStore{client: client}, nil
}

func (r *RedisDedupeStore) SeenJobFor(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, dedupeKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (r *RedisDedupeStore) MarkSeen(ctx context.Context, key, jobID string, ttl time.Duration) error {
	return r.client.Set(ctx, dedupeKey(key), jobID, ttl).Err()
}

func (r *RedisDedupeStore) Close() error { return r.client.Close() }

func dedupeKey(key string) string { return "ragcore:ingest:dedupe:" + key }
