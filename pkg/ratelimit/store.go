package ratelimit

import (
	"context"
	"sync"
)

// CounterStore persists per-identity bucket state in a store shared by all
// server processes. Get returns (nil, nil) for an identity with no bucket
// yet. Implementations must tolerate concurrent access; the limiter
// deliberately issues Get and Put as separate operations (see package docs
// on the accepted race).
type CounterStore interface {
	Get(ctx context.Context, key string) (*Bucket, error)
	Put(ctx context.Context, key string, bucket *Bucket) error
}

// MemoryStore is an in-process CounterStore for tests and single-node
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]Bucket
}

// NewMemoryStore creates a new in-memory counter store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]Bucket),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, exists := s.buckets[key]
	if !exists {
		return nil, nil
	}
	bucketCopy := bucket
	return &bucketCopy, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, bucket *Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets[key] = *bucket
	return nil
}
