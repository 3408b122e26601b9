package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore backed by a shared Redis instance, letting
// multiple server processes enforce a combined limit per identity.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption represents a functional option for configuring the Redis store
type RedisOption func(*RedisStore)

// WithPrefix overrides the key prefix for bucket state
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithTTL overrides how long idle buckets survive before Redis evicts them.
// An evicted bucket reinitializes full, which only ever under-counts.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore creates a Redis-backed counter store
func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "ratelimit:bucket",
		ttl:    time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(identity string) string {
	return s.prefix + ":" + identity
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Bucket, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	tokens, err := strconv.ParseFloat(fields["tokens"], 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt bucket state for %s: %w", key, err)
	}
	lastRefillMs, err := strconv.ParseInt(fields["last_refill_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt bucket state for %s: %w", key, err)
	}

	return &Bucket{
		Tokens:     tokens,
		LastRefill: time.UnixMilli(lastRefillMs).UTC(),
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, bucket *Bucket) error {
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, s.key(key),
		"tokens", strconv.FormatFloat(bucket.Tokens, 'f', -1, 64),
		"last_refill_ms", strconv.FormatInt(bucket.LastRefill.UnixMilli(), 10))
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(key), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// StatsEvent describes one admission decision for recording.
type StatsEvent struct {
	Key     string
	Allowed bool
	Method  string
	Path    string
	At      time.Time
}

// StatsRecorder records admission decisions for observability.
type StatsRecorder interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// RedisStatsStore keeps aggregate allowed/denied counters in Redis: a
// cumulative total plus per-minute buckets that expire.
type RedisStatsStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStatsStore creates a Redis-backed stats recorder
func NewRedisStatsStore(rdb *redis.Client) *RedisStatsStore {
	return &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
	}
}

func (s *RedisStatsStore) Record(ctx context.Context, ev StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}
