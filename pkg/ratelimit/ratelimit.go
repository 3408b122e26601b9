// Package ratelimit provides per-identity token-bucket admission control
// backed by a shared counter store, so multiple server processes enforce a
// combined limit.
//
// The bucket update is a read-modify-write of two separate store operations
// and is intentionally not atomic: concurrent requests from the same
// identity can both observe a token and over-admit by at most the degree of
// concurrency. Distributed locking would cost more latency than the exact
// accounting is worth; a store-side scripted increment is the upgrade path
// if strict accounting is ever needed.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Identity names one caller for admission control purposes. Authenticated
// callers are keyed by email; anonymous callers by network peer address.
type Identity struct {
	Key           string
	Authenticated bool
}

// Policy is the two-tier bucket policy: authenticated identities get a
// higher token ceiling (and proportionally faster refill) than anonymous
// ones. The refill rate per class is ceiling/window, applied continuously.
type Policy struct {
	MaxAuthenticated float64
	MaxAnonymous     float64
	Window           time.Duration
}

// DefaultPolicy matches the service's stock limits: anonymous callers get
// 10 requests per minute, authenticated callers 30.
var DefaultPolicy = Policy{
	MaxAuthenticated: 30,
	MaxAnonymous:     10,
	Window:           time.Minute,
}

// limits resolves the token ceiling and refill rate (tokens per
// millisecond) for an identity.
func (p Policy) limits(id Identity) (maxTokens, refillPerMs float64) {
	maxTokens = p.MaxAnonymous
	if id.Authenticated {
		maxTokens = p.MaxAuthenticated
	}
	windowMs := float64(p.Window) / float64(time.Millisecond)
	if windowMs <= 0 {
		windowMs = float64(time.Minute / time.Millisecond)
	}
	return maxTokens, maxTokens / windowMs
}

// Bucket is the persisted token-bucket state for one identity.
type Bucket struct {
	Tokens     float64
	LastRefill time.Time
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration

	// FailedOpen is set when the counter store was unreachable and the
	// request was admitted without consuming a token. Store outages never
	// surface to the caller; availability wins over strict enforcement.
	FailedOpen bool
}

// Limiter performs token-bucket admission control against a CounterStore.
type Limiter struct {
	store  CounterStore
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// LimiterOption represents a functional option for configuring the limiter
type LimiterOption func(*Limiter)

// WithLogger sets the structured logger for the limiter
func WithLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock overrides the limiter's time source (used in tests)
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter over the given counter store and policy
func New(store CounterStore, policy Policy, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:  store,
		policy: policy,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow runs the refill-then-consume algorithm for one inbound request.
//
// The bucket is loaded, refilled for the elapsed time since the last
// observation, and one token is consumed if available. The refreshed state
// is persisted even on rejection so elapsed time is never lost. If the
// counter store is unreachable at any step, the request is admitted
// (fail open).
func (l *Limiter) Allow(ctx context.Context, id Identity) Decision {
	now := l.now().UTC()
	maxTokens, refillPerMs := l.policy.limits(id)

	bucket, err := l.store.Get(ctx, id.Key)
	if err != nil {
		l.logger.Warn("counter store unavailable, admitting request", "identity", id.Key, "err", err)
		return Decision{Allowed: true, FailedOpen: true}
	}
	if bucket == nil {
		bucket = &Bucket{Tokens: maxTokens, LastRefill: now}
	}

	elapsedMs := float64(now.Sub(bucket.LastRefill)) / float64(time.Millisecond)
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	bucket.Tokens = math.Min(maxTokens, bucket.Tokens+elapsedMs*refillPerMs)
	bucket.LastRefill = now

	allowed := bucket.Tokens >= 1
	if allowed {
		bucket.Tokens--
	}

	if err := l.store.Put(ctx, id.Key, bucket); err != nil {
		l.logger.Warn("counter store unavailable, admitting request", "identity", id.Key, "err", err)
		return Decision{Allowed: true, FailedOpen: true}
	}

	if allowed {
		return Decision{Allowed: true, Remaining: bucket.Tokens}
	}
	return Decision{
		Allowed:    false,
		Remaining:  bucket.Tokens,
		RetryAfter: retryAfter(bucket.Tokens, refillPerMs),
	}
}

// retryAfter estimates how long until one full token has accrued
func retryAfter(tokens, refillPerMs float64) time.Duration {
	if refillPerMs <= 0 {
		return time.Second
	}
	missing := 1 - tokens
	if missing <= 0 {
		return time.Second
	}
	d := time.Duration(missing/refillPerMs) * time.Millisecond
	if d < time.Second {
		d = time.Second
	}
	return d
}
