// Package ratelimit provides a token bucket used to pace provider API
// requests below account rate limits.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config configures a token bucket.
type Config struct {
	// RequestsPerSecond is the sustained request rate. Zero or negative
	// disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket capacity. Defaults to twice the rate.
	Burst int `yaml:"burst"`
}

// Bucket is a context-aware token bucket. A nil *Bucket never limits,
// so callers can hold one unconditionally.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

// New creates a Bucket, or nil when the config disables limiting.
func New(cfg Config) *Bucket {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
	}
	return &Bucket{
		tokens:     float64(burst),
		capacity:   float64(burst),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (b *Bucket) Allow() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Wait blocks until a token is available or ctx is done.
func (b *Bucket) Wait(ctx context.Context) error {
	if b == nil {
		return nil
	}
	for {
		wait, ok := b.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve consumes a token when available, otherwise reports how long
// until the next token exists.
func (b *Bucket) reserve() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	deficit := 1 - b.tokens
	return time.Duration(deficit / b.refillRate * float64(time.Second)), false
}

func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}
