// Package cache provides a bounded, TTL-aware result cache for read-only
// tool executions. Mutating-tool results are never stored here.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL is the validity window applied when Put is called with a
// non-positive TTL.
const DefaultTTL = 90 * time.Second

// DefaultMaxEntries bounds the cache when no capacity is configured.
const DefaultMaxEntries = 256

type entry struct {
	fp        Fingerprint
	payload   string
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expiredAt(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) >= e.ttl
}

// ResultCache is a capacity-bounded LRU cache with lazy TTL expiry.
// It serializes its own reads and writes; scheduler workers may call it
// concurrently.
type ResultCache struct {
	mu      sync.Mutex
	entries map[Fingerprint]*list.Element
	order   *list.List // front = most recently used
	max     int
}

// Options configures a ResultCache.
type Options struct {
	MaxEntries int
}

// New creates a ResultCache. A non-positive MaxEntries falls back to
// DefaultMaxEntries.
func New(opts Options) *ResultCache {
	max := opts.MaxEntries
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &ResultCache{
		entries: make(map[Fingerprint]*list.Element),
		order:   list.New(),
		max:     max,
	}
}

// Get returns the cached payload for fp if present and unexpired. Expired
// entries are removed lazily and reported as misses. A hit marks the entry
// most recently used.
func (c *ResultCache) Get(fp Fingerprint) (string, bool) {
	return c.getAt(fp, time.Now())
}

func (c *ResultCache) getAt(fp Fingerprint, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fp]
	if !ok {
		return "", false
	}
	e := el.Value.(*entry)
	if e.expiredAt(now) {
		c.order.Remove(el)
		delete(c.entries, fp)
		return "", false
	}
	c.order.MoveToFront(el)
	return e.payload, true
}

// Put stores a payload under fp with the given TTL, evicting the least
// recently used entry on overflow. A non-positive ttl uses DefaultTTL.
func (c *ResultCache) Put(fp Fingerprint, payload string, ttl time.Duration) {
	c.putAt(fp, payload, ttl, time.Now())
}

func (c *ResultCache) putAt(fp Fingerprint, payload string, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[fp]; ok {
		e := el.Value.(*entry)
		e.payload = payload
		e.createdAt = now
		e.ttl = ttl
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{fp: fp, payload: payload, createdAt: now, ttl: ttl})
	c.entries[fp] = el

	for len(c.entries) > c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).fp)
	}
}

// Remove deletes a specific entry.
func (c *ResultCache) Remove(fp Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[fp]; ok {
		c.order.Remove(el)
		delete(c.entries, fp)
	}
}

// Clear removes all entries.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Fingerprint]*list.Element)
	c.order.Init()
}

// Len returns the current number of entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
