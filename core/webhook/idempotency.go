package webhook

import (
	"container/list"
	"sync"
	"time"
)

const (
	// MaxRetryAttempts bounds how often a consumer will accept the same
	// retry id before answering Gone.
	MaxRetryAttempts = 5

	defaultKeyCapacity = 512
	defaultKeyTTL      = 10 * time.Minute
)

// KeyCache is a bounded TTL cache over idempotency keys: a known, unexpired
// key identifies a repeated delivery of the same event.
type KeyCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List               // oldest first; values are cache keys
	entries  map[string]*list.Element // key -> order element
	expiry   map[string]time.Time
	now      func() time.Time
}

func NewKeyCache(capacity int, ttl time.Duration) *KeyCache {
	if capacity <= 0 {
		capacity = defaultKeyCapacity
	}
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	return &KeyCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		expiry:   make(map[string]time.Time),
		now:      time.Now,
	}
}

// Seen records key and reports whether it was already present and unexpired.
// An empty key is never a duplicate.
func (c *KeyCache) Seen(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		if now.Before(c.expiry[key]) {
			return true
		}
		c.removeLocked(el)
	}

	c.evictLocked(now)
	c.entries[key] = c.order.PushBack(key)
	c.expiry[key] = now.Add(c.ttl)
	return false
}

func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops expired entries, then the oldest one if still at capacity.
func (c *KeyCache) evictLocked(now time.Time) {
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		key := el.Value.(string)
		if now.Before(c.expiry[key]) {
			break // order is insertion order; the rest expire later
		}
		c.removeLocked(el)
		el = next
	}
	for len(c.entries) >= c.capacity {
		c.removeLocked(c.order.Front())
	}
}

func (c *KeyCache) removeLocked(el *list.Element) {
	key := el.Value.(string)
	c.order.Remove(el)
	delete(c.entries, key)
	delete(c.expiry, key)
}

// RetryCounter tracks how many times a given retry id has been attempted, so
// the consumer can tell a caller to stop retrying.
type RetryCounter struct {
	mu       sync.Mutex
	max      int
	capacity int
	attempts map[string]int
}

func NewRetryCounter(max int) *RetryCounter {
	if max <= 0 {
		max = MaxRetryAttempts
	}
	return &RetryCounter{
		max:      max,
		capacity: 4096,
		attempts: make(map[string]int),
	}
}

// Exhausted records one more attempt for id and reports whether the bounded
// retry budget was already spent before this attempt.
func (rc *RetryCounter) Exhausted(id string) bool {
	if id == "" {
		return false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.attempts[id] >= rc.max {
		return true
	}
	if len(rc.attempts) >= rc.capacity {
		// unbounded callers must not grow this map forever
		rc.attempts = make(map[string]int)
	}
	rc.attempts[id]++
	return false
}
