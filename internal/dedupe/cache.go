// ABOUTME: Thread-safe TTL cache of recently settled keys and why they settled.
// ABOUTME: The bridge uses it for finished correlation ids and dead connection handles.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
	element *list.Element
}

// Cache remembers keys for a fixed TTL together with a value describing
// them. It is size-limited; when full the oldest key is evicted first.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache. A background goroutine sweeps expired keys until Close.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return time.Minute
	case ttl < time.Minute:
		return ttl
	default:
		return time.Minute
	}
}

// Get returns the value stored for key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(key, time.Now())
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Contains reports whether key is present and unexpired.
func (c *Cache[V]) Contains(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Put stores value under key, refreshing its TTL.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value, time.Now())
}

// Add stores value only if key is absent or expired. It returns false when
// key was already present; the existing value is left untouched.
func (c *Cache[V]) Add(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, ok := c.live(key, now); ok {
		return false
	}
	c.putLocked(key, value, now)
	return true
}

// size returns the number of stored keys, including expired ones not yet swept.
func (c *Cache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// live must be called with mu held.
func (c *Cache[V]) live(key string, now time.Time) (*entry[V], bool) {
	e, ok := c.entries[key]
	if !ok || !now.Before(e.expires) {
		return nil, false
	}
	return e, true
}

// putLocked must be called with mu held.
func (c *Cache[V]) putLocked(key string, value V, now time.Time) {
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = now.Add(c.ttl)
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &entry[V]{
		value:   value,
		expires: now.Add(c.ttl),
		element: c.order.PushBack(key),
	}
}

// evictOldest must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache[V]) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache[V]) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
