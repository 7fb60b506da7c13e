// ABOUTME: Bounded TTL set of event fingerprints already relayed to the collector
// ABOUTME: Lets turn reconstruction skip tool calls sent live and spot replies that supersede a live copy

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	marked  time.Time
	element *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited set of fingerprints.
// Insertion order is kept in a linked list so eviction of the oldest
// fingerprint is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts a sweeper that drops expired fingerprints
// once per ttl (at most once a minute).
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(min(ttl, time.Minute))
	return c
}

// Seen reports whether key was remembered within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// Remember records key, refreshing its TTL if already present.
func (c *Cache) Remember(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rememberLocked(key)
}

// Claim remembers key and reports whether it was already live. Only one of
// several concurrent callers with the same key gets false.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.rememberLocked(key)
	return false
}

// Forget drops key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of stored fingerprints, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) liveLocked(key string) bool {
	e, ok := c.seen[key]
	return ok && c.now().Sub(e.marked) < c.ttl
}

func (c *Cache) rememberLocked(key string) {
	now := c.now()

	if e, ok := c.seen[key]; ok {
		e.marked = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &entry{marked: now, element: c.order.PushBack(key)}
}

func (c *Cache) sweepLoop(every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired fingerprints. The list is ordered by mark time, so it
// stops at the first live entry.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.seen[key].marked) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
