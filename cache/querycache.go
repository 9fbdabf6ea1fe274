// Package cache implements the Query Cache and Error Cache collaborators
// from spec.md §4.3/§4.4: bounded, TTL-scoped in-memory stores with a
// background cleaner goroutine, grounded on the teacher's cache.Cache
// eviction-and-grace-time idiom (cleaner/pendingEntriesCleaner in
// cache.go, the AsyncCache TTL model in async_cache.go).
package cache

import (
	"sync"
	"time"

	"github.com/queryhub/qbridge/log"
)

// Evictable is anything the Query Cache can hold: it knows how to release
// its owned resources, and whether a writer currently owns it (in which
// case eviction must defer the close rather than do it itself, per
// spec.md §3's "result" invariants).
type Evictable interface {
	Close() error
	Active() bool
}

type queryCacheEntry struct {
	value     Evictable
	expiresAt time.Time // zero means no expiry
}

// QueryCache is the bounded qid -> Evictable store from spec.md §4.3.
// maxEntries enforces the size bound; ttl governs write-time expiry. Zero
// or negative ttl disables expiry, matching the teacher's Cache.expire
// convention generalized to "no TTL at all" for this store.
type QueryCache struct {
	mu         sync.Mutex
	entries    map[string]*queryCacheEntry
	order      []string // insertion order, for size-based eviction
	maxEntries int
	ttl        time.Duration

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewQueryCache starts a QueryCache with the given size bound and TTL.
func NewQueryCache(maxEntries int, ttl time.Duration) *QueryCache {
	c := &QueryCache{
		entries:    make(map[string]*queryCacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		stopCh:     make(chan struct{}),
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.cleaner()
	}()
	return c
}

// Close stops the background cleaner and releases every still-owned entry.
func (c *QueryCache) Close() {
	close(c.stopCh)
	c.wg.Wait()

	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*queryCacheEntry)
	c.order = nil
	c.mu.Unlock()

	for qid, e := range entries {
		c.release(qid, e)
	}
}

func (c *QueryCache) cleaner() {
	d := c.ttl / 2
	if d <= 0 || d < time.Second {
		d = time.Second
	}
	if d > time.Minute {
		d = time.Minute
	}

	for {
		select {
		case <-time.After(d):
			c.evictExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *QueryCache) evictExpired() {
	now := time.Now()

	c.mu.Lock()
	expired := make(map[string]*queryCacheEntry)
	for qid, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			expired[qid] = e
		}
	}
	for qid := range expired {
		delete(c.entries, qid)
		c.removeFromOrderLocked(qid)
	}
	c.mu.Unlock()

	for qid, e := range expired {
		log.Debugf("query cache: %q expired", qid)
		c.release(qid, e)
	}
}

// Put stores value under qid, replacing (and closing, unless active) any
// prior entry with the same qid, and evicting the oldest entry if this put
// exceeds maxEntries.
func (c *QueryCache) Put(qid string, value Evictable) {
	c.mu.Lock()

	if old, ok := c.entries[qid]; ok {
		delete(c.entries, qid)
		c.removeFromOrderLocked(qid)
		c.mu.Unlock()
		c.release(qid, old)
		c.mu.Lock()
	}

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	c.entries[qid] = &queryCacheEntry{value: value, expiresAt: expiresAt}
	c.order = append(c.order, qid)

	evicted := make(map[string]*queryCacheEntry)
	if c.maxEntries > 0 {
		for len(c.order) > c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			if e, ok := c.entries[oldest]; ok {
				delete(c.entries, oldest)
				evicted[oldest] = e
			}
		}
	}
	c.mu.Unlock()

	for qid, e := range evicted {
		c.release(qid, e)
	}
}

// Get returns the entry stored under qid, if present and unexpired.
func (c *QueryCache) Get(qid string) (Evictable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[qid]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Invalidate removes and releases qid's entry, for the explicit
// on-error-invalidate path of DIRECT/ASYNC/MUTATION (spec.md §4.6).
func (c *QueryCache) Invalidate(qid string) {
	c.mu.Lock()
	e, ok := c.entries[qid]
	if ok {
		delete(c.entries, qid)
		c.removeFromOrderLocked(qid)
	}
	c.mu.Unlock()

	if ok {
		c.release(qid, e)
	}
}

func (c *QueryCache) removeFromOrderLocked(qid string) {
	for i, id := range c.order {
		if id == qid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// release closes e's value unless it's actively being streamed, in
// which case the close is left to whichever Response Writer holds it.
func (c *QueryCache) release(qid string, e *queryCacheEntry) {
	if e.value == nil {
		return
	}
	if e.value.Active() {
		log.Debugf("query cache: %q evicted while active, close deferred to streamer", qid)
		return
	}
	if err := e.value.Close(); err != nil {
		log.Errorf("query cache: %q: close: %s", qid, err)
	}
}

// Len reports the number of live entries, used by the admin metrics
// endpoint.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
