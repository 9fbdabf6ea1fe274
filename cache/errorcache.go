package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/queryhub/qbridge/log"
)

// ErrMissing is returned by ErrorCache.Get for a qid with no memoized
// error, matching the teacher's cache.ErrMissing sentinel.
var ErrMissing = errors.New("cache: missing entry")

const (
	errorCacheGetTimeout = 1 * time.Second
	errorCachePutTimeout = 2 * time.Second
)

// ErrorCache is the bounded qid -> error-message store from spec.md §4.4.
// Unlike the Query Cache it holds no live backend handles, so — exactly
// like the teacher's AsyncCache — it is eligible to be backed by Redis
// instead of an in-memory map.
type ErrorCache interface {
	Put(qid, message string)
	Get(qid string) (string, error)
	Close() error
}

// inMemoryErrorCache is the default backing: a bounded map with the same
// cleaner-goroutine shape as QueryCache.
type inMemoryErrorCache struct {
	mu         sync.Mutex
	entries    map[string]errorCacheEntry
	order      []string
	maxEntries int
	ttl        time.Duration

	wg     sync.WaitGroup
	stopCh chan struct{}
}

type errorCacheEntry struct {
	message   string
	expiresAt time.Time
}

// NewInMemoryErrorCache starts an in-memory ErrorCache.
func NewInMemoryErrorCache(maxEntries int, ttl time.Duration) ErrorCache {
	c := &inMemoryErrorCache{
		entries:    make(map[string]errorCacheEntry),
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

func (c *inMemoryErrorCache) cleaner() {
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

func (c *inMemoryErrorCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for qid, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, qid)
			c.removeFromOrderLocked(qid)
		}
	}
}

func (c *inMemoryErrorCache) Put(qid, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[qid]; !ok {
		c.order = append(c.order, qid)
	}

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	c.entries[qid] = errorCacheEntry{message: message, expiresAt: expiresAt}

	if c.maxEntries > 0 {
		for len(c.order) > c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
}

func (c *inMemoryErrorCache) Get(qid string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[qid]
	if !ok {
		return "", ErrMissing
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		return "", ErrMissing
	}
	return e.message, nil
}

func (c *inMemoryErrorCache) removeFromOrderLocked(qid string) {
	for i, id := range c.order {
		if id == qid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *inMemoryErrorCache) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

// redisErrorCache backs the Error Cache with Redis, grounded on the
// teacher's cache/redis_cache.go Get/Put shape, simplified since values
// here are plain strings rather than a (metadata, payload) pair.
type redisErrorCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisErrorCache wraps an already-constructed redis.UniversalClient.
func NewRedisErrorCache(client redis.UniversalClient, ttl time.Duration) ErrorCache {
	return &redisErrorCache{client: client, ttl: ttl}
}

func (c *redisErrorCache) Put(qid, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), errorCachePutTimeout)
	defer cancel()
	if err := c.client.Set(ctx, qid, message, c.ttl).Err(); err != nil {
		log.Errorf("error cache: redis set %q: %s", qid, err)
	}
}

func (c *redisErrorCache) Get(qid string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), errorCacheGetTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, qid).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMissing
	}
	if err != nil {
		log.Errorf("error cache: redis get %q: %s", qid, err)
		return "", ErrMissing
	}
	return val, nil
}

func (c *redisErrorCache) Close() error {
	return c.client.Close()
}
