package ee

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/observability"
)

// Sizer counts images matched by a collection expression.
type Sizer interface {
	CollectionSize(ctx context.Context, coll expr.Collection) (int, error)
}

// CachedCatalog wraps a Sizer with an in-memory LRU cache keyed by the
// serialized collection expression. Collection membership is stable for the
// duration of a run, so repeat queries for the same filters are served
// locally. Reductions are never cached: threshold histograms must reflect
// the calibration region's current state on every run.
type CachedCatalog struct {
	inner   Sizer
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedCatalog creates a cache decorator around a Sizer.
func NewCachedCatalog(inner Sizer, maxEntries int, metrics *observability.Metrics) *CachedCatalog {
	return &CachedCatalog{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

// CollectionSize returns the cached count for this expression, querying the
// platform on a miss.
func (c *CachedCatalog) CollectionSize(ctx context.Context, coll expr.Collection) (int, error) {
	key, err := json.Marshal(coll)
	if err != nil {
		return 0, fmt.Errorf("serialize collection expression: %w", err)
	}

	if size, ok := c.cache.get(string(key)); ok {
		c.countCache("hit")
		return size, nil
	}
	c.countCache("miss")

	size, err := c.inner.CollectionSize(ctx, coll)
	if err != nil {
		return 0, err
	}
	c.cache.put(string(key), size)
	return size, nil
}

func (c *CachedCatalog) countCache(result string) {
	if c.metrics != nil {
		c.metrics.CatalogCache.WithLabelValues(result).Inc()
	}
}

// lruCache is a simple thread-safe LRU cache for collection sizes.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value int
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
