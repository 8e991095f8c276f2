package memory

import (
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// ResultCache holds recent primary-search results keyed by normalized query.
// It must be purged whenever the memory set changes. Every purge starts a new
// generation; results computed under an older generation are never stored.
type ResultCache struct {
	cache *ristretto.Cache

	mu  sync.Mutex
	gen uint64
}

// NewResultCache creates a cache bounded to roughly maxEntries result sets.
func NewResultCache(maxEntries int64) (*ResultCache, error) {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ResultCache{cache: c}, nil
}

func cacheKey(query string, limit int) string {
	return strconv.Itoa(limit) + "|" + strings.ToLower(strings.TrimSpace(query))
}

type cachedResult struct {
	results  []Memory
	strategy Strategy
}

// Get returns a copy of the cached results for query.
func (c *ResultCache) Get(query string, limit int) ([]Memory, Strategy, bool) {
	if c == nil {
		return nil, "", false
	}
	v, ok := c.cache.Get(cacheKey(query, limit))
	if !ok {
		return nil, "", false
	}
	cached, ok := v.(cachedResult)
	if !ok {
		return nil, "", false
	}
	return append([]Memory(nil), cached.results...), cached.strategy, true
}

// Generation returns the current purge generation. Read it before querying
// the store and pass it to Set.
func (c *ResultCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set stores results for query unless the cache was purged since gen was
// read. Sets are applied asynchronously. It reports whether the set was
// accepted.
func (c *ResultCache) Set(query string, limit int, results []Memory, strategy Strategy, gen uint64) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	return c.cache.Set(cacheKey(query, limit), cachedResult{
		results:  append([]Memory(nil), results...),
		strategy: strategy,
	}, 1)
}

// Wait blocks until pending sets are visible.
func (c *ResultCache) Wait() {
	if c != nil {
		c.cache.Wait()
	}
}

// Purge drops every cached result, including sets still buffered, and
// starts a new generation.
func (c *ResultCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.Clear()
}

// Close stops the cache's background goroutines.
func (c *ResultCache) Close() {
	if c != nil {
		c.cache.Close()
	}
}
