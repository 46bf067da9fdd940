package archive

import (
	"sync"
	"sync/atomic"
)

// contentCache is the in-memory content cache keyed by storage path.
//
// There is no eviction: archived content is immutable once committed,
// so entries never go stale while the process runs. The only
// invalidation need is memory pressure, served by Clear. A race between
// two fetchers of the same path produces at worst a redundant identical
// write.
type contentCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
	hits    atomic.Int64
	misses  atomic.Int64
}

func newContentCache() *contentCache {
	return &contentCache{entries: make(map[string][]byte)}
}

func (c *contentCache) get(path string) ([]byte, bool) {
	c.mu.RLock()
	data, ok := c.entries[path]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return data, ok
}

func (c *contentCache) set(path string, data []byte) {
	c.mu.Lock()
	c.entries[path] = data
	c.mu.Unlock()
}

func (c *contentCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string][]byte)
	c.mu.Unlock()
}

// hitRate returns hits/(hits+misses), 0 before any lookup.
func (c *contentCache) hitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}
