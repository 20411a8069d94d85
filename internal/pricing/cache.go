package pricing

import (
	"sync"
	"time"
)

// Cache holds recent quotes for mark-to-market reads. It is an explicit,
// injected component: the process lifetime is the cache lifetime, and real
// executions never read from it.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	quote    Quote
	storedAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		return Quote{}, false
	}
	return e.quote, true
}

func (c *Cache) Set(q Quote) {
	c.mu.Lock()
	c.entries[q.Symbol] = cacheEntry{quote: q, storedAt: c.now()}
	c.mu.Unlock()
}

func (c *Cache) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
}
