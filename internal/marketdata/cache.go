package marketdata

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// Cache keeps the last quote per symbol with a TTL, plus a bounded history of
// recent quotes for introspection. Expiry policy lives here so it is testable
// apart from fetch logic.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	historyCap int
	now        func() time.Time
}

type cacheEntry struct {
	quote     *Quote
	expiresAt time.Time
	history   *deque.Deque[*Quote]
}

func NewCache(ttl time.Duration, historyCap int) *Cache {
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		historyCap: historyCap,
		now:        time.Now,
	}
}

// SetNowFunc overrides the cache time source, used by tests
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.now = now
}

// Get returns the cached quote unless the entry has expired
func (c *Cache) Get(symbol string) (*Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.quote, true
}

// Set stores the quote with the default TTL
func (c *Cache) Set(symbol string, quote *Quote) {
	c.SetWithTTL(symbol, quote, c.ttl)
}

func (c *Cache) SetWithTTL(symbol string, quote *Quote, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[symbol]
	if !ok {
		entry = &cacheEntry{history: &deque.Deque[*Quote]{}}
		c.entries[symbol] = entry
	}

	entry.quote = quote
	entry.expiresAt = c.now().Add(ttl)

	entry.history.PushBack(quote)
	for entry.history.Len() > c.historyCap {
		entry.history.PopFront()
	}
}

// Evict drops the entry and its history
func (c *Cache) Evict(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, symbol)
}

// History returns the retained quotes, oldest first
func (c *Cache) History(symbol string) []*Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok {
		return nil
	}
	quotes := make([]*Quote, 0, entry.history.Len())
	for i := 0; i < entry.history.Len(); i++ {
		quotes = append(quotes, entry.history.At(i))
	}
	return quotes
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
