package cache

import (
	"sync"

	"github.com/raine/sherlockcombs/internal/shopping"
)

// Entry is what the overlay needs to show results for an image again.
type Entry struct {
	Results []shopping.Result
	Style   string // Top style label from the analysis, "" when absent
}

// ResultCache maps a source image URL to its shopping results for the
// lifetime of a session. There is no eviction: the working set is the images
// one user inspects on one page.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty cache.
func New() *ResultCache {
	return &ResultCache{entries: make(map[string]Entry)}
}

// Get returns the entry stored for the exact URL.
func (c *ResultCache) Get(url string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	return entry, ok
}

// Put stores an entry for the URL, replacing any previous one.
func (c *ResultCache) Put(url string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[url] = entry
}

// Len returns the number of cached URLs.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Clear removes all entries.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
}
