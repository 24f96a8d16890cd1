package dashboard

import "github.com/smileynet/plantree/internal/plan"

// Cache stores previewed plan records keyed by plan id.
// It is not safe for concurrent use; callers must synchronize externally
// or confine access to a single goroutine (e.g., the Bubble Tea update loop).
type Cache struct {
	entries map[int]plan.Record
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[int]plan.Record)}
}

// Get returns the cached record for the given id.
func (c *Cache) Get(id int) (plan.Record, bool) {
	r, ok := c.entries[id]
	return r, ok
}

// Set stores a record, replacing any existing entry.
func (c *Cache) Set(r plan.Record) {
	c.entries[r.ID] = r
}

// Missing returns the ids that have no cached record, in input order.
func (c *Cache) Missing(ids []int) []int {
	var out []int
	for _, id := range ids {
		if _, ok := c.entries[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Invalidate clears all cached entries. Called after every edit, since any
// confirmed update may change a cached parent.
func (c *Cache) Invalidate() {
	c.entries = make(map[int]plan.Record)
}
