package mux

import (
	"sync"
	"time"
)

// treeCache caches the session tree per runtime for a short TTL so that
// bursts of tree reads (orchestrator scrape, dashboard, reconciler) do not
// hammer remote hosts.
type treeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]treeEntry
	now     func() time.Time
}

type treeEntry struct {
	tree      []Session
	fetchedAt time.Time
}

func newTreeCache(ttl time.Duration) *treeCache {
	return &treeCache{
		ttl:     ttl,
		entries: make(map[string]treeEntry),
		now:     time.Now,
	}
}

func (c *treeCache) get(runtimeID string) ([]Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[runtimeID]
	if !ok || c.now().Sub(e.fetchedAt) > c.ttl {
		return nil, false
	}
	return e.tree, true
}

func (c *treeCache) put(runtimeID string, tree []Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[runtimeID] = treeEntry{tree: tree, fetchedAt: c.now()}
}

func (c *treeCache) invalidate(runtimeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, runtimeID)
}
