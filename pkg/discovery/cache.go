package discovery

import (
	"strings"
	"sync"
	"time"
)

// mappingCache is the process-wide agent_id -> AgentCapabilities store with
// a single TTL applied to the whole cache (the set is refreshed as a unit on
// each discovery round, never per-entry).
type mappingCache struct {
	mu            sync.RWMutex
	entries       map[string]cacheEntry
	lastDiscovery time.Time
	ttl           time.Duration
}

func newMappingCache(ttl time.Duration) *mappingCache {
	return &mappingCache{entries: make(map[string]cacheEntry), ttl: ttl}
}

// fresh reports whether the cache is still within its TTL window relative
// to now.
func (c *mappingCache) fresh(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastDiscovery.IsZero() {
		return false
	}
	return now.Sub(c.lastDiscovery) < c.ttl
}

// snapshot returns a copy of every cached capability.
func (c *mappingCache) snapshot() []AgentCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AgentCapabilities, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.cap)
	}
	return out
}

// replace atomically swaps the entire cache contents and stamps
// lastDiscovery, merging by agent_id (later entries in caps win duplicates).
func (c *mappingCache) replace(caps []AgentCapabilities, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry, len(caps))
	for _, ac := range caps {
		c.entries[ac.AgentID] = cacheEntry{cap: ac, cachedAt: now}
	}
	c.lastDiscovery = now
}

// get performs a case-insensitive lookup by agent id.
func (c *mappingCache) get(id string) (AgentCapabilities, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[id]; ok {
		return e.cap, true
	}
	for _, e := range c.entries {
		if strings.EqualFold(e.cap.AgentID, id) {
			return e.cap, true
		}
	}
	return AgentCapabilities{}, false
}

// withCapability returns every cached agent advertising cap.
func (c *mappingCache) withCapability(capName string) []AgentCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []AgentCapabilities
	for _, e := range c.entries {
		if e.cap.HasCapability(capName) {
			out = append(out, e.cap)
		}
	}
	return out
}

// forWorkspace returns every cached agent whose workspace matches path.
func (c *mappingCache) forWorkspace(path string) []AgentCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []AgentCapabilities
	for _, e := range c.entries {
		if e.cap.ServesWorkspace(path) {
			out = append(out, e.cap)
		}
	}
	return out
}

// markStale evicts a single entry, used when a dispatch attempt discovers an
// agent is no longer reachable.
func (c *mappingCache) markStale(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// invalidate clears the entire cache, forcing the next discover() call to
// run a fresh round regardless of TTL.
func (c *mappingCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.lastDiscovery = time.Time{}
}
