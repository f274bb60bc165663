package peer

import (
	"sync"
	"time"

	"flock/internal/model"
)

// contact is one entry in the ContactCache: the endpoint a username
// last reached us from or resolved to, and when we last heard it.
type contact struct {
	endpoint model.Endpoint
	lastSeen time.Time
}

// ContactCache remembers the (ip, port) a username was last known to
// answer on, learned either from a RESOLVE reply or from an inbound
// MESSAGE's sender address, so repeat sends to the same recipient
// skip the directory round trip.
type ContactCache struct {
	mu       sync.RWMutex
	contacts map[string]contact
}

// NewContactCache builds an empty cache.
func NewContactCache() *ContactCache {
	return &ContactCache{contacts: make(map[string]contact)}
}

// Lookup returns the cached endpoint for username, if any.
func (c *ContactCache) Lookup(username string) (model.Endpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.contacts[username]
	return ct.endpoint, ok
}

// Update records or refreshes username's endpoint.
func (c *ContactCache) Update(username string, ep model.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contacts[username] = contact{endpoint: ep, lastSeen: time.Now()}
}

// LastSeen returns when username was last recorded, if known.
func (c *ContactCache) LastSeen(username string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.contacts[username]
	return ct.lastSeen, ok
}
