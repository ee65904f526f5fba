package detector

import "sync"

// ProfileCache holds loaded profiles keyed by user.
type ProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewProfileCache returns an empty cache.
func NewProfileCache() *ProfileCache {
	return &ProfileCache{profiles: make(map[string]*Profile)}
}

// Get returns the cached profile for userID.
func (c *ProfileCache) Get(userID string) (*Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[userID]
	return p, ok
}

// Put stores p under its user. Nil profiles are not cached.
func (c *ProfileCache) Put(p *Profile) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.profiles[p.UserID] = p
	c.mu.Unlock()
}

// Invalidate drops userID's profile.
func (c *ProfileCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.profiles, userID)
	c.mu.Unlock()
}

// InvalidateExcept drops every profile not owned by userID.
func (c *ProfileCache) InvalidateExcept(userID string) {
	c.mu.Lock()
	for u := range c.profiles {
		if u != userID {
			delete(c.profiles, u)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of cached profiles.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}
