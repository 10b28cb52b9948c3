package cache

import (
	"strings"
	"sync"
	"time"
)

// ResponseCache memoizes final replies for identical turns from the same
// user. Instances are injected where needed, so tests and multi-tenant
// setups control their own cache lifetime instead of sharing process state.
type ResponseCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cachedReply
}

type cachedReply struct {
	message   string
	expiresAt time.Time
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResponseCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedReply),
	}
}

func (c *ResponseCache) Get(userID, message string) (string, bool) {
	key := cacheKey(userID, message)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.message, true
}

func (c *ResponseCache) Put(userID, message, reply string) {
	key := cacheKey(userID, message)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedReply{
		message:   reply,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Reset drops all cached replies. Callers invoke it when underlying data
// changes in a way that invalidates earlier answers.
func (c *ResponseCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cachedReply)
}

func cacheKey(userID, message string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(message)), " ")
	return userID + "\x00" + normalized
}
