// Package cache keeps the most recent ODP delta token per entity set so a
// long-running extractor can resume without the caller threading tokens through.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DeltaTokenEntry holds a cached delta token with the time it was last stored or read.
type DeltaTokenEntry struct {
	Token     string
	Timestamp time.Time
}

const (
	// DefaultDeltaTokenTTL matches the default ODP subscription retention of SAP Gateway.
	DefaultDeltaTokenTTL = 24 * time.Hour

	// deltaKeyHashLen is the length of the hash key (16 hex chars = 64-bit key space)
	deltaKeyHashLen = 16

	// cleanupInterval controls how often stale entries are purged
	cleanupInterval = 10 * time.Minute
)

// DeltaTokenCache maps entity-set URLs to their latest delta token with
// sliding expiration. It is safe for concurrent use.
type DeltaTokenCache struct {
	mu          sync.Mutex
	ttl         time.Duration
	entries     map[string]DeltaTokenEntry
	lastCleanup time.Time
	now         func() time.Time
}

// NewDeltaTokenCache creates a cache. A ttl <= 0 uses DefaultDeltaTokenTTL.
func NewDeltaTokenCache(ttl time.Duration) *DeltaTokenCache {
	if ttl <= 0 {
		ttl = DefaultDeltaTokenTTL
	}
	return &DeltaTokenCache{
		ttl:     ttl,
		entries: make(map[string]DeltaTokenEntry),
		now:     time.Now,
	}
}

// entityKey creates a stable key from the entity-set URL, ignoring its query
// string, fragment, a trailing slash and the case of scheme and host.
func entityKey(entityURL string) string {
	base := strings.TrimSpace(entityURL)
	if idx := strings.IndexAny(base, "?#"); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimRight(base, "/")
	if parsed, err := url.Parse(base); err == nil && parsed.Host != "" {
		parsed.Scheme = strings.ToLower(parsed.Scheme)
		parsed.Host = strings.ToLower(parsed.Host)
		base = parsed.String()
	}
	h := sha256.Sum256([]byte(base))
	return hex.EncodeToString(h[:])[:deltaKeyHashLen]
}

// Store records token as the latest delta token for entityURL. Empty inputs are ignored.
func (c *DeltaTokenCache) Store(entityURL, token string) {
	if entityURL == "" || token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeExpiredLocked(now)
	c.entries[entityKey(entityURL)] = DeltaTokenEntry{Token: token, Timestamp: now}
}

// Get returns the cached token for entityURL, or "" when absent or expired.
// A hit refreshes the entry's expiration.
func (c *DeltaTokenCache) Get(entityURL string) string {
	if entityURL == "" {
		return ""
	}
	key := entityKey(entityURL)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return ""
	}
	now := c.now()
	if now.Sub(entry.Timestamp) > c.ttl {
		delete(c.entries, key)
		return ""
	}

	// Refresh TTL on access (sliding expiration).
	entry.Timestamp = now
	c.entries[key] = entry
	return entry.Token
}

// Delete removes the token for entityURL, e.g. after its subscription was terminated.
func (c *DeltaTokenCache) Delete(entityURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, entityKey(entityURL))
}

// Clear removes every entry.
func (c *DeltaTokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]DeltaTokenEntry)
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *DeltaTokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DeltaTokenCache) purgeExpiredLocked(now time.Time) {
	if now.Sub(c.lastCleanup) < cleanupInterval {
		return
	}
	c.lastCleanup = now
	for k, entry := range c.entries {
		if now.Sub(entry.Timestamp) > c.ttl {
			delete(c.entries, k)
		}
	}
}
