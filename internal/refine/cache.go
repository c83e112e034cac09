package refine

import (
	"strings"
	"time"

	"focuslens/internal/activity"
)

const (
	maxKeyApp   = 64
	maxKeyTitle = 160
)

// Key normalizes an (app, title) pair: lowercased, whitespace collapsed and
// each half truncated.
func Key(app, title string) string {
	return normalize(app, maxKeyApp) + "\n" + normalize(title, maxKeyTitle)
}

func normalize(s string, maxLen int) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if r := []rune(s); len(r) > maxLen {
		s = string(r[:maxLen])
	}
	return s
}

// CacheEntry is one refined classification.
type CacheEntry struct {
	Category   activity.Category
	Confidence float64
	Reason     string
	Timestamp  time.Time
}

// Cache is a TTL and size bounded map of refined classifications. It is not
// safe for concurrent use; Pipeline guards it with its own mutex.
type Cache struct {
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]CacheEntry
}

// NewCache creates a cache holding at most max entries for ttl each.
func NewCache(ttl time.Duration, max int, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, max: max, now: now, entries: make(map[string]CacheEntry)}
}

// Get returns the live entry for key. Expired entries are dropped.
func (c *Cache) Get(key string) (CacheEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return CacheEntry{}, false
	}
	if c.now().Sub(e.Timestamp) > c.ttl {
		delete(c.entries, key)
		return CacheEntry{}, false
	}
	return e, true
}

// Put stores e under key, stamping it with the current time when unset, and
// evicts the oldest entries while over capacity.
func (c *Cache) Put(key string, e CacheEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}
	c.entries[key] = e
	for len(c.entries) > c.max {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.Timestamp.Before(oldest) || (e.Timestamp.Equal(oldest) && k < oldestKey) {
			oldestKey, oldest, first = k, e.Timestamp, false
		}
	}
	delete(c.entries, oldestKey)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int { return len(c.entries) }
