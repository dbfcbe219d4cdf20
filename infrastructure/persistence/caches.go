package persistence

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// QcodeCache maps Q-codes to every title known to resolve to them, plus a
// derived title→Q-code reverse index kept in memory. The index has its own
// lock because lookups and inserts arrive from concurrent workers.
type QcodeCache struct {
	store *Store[[]string]

	mu      sync.RWMutex
	reverse map[string]string
}

// OpenQcodeCache loads the cache and builds the reverse index.
func OpenQcodeCache(path string, logger *zap.Logger) (*QcodeCache, error) {
	store, err := Open[[]string](path, logger)
	if err != nil {
		return nil, err
	}
	c := &QcodeCache{store: store, reverse: make(map[string]string)}
	store.Range(func(qcode string, titles []string) bool {
		for _, t := range titles {
			c.reverse[t] = qcode
		}
		return true
	})
	return c, nil
}

// QcodeForTitle resolves a cached title to its Q-code.
func (c *QcodeCache) QcodeForTitle(title string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.reverse[title]
	return q, ok
}

// Titles returns the cached titles for a Q-code.
func (c *QcodeCache) Titles(qcode string) []string {
	titles, _ := c.store.Get(qcode)
	return titles
}

// AddTitles records titles for a Q-code, keeping the stored list sorted and
// deduplicated.
func (c *QcodeCache) AddTitles(qcode string, titles ...string) {
	existing, _ := c.store.Get(qcode)
	set := make(map[string]struct{}, len(existing)+len(titles))
	for _, t := range existing {
		set[t] = struct{}{}
	}
	changed := false
	c.mu.Lock()
	for _, t := range titles {
		if t == "" {
			continue
		}
		if _, ok := set[t]; !ok {
			set[t] = struct{}{}
			changed = true
		}
		c.reverse[t] = qcode
	}
	c.mu.Unlock()
	if !changed {
		return
	}
	merged := make([]string, 0, len(set))
	for t := range set {
		merged = append(merged, t)
	}
	sort.Strings(merged)
	c.store.Put(qcode, merged)
}

// Save persists the cache if dirty.
func (c *QcodeCache) Save() error { return c.store.Save() }

// LinkStatusEntry is one cached link classification. Detail carries the
// redirect target when the status is a redirect kind.
type LinkStatusEntry struct {
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LinkStatusCache caches title → link status. Terminal failures (NO_PAGE,
// ERROR) are never stored so they get re-probed next run.
type LinkStatusCache struct {
	store *Store[LinkStatusEntry]
}

// OpenLinkStatusCache loads the link-status cache.
func OpenLinkStatusCache(path string, logger *zap.Logger) (*LinkStatusCache, error) {
	store, err := Open[LinkStatusEntry](path, logger)
	if err != nil {
		return nil, err
	}
	return &LinkStatusCache{store: store}, nil
}

// Get returns the cached entry for a title.
func (c *LinkStatusCache) Get(title string) (LinkStatusEntry, bool) {
	return c.store.Get(title)
}

// Put stores an entry stamped with the current time.
func (c *LinkStatusCache) Put(title, status, detail string) {
	c.store.Put(title, LinkStatusEntry{Status: status, Detail: detail, Timestamp: time.Now()})
}

// PruneFallbackEntries drops BAIDU/CDT entries older than maxAge so the
// fallback sources get re-probed periodically. Returns the number removed.
func (c *LinkStatusCache) PruneFallbackEntries(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var stale []string
	c.store.Range(func(title string, e LinkStatusEntry) bool {
		if (e.Status == "BAIDU" || e.Status == "CDT") && e.Timestamp.Before(cutoff) {
			stale = append(stale, title)
		}
		return true
	})
	for _, title := range stale {
		c.store.Delete(title)
	}
	return len(stale)
}

// Save persists the cache if dirty.
func (c *LinkStatusCache) Save() error { return c.store.Save() }

// PageviewStats is one title's traffic summary from the pageviews API.
type PageviewStats struct {
	TotalViews     int64     `json:"total_views"`
	AvgDailyViews  float64   `json:"avg_daily_views"`
	CheckTimestamp time.Time `json:"check_timestamp"`
	Error          string    `json:"error,omitempty"`
}

// PageviewsCache caches title → pageview stats.
type PageviewsCache struct {
	store *Store[PageviewStats]
}

// OpenPageviewsCache loads the pageviews cache.
func OpenPageviewsCache(path string, logger *zap.Logger) (*PageviewsCache, error) {
	store, err := Open[PageviewStats](path, logger)
	if err != nil {
		return nil, err
	}
	return &PageviewsCache{store: store}, nil
}

// Get returns the cached stats for a title.
func (c *PageviewsCache) Get(title string) (PageviewStats, bool) {
	return c.store.Get(title)
}

// Put stores stats for a title.
func (c *PageviewsCache) Put(title string, stats PageviewStats) {
	c.store.Put(title, stats)
}

// Len reports the number of cached titles.
func (c *PageviewsCache) Len() int { return c.store.Len() }

// AvgDailyViews returns the cached average, 0 when absent.
func (c *PageviewsCache) AvgDailyViews(title string) float64 {
	stats, ok := c.store.Get(title)
	if !ok {
		return 0
	}
	return stats.AvgDailyViews
}

// Save persists the cache if dirty.
func (c *PageviewsCache) Save() error { return c.store.Save() }

// CreationDateCache caches title → article creation timestamp.
type CreationDateCache struct {
	store *Store[time.Time]
}

// OpenCreationDateCache loads the creation-date cache.
func OpenCreationDateCache(path string, logger *zap.Logger) (*CreationDateCache, error) {
	store, err := Open[time.Time](path, logger)
	if err != nil {
		return nil, err
	}
	return &CreationDateCache{store: store}, nil
}

// Get returns the cached creation date for a title.
func (c *CreationDateCache) Get(title string) (time.Time, bool) {
	return c.store.Get(title)
}

// Put stores a creation date.
func (c *CreationDateCache) Put(title string, t time.Time) {
	c.store.Put(title, t)
}

// Save persists the cache if dirty.
func (c *CreationDateCache) Save() error { return c.store.Save() }

// FalseRelationEntry records when a relationship last survived the audit.
type FalseRelationEntry struct {
	Timestamp time.Time `json:"timestamp"`
}

// FalseRelationsCache caches canonical relationship keys that the audit
// confirmed as genuine, so they are not re-checked every run.
type FalseRelationsCache struct {
	store *Store[FalseRelationEntry]
}

// OpenFalseRelationsCache loads the false-relations cache.
func OpenFalseRelationsCache(path string, logger *zap.Logger) (*FalseRelationsCache, error) {
	store, err := Open[FalseRelationEntry](path, logger)
	if err != nil {
		return nil, err
	}
	return &FalseRelationsCache{store: store}, nil
}

// LastConfirmed returns when the keyed relationship last passed the audit.
func (c *FalseRelationsCache) LastConfirmed(key string) (time.Time, bool) {
	e, ok := c.store.Get(key)
	return e.Timestamp, ok
}

// Confirm stamps the keyed relationship as audited now.
func (c *FalseRelationsCache) Confirm(key string) {
	c.store.Put(key, FalseRelationEntry{Timestamp: time.Now()})
}

// Forget drops the entry, typically when the relationship was deleted.
func (c *FalseRelationsCache) Forget(key string) {
	c.store.Delete(key)
}

// Save persists the cache if dirty.
func (c *FalseRelationsCache) Save() error { return c.store.Save() }
