package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ytget/yt-queue/internal/model"
	"github.com/ytget/yt-queue/internal/platform"
	"github.com/ytget/yt-queue/internal/store"
)

// Cache defaults
const (
	DefaultDuplicateCacheSize = 256
	DefaultDuplicateCacheTTL  = 10 * time.Minute
)

// DuplicateIndex answers "was this URL already downloaded" from the history
// ledger. Only completed entries count. Results, including misses, are
// cached per normalized URL.
type DuplicateIndex struct {
	store store.Store
	cache *expirable.LRU[string, *model.HistoryEntry]

	// gen changes on every write to the cache. A lookup only caches what it
	// read if no write happened while it was reading.
	mu  sync.Mutex
	gen uint64
}

// NewDuplicateIndex creates an index over the history stored in st
func NewDuplicateIndex(st store.Store, size int, ttl time.Duration) *DuplicateIndex {
	if size <= 0 {
		size = DefaultDuplicateCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultDuplicateCacheTTL
	}
	return &DuplicateIndex{
		store: st,
		cache: expirable.NewLRU[string, *model.HistoryEntry](size, nil, ttl),
	}
}

// Lookup returns the most recent completed entry for url, or nil
func (d *DuplicateIndex) Lookup(ctx context.Context, url string) (*model.HistoryEntry, error) {
	key := platform.NormalizeURL(url)
	if key == "" {
		return nil, nil
	}

	if entry, ok := d.cache.Get(key); ok {
		duplicateCacheHits.Inc()
		return cloneEntry(entry), nil
	}
	duplicateCacheMisses.Inc()

	d.mu.Lock()
	gen := d.gen
	d.mu.Unlock()

	var found *model.HistoryEntry
	err := d.store.View(ctx, func(tx store.Tx) error {
		entries, err := tx.ListHistory(model.HistoryQuery{
			URLKey: key,
			Status: model.StatusCompleted,
			Limit:  1,
		})
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			found = entries[0]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up history: %w", err)
	}

	d.mu.Lock()
	if d.gen == gen {
		d.cache.Add(key, found)
	}
	d.mu.Unlock()
	return cloneEntry(found), nil
}

// Remember records a freshly appended entry
func (d *DuplicateIndex) Remember(entry *model.HistoryEntry) {
	if entry == nil || entry.Status != model.StatusCompleted || entry.URLKey == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.cache.Add(entry.URLKey, cloneEntry(entry))
}

// Forget drops the cached answer for a normalized URL
func (d *DuplicateIndex) Forget(urlKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.cache.Remove(urlKey)
}

// Reset drops every cached answer
func (d *DuplicateIndex) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.cache.Purge()
}

func cloneEntry(e *model.HistoryEntry) *model.HistoryEntry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
