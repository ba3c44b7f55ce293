package feeds

import (
	"sort"
	"strings"
	"sync"
	"time"

	"solana-hype-trader/internal/domain"
)

// Defaults for NewsCache.
const (
	DefaultNewsMaxAge    = 6 * time.Hour
	DefaultNewsPerSymbol = 50
)

// NewsCacheOptions configures a NewsCache.
type NewsCacheOptions struct {
	MaxAge    time.Duration // default DefaultNewsMaxAge
	PerSymbol int           // default DefaultNewsPerSymbol
	Now       func() time.Time
}

// NewsCache keeps recent news items per symbol, newest first, deduplicated by URL.
type NewsCache struct {
	mu        sync.RWMutex
	items     map[string][]domain.NewsItem
	maxAge    time.Duration
	perSymbol int
	now       func() time.Time
}

// NewNewsCache creates an empty cache.
func NewNewsCache(opts NewsCacheOptions) *NewsCache {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultNewsMaxAge
	}
	if opts.PerSymbol <= 0 {
		opts.PerSymbol = DefaultNewsPerSymbol
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &NewsCache{
		items:     make(map[string][]domain.NewsItem),
		maxAge:    opts.MaxAge,
		perSymbol: opts.PerSymbol,
		now:       opts.Now,
	}
}

// Add files the item under each of its symbols.
func (c *NewsCache) Add(item domain.NewsItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sym := range item.Symbols {
		key := strings.ToUpper(sym)
		list := c.items[key]
		dup := false
		for _, have := range list {
			if item.URL != "" && have.URL == item.URL {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		list = append(list, item)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].PublishedAt.After(list[j].PublishedAt)
		})
		if len(list) > c.perSymbol {
			list = list[:c.perSymbol]
		}
		c.items[key] = list
	}
}

// Get returns up to limit items for the symbol, newest first. limit <= 0 means all.
func (c *NewsCache) Get(symbol string, limit int) []domain.NewsItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.items[strings.ToUpper(symbol)]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return append([]domain.NewsItem(nil), list...)
}

// Trim drops items older than the max age. Returns the number dropped.
func (c *NewsCache) Trim() int {
	cutoff := c.now().Add(-c.maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, list := range c.items {
		kept := list[:0]
		for _, it := range list {
			if it.PublishedAt.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, it)
		}
		if len(kept) == 0 {
			delete(c.items, key)
			continue
		}
		c.items[key] = kept
	}
	return dropped
}
