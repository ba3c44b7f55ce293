// Package feeds holds the latest market snapshots and recent news per symbol.
package feeds

import (
	"sort"
	"strings"
	"sync"

	"solana-hype-trader/internal/domain"
)

// MarketCache keeps the most recent snapshot per symbol.
type MarketCache struct {
	mu    sync.RWMutex
	items map[string]*domain.MarketSnapshot // keyed by upper-cased symbol
}

// NewMarketCache creates an empty cache.
func NewMarketCache() *MarketCache {
	return &MarketCache{items: make(map[string]*domain.MarketSnapshot)}
}

// Put replaces the snapshot for the symbol. Older snapshots than the one
// already stored are ignored.
func (c *MarketCache) Put(m *domain.MarketSnapshot) {
	if m == nil || m.Symbol == "" {
		return
	}
	key := strings.ToUpper(m.Symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.items[key]; ok && m.UpdatedAt.Before(cur.UpdatedAt) {
		return
	}
	copy := *m
	c.items[key] = &copy
}

// Get returns a copy of the snapshot for the symbol, or nil.
func (c *MarketCache) Get(symbol string) *domain.MarketSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.items[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	copy := *m
	return &copy
}

// ByContract returns the snapshot whose contract matches, or nil.
func (c *MarketCache) ByContract(contract string) *domain.MarketSnapshot {
	if contract == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.items {
		if m.Contract == contract {
			copy := *m
			return &copy
		}
	}
	return nil
}

// Symbols returns the cached symbols in sorted order.
func (c *MarketCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.items))
	for k := range c.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of cached symbols.
func (c *MarketCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
