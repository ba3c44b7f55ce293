// Package control holds operator-editable runtime settings.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"solana-hype-trader/internal/storage"
)

// Source names.
const (
	SourceBluesky    = "bluesky"
	SourceRSS        = "rss"
	SourceGoogleNews = "google_news"
	SourceMarket     = "dexscreener"
)

// State is the runtime control state.
type State struct {
	DryRun   bool            `json:"dry_run"`
	SizeSOL  float64         `json:"size_sol"`
	SizeUSDC float64         `json:"size_usdc"`
	Sources  map[string]bool `json:"sources"`
}

func (s State) clone() State {
	c := s
	c.Sources = make(map[string]bool, len(s.Sources))
	for k, v := range s.Sources {
		c.Sources[k] = v
	}
	return c
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	DryRun   *bool           `json:"dry_run,omitempty"`
	SizeSOL  *float64        `json:"size_sol,omitempty"`
	SizeUSDC *float64        `json:"size_usdc,omitempty"`
	Sources  map[string]bool `json:"sources,omitempty"`
}

// Control guards the runtime state and persists every change.
// Safe for concurrent use.
type Control struct {
	mu       sync.RWMutex
	state    State
	defaults State
	store    storage.StateStore
}

// New creates a Control starting from defaults.
func New(defaults State, store storage.StateStore) *Control {
	if defaults.Sources == nil {
		defaults.Sources = map[string]bool{}
	}
	return &Control{
		state:    defaults.clone(),
		defaults: defaults.clone(),
		store:    store,
	}
}

// Load merges persisted state over the defaults. Sources missing from the
// persisted state keep their default flag.
func (c *Control) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Load(ctx, storage.KeyControlState)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load control state: %w", err)
	}

	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal control state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.defaults.clone()
	apply(&st, p)
	c.state = st
	return nil
}

// State returns a copy of the current state.
func (c *Control) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// DryRun reports whether execution is simulated.
func (c *Control) DryRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.DryRun
}

// Sizes returns the entry sizes in SOL and USDC.
func (c *Control) Sizes() (sol, usdc float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.SizeSOL, c.state.SizeUSDC
}

// SourceEnabled reports whether the named source is enabled. Unknown sources are disabled.
func (c *Control) SourceEnabled(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Sources[name]
}

// Sources returns the sorted source names.
func (c *Control) Sources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.state.Sources))
	for k := range c.state.Sources {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Apply validates and applies a patch, then persists the result.
// The in-memory state is only changed when persisting succeeds.
func (c *Control) Apply(ctx context.Context, p Patch) (State, error) {
	if p.SizeSOL != nil && *p.SizeSOL <= 0 {
		return State{}, fmt.Errorf("%w: size_sol must be positive", storage.ErrInvalidInput)
	}
	if p.SizeUSDC != nil && *p.SizeUSDC <= 0 {
		return State{}, fmt.Errorf("%w: size_usdc must be positive", storage.ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.state.clone()
	apply(&next, p)
	if c.store != nil {
		data, err := json.Marshal(next)
		if err != nil {
			return State{}, fmt.Errorf("marshal control state: %w", err)
		}
		if err := c.store.Save(ctx, storage.KeyControlState, data); err != nil {
			return State{}, fmt.Errorf("save control state: %w", err)
		}
	}
	c.state = next
	return next.clone(), nil
}

func apply(st *State, p Patch) {
	if p.DryRun != nil {
		st.DryRun = *p.DryRun
	}
	if p.SizeSOL != nil {
		st.SizeSOL = *p.SizeSOL
	}
	if p.SizeUSDC != nil {
		st.SizeUSDC = *p.SizeUSDC
	}
	for k, v := range p.Sources {
		st.Sources[k] = v
	}
}
