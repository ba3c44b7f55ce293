// Package hype turns a stream of social events into a per-symbol attention score.
//
// Each symbol keeps a sliding window of events. Scoring computes four raw
// metrics over the window (mentions, distinct authors, reputation-weighted
// authors, follower-normalised engagement), z-scores each against that
// symbol's own rolling history, and only then pushes the raw value into the
// history.
package hype

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/storage"
)

// DefaultWindow is the default event window.
const DefaultWindow = 900 * time.Second

var redFlags = regexp.MustCompile(`(?i)\b(airdrop|giveaway|presale|100x|insider|signal)\b`)

// Score weights.
const (
	weightAuthors         = 0.35
	weightWeightedAuthors = 0.15
	weightEngagement      = 0.30
	redFlagPenalty        = 0.6
)

// Score is the hype score of a symbol with its raw inputs and z components.
type Score struct {
	Symbol          string
	Value           float64
	Mentions        int
	Authors         int
	WeightedAuthors float64
	Engagement      float64
	RedFlag         bool
	ZMentions       float64
	ZAuthors        float64
	ZWeighted       float64
	ZEngagement     float64
}

// Momentum is the sum of the mention, author and engagement z components.
func (s Score) Momentum() float64 {
	return s.ZMentions + s.ZAuthors + s.ZEngagement
}

type entry struct {
	At    time.Time
	Event *domain.SocialEvent
}

type symbolStats struct {
	mentions   *RollingStats
	authors    *RollingStats
	weighted   *RollingStats
	engagement *RollingStats
}

func newSymbolStats(size int) *symbolStats {
	return &symbolStats{
		mentions:   NewRollingStats(size),
		authors:    NewRollingStats(size),
		weighted:   NewRollingStats(size),
		engagement: NewRollingStats(size),
	}
}

// Options configures an Aggregator.
type Options struct {
	Window      time.Duration    // default DefaultWindow
	HistorySize int              // default DefaultHistorySize
	Authors     *AuthorBook      // default empty book
	Now         func() time.Time // default time.Now
}

// Aggregator maintains per-symbol event windows and rolling statistics.
// Safe for concurrent use.
type Aggregator struct {
	mu          sync.Mutex
	window      time.Duration
	historySize int
	events      map[string][]entry
	stats       map[string]*symbolStats
	authors     *AuthorBook
	now         func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts Options) *Aggregator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Authors == nil {
		opts.Authors = NewAuthorBook()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		window:      opts.Window,
		historySize: opts.HistorySize,
		events:      make(map[string][]entry),
		stats:       make(map[string]*symbolStats),
		authors:     opts.Authors,
		now:         opts.Now,
	}
}

// Authors returns the reputation book used for weighting.
func (a *Aggregator) Authors() *AuthorBook {
	return a.authors
}

// Update records ev under each of its symbols, stamped with the arrival time,
// and drops entries that fell out of the window.
func (a *Aggregator) Update(ev *domain.SocialEvent) {
	if ev == nil || len(ev.Symbols) == 0 {
		return
	}
	a.authors.Observe(ev)

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for _, sym := range ev.Symbols {
		a.events[sym] = append(a.events[sym], entry{At: now, Event: ev})
		a.trimLocked(sym, now)
	}
}

// Score computes the hype score of symbol over the current window and then
// records the raw metrics in the symbol's history.
func (a *Aggregator) Score(symbol string) Score {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.trimLocked(symbol, a.now())
	window := a.events[symbol]

	s := Score{Symbol: symbol, Mentions: len(window)}
	distinct := make(map[string]struct{})
	for _, e := range window {
		if h := e.Event.AuthorHandle; h != "" {
			distinct[h] = struct{}{}
		}
		s.WeightedAuthors += a.authors.Weight(e.Event.AuthorHandle)
		s.Engagement += float64(e.Event.Interactions()) / float64(max(1, e.Event.AuthorFollowers))
		if !s.RedFlag && redFlags.MatchString(e.Event.Text) {
			s.RedFlag = true
		}
	}
	s.Authors = len(distinct)

	st, ok := a.stats[symbol]
	if !ok {
		st = newSymbolStats(a.historySize)
		a.stats[symbol] = st
	}
	s.ZMentions = zThenPush(st.mentions, float64(s.Mentions))
	s.ZAuthors = zThenPush(st.authors, float64(s.Authors))
	s.ZWeighted = zThenPush(st.weighted, s.WeightedAuthors)
	s.ZEngagement = zThenPush(st.engagement, s.Engagement)

	s.Value = s.ZMentions + weightAuthors*s.ZAuthors + weightWeightedAuthors*s.ZWeighted + weightEngagement*s.ZEngagement
	if s.RedFlag {
		s.Value -= redFlagPenalty
	}
	return s
}

func zThenPush(r *RollingStats, x float64) float64 {
	z := r.Z(x)
	r.Push(x)
	return z
}

// Symbols returns the symbols with at least one event in the window, sorted.
func (a *Aggregator) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	var out []string
	for sym := range a.events {
		a.trimLocked(sym, now)
		if len(a.events[sym]) > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Ranked returns the symbols with events in the window, most mentioned first.
// Ties are broken by symbol. Unlike Score it records nothing in the history.
func (a *Aggregator) Ranked() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	counts := make(map[string]int, len(a.events))
	out := make([]string, 0, len(a.events))
	for sym := range a.events {
		a.trimLocked(sym, now)
		if n := len(a.events[sym]); n > 0 {
			counts[sym] = n
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

// Trim drops expired entries for every symbol and forgets empty windows.
// Rolling histories are kept.
func (a *Aggregator) Trim() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for sym := range a.events {
		a.trimLocked(sym, now)
	}
}

func (a *Aggregator) trimLocked(symbol string, now time.Time) {
	list := a.events[symbol]
	cut := 0
	for cut < len(list) && now.Sub(list[cut].At) > a.window {
		cut++
	}
	switch {
	case cut == len(list):
		delete(a.events, symbol)
	case cut > 0:
		a.events[symbol] = append([]entry(nil), list[cut:]...)
	}
}

type snapshot struct {
	SavedAt time.Time                  `json:"saved_at"`
	Events  map[string][]snapshotEntry `json:"events"`
	Stats   map[string]snapshotStats   `json:"stats"`
	Authors map[string]AuthorStats     `json:"authors,omitempty"`
}

type snapshotEntry struct {
	At    time.Time          `json:"at"`
	Event domain.SocialEvent `json:"event"`
}

type snapshotStats struct {
	Mentions   []float64 `json:"mentions"`
	Authors    []float64 `json:"authors"`
	Weighted   []float64 `json:"weighted"`
	Engagement []float64 `json:"engagement"`
}

// Snapshot serialises the windows, the rolling histories and the author book.
func (a *Aggregator) Snapshot() ([]byte, error) {
	a.mu.Lock()
	snap := snapshot{
		SavedAt: a.now().UTC(),
		Events:  make(map[string][]snapshotEntry, len(a.events)),
		Stats:   make(map[string]snapshotStats, len(a.stats)),
		Authors: a.authors.entries(),
	}
	for sym, list := range a.events {
		out := make([]snapshotEntry, len(list))
		for i, e := range list {
			out[i] = snapshotEntry{At: e.At, Event: *e.Event}
		}
		snap.Events[sym] = out
	}
	for sym, st := range a.stats {
		snap.Stats[sym] = snapshotStats{
			Mentions:   st.mentions.Values(),
			Authors:    st.authors.Values(),
			Weighted:   st.weighted.Values(),
			Engagement: st.engagement.Values(),
		}
	}
	a.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal hype snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the aggregator state with a snapshot. Events outside the
// window relative to the restore time are discarded. The new state is built
// off-lock and swapped in at once.
func (a *Aggregator) Restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal hype snapshot: %w", err)
	}

	now := a.now()
	events := make(map[string][]entry, len(snap.Events))
	for sym, list := range snap.Events {
		var kept []entry
		for _, e := range list {
			if now.Sub(e.At) > a.window {
				continue
			}
			ev := e.Event
			kept = append(kept, entry{At: e.At, Event: &ev})
		}
		if len(kept) > 0 {
			sort.SliceStable(kept, func(i, j int) bool { return kept[i].At.Before(kept[j].At) })
			events[sym] = kept
		}
	}

	stats := make(map[string]*symbolStats, len(snap.Stats))
	for sym, s := range snap.Stats {
		st := newSymbolStats(a.historySize)
		for _, pair := range []struct {
			dst *RollingStats
			src []float64
		}{
			{st.mentions, s.Mentions},
			{st.authors, s.Authors},
			{st.weighted, s.Weighted},
			{st.engagement, s.Engagement},
		} {
			for _, v := range pair.src {
				pair.dst.Push(v)
			}
		}
		stats[sym] = st
	}

	a.mu.Lock()
	a.events = events
	a.stats = stats
	a.mu.Unlock()
	if snap.Authors != nil {
		a.authors.replace(snap.Authors)
	}
	return nil
}

// SaveState persists the snapshot, author book included, under one key.
func (a *Aggregator) SaveState(ctx context.Context, store storage.StateStore) error {
	data, err := a.Snapshot()
	if err != nil {
		return err
	}
	if err := store.Save(ctx, storage.KeyHypeState, data); err != nil {
		return fmt.Errorf("save hype state: %w", err)
	}
	return nil
}

// LoadState restores the snapshot. A missing key is not an error.
func (a *Aggregator) LoadState(ctx context.Context, store storage.StateStore) error {
	data, err := store.Load(ctx, storage.KeyHypeState)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load hype state: %w", err)
	}
	return a.Restore(data)
}
