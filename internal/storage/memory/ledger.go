package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/storage"
)

// Ledger is an in-memory implementation of storage.Ledger.
type Ledger struct {
	mu        sync.RWMutex
	positions map[int64]*domain.Position
	exits     map[int64][]*domain.ExitRecord // keyed by position id
	nextID    int64
	nextExit  int64
	now       func() time.Time
}

// NewLedger creates a new in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[int64]*domain.Position),
		exits:     make(map[int64][]*domain.ExitRecord),
		now:       time.Now,
	}
}

// Compile-time interface check.
var _ storage.Ledger = (*Ledger)(nil)

// OpenOrAdd adds a fill to the open position for the contract, creating one if needed.
func (l *Ledger) OpenOrAdd(_ context.Context, req domain.OpenRequest) (int64, error) {
	if req.Contract == "" || req.Quantity <= 0 || req.Cost < 0 {
		return 0, storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.positions {
		if p.Contract == req.Contract && p.IsOpen() {
			p.Quantity += req.Quantity
			p.Invested += req.Cost
			p.AvgEntry = p.Invested / p.Quantity
			p.Meta.KillSwitch = mergeTags(p.Meta.KillSwitch, req.KillSwitch)
			return p.ID, nil
		}
	}

	l.nextID++
	p := &domain.Position{
		ID:          l.nextID,
		Symbol:      req.Symbol,
		Contract:    req.Contract,
		Quantity:    req.Quantity,
		Invested:    req.Cost,
		AvgEntry:    req.Cost / req.Quantity,
		OpenedAt:    l.now().UTC(),
		MaxHoldSec:  req.MaxHoldSec,
		Decimals:    req.Decimals,
		EntryTxnsH1: req.EntryTxnsH1,
		Owner:       req.Owner,
		Meta:        domain.PositionMeta{KillSwitch: append([]string(nil), req.KillSwitch...)},
		State:       domain.PositionOpen,
	}
	l.positions[p.ID] = p.Clone()
	return p.ID, nil
}

// ListOpen retrieves all open positions, ordered by id ASC.
func (l *Ledger) ListOpen(_ context.Context) ([]*domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*domain.Position
	for _, p := range l.positions {
		if p.IsOpen() {
			result = append(result, p.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Get retrieves a position by id. Returns ErrNotFound if not exists.
func (l *Ledger) Get(_ context.Context, id int64) (*domain.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.positions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// Reduce sells from a position and appends the exit record.
func (l *Ledger) Reduce(_ context.Context, exit *domain.ExitRecord) error {
	if exit == nil || exit.QtySold < 0 {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[exit.PositionID]
	if !ok {
		return storage.ErrNotFound
	}
	if !p.IsOpen() || p.Quantity <= 0 {
		return nil
	}

	sold := min(p.Quantity, exit.QtySold)
	fraction := sold / p.Quantity
	p.Invested -= p.Invested * fraction
	p.Quantity -= sold
	if p.Quantity <= domain.PositionEpsilon {
		p.Quantity = 0
		p.Invested = 0
		p.AvgEntry = 0
		p.State = domain.PositionClosed
	}
	if p.Invested < 0 {
		p.Invested = 0
	}

	rec := *exit
	l.nextExit++
	rec.ID = l.nextExit
	rec.QtySold = sold
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	l.exits[p.ID] = append(l.exits[p.ID], &rec)
	return nil
}

// MarkChecked persists high-water mark and take-profit flags.
func (l *Ledger) MarkChecked(_ context.Context, id int64, hwmValue, hwmReturn float64, tp1Done, tp2Done bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.HWMValue = hwmValue
	p.HWMReturn = hwmReturn
	p.TP1Done = tp1Done
	p.TP2Done = tp2Done
	now := l.now().UTC()
	p.LastCheckAt = &now
	return nil
}

// UpdateMeta sets the quote failure count and the last review time.
// Kill-switch tags belong to OpenOrAdd and are left as stored.
func (l *Ledger) UpdateMeta(_ context.Context, id int64, meta domain.PositionMeta) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.positions[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Meta.QuoteFailures = meta.QuoteFailures
	p.Meta.LastReviewAt = nil
	if meta.LastReviewAt != nil {
		at := *meta.LastReviewAt
		p.Meta.LastReviewAt = &at
	}
	return nil
}

// Exits retrieves the exit records of a position, ordered by timestamp ASC.
func (l *Ledger) Exits(_ context.Context, positionID int64) ([]*domain.ExitRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.exits[positionID]
	result := make([]*domain.ExitRecord, len(src))
	for i, e := range src {
		copy := *e
		result[i] = &copy
	}
	return result, nil
}

func mergeTags(have, add []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, t := range have {
		seen[t] = struct{}{}
	}
	for _, t := range add {
		if _, ok := seen[t]; !ok {
			have = append(have, t)
			seen[t] = struct{}{}
		}
	}
	return have
}
