package memory

import (
	"context"
	"sync"
	"time"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/storage"
)

// ExecutionStore is an in-memory implementation of storage.ExecutionStore.
type ExecutionStore struct {
	mu     sync.RWMutex
	quotes map[string]*domain.QuoteRecord // keyed by quote id
	fills  map[string]*domain.FillRecord  // keyed by fill id
	order  []string                       // fill ids in insertion order
}

// NewExecutionStore creates a new in-memory execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		quotes: make(map[string]*domain.QuoteRecord),
		fills:  make(map[string]*domain.FillRecord),
	}
}

// Compile-time interface check.
var _ storage.ExecutionStore = (*ExecutionStore)(nil)

// SaveQuote persists a quote. Returns ErrDuplicateKey if the id exists.
func (s *ExecutionStore) SaveQuote(_ context.Context, q *domain.QuoteRecord) error {
	if q == nil || q.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.quotes[q.ID]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *q
	s.quotes[q.ID] = &copy
	return nil
}

// SaveFill persists a fill. Returns ErrDuplicateKey if the id exists.
func (s *ExecutionStore) SaveFill(_ context.Context, f *domain.FillRecord) error {
	if f == nil || f.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.fills[f.ID]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *f
	s.fills[f.ID] = &copy
	s.order = append(s.order, f.ID)
	return nil
}

// MinPriceImpactSince returns the minimum AMM price impact for the contract since the given time.
func (s *ExecutionStore) MinPriceImpactSince(_ context.Context, contract string, since time.Time) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var minPI *float64
	for _, id := range s.order {
		f := s.fills[id]
		if f.Contract != contract || f.AMMPriceImpact == nil || f.CreatedAt.Before(since) {
			continue
		}
		if minPI == nil || *f.AMMPriceImpact < *minPI {
			v := *f.AMMPriceImpact
			minPI = &v
		}
	}
	return minPI, nil
}

// Quotes returns all stored quotes. Intended for tests and diagnostics.
func (s *ExecutionStore) Quotes() []*domain.QuoteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.QuoteRecord, 0, len(s.quotes))
	for _, q := range s.quotes {
		copy := *q
		result = append(result, &copy)
	}
	return result
}

// Fills returns all stored fills in insertion order.
func (s *ExecutionStore) Fills() []*domain.FillRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.FillRecord, 0, len(s.order))
	for _, id := range s.order {
		copy := *s.fills[id]
		result = append(result, &copy)
	}
	return result
}
