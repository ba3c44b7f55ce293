package memory

import (
	"context"
	"sync"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/storage"
)

// SignalLog is an in-memory implementation of storage.SignalLog.
type SignalLog struct {
	mu      sync.RWMutex
	records []*domain.SignalRecord
}

// NewSignalLog creates a new in-memory signal log.
func NewSignalLog() *SignalLog {
	return &SignalLog{}
}

// Compile-time interface check.
var _ storage.SignalLog = (*SignalLog)(nil)

// Append adds records to the log.
func (s *SignalLog) Append(_ context.Context, recs []*domain.SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range recs {
		if r == nil || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}
	for _, r := range recs {
		copy := *r
		s.records = append(s.records, &copy)
	}
	return nil
}

// Recent retrieves the latest records for a symbol, newest first.
func (s *SignalLog) Recent(_ context.Context, symbol string, limit int) ([]*domain.SignalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SignalRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		copy := *r
		result = append(result, &copy)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
