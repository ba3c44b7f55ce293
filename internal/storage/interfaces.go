package storage

import (
	"context"
	"time"

	"solana-hype-trader/internal/domain"
)

// Ledger provides access to positions and their exit audit trail.
type Ledger interface {
	// OpenOrAdd adds a fill to the open position for the contract, creating
	// one if none is open. Returns the position id.
	OpenOrAdd(ctx context.Context, req domain.OpenRequest) (int64, error)

	// ListOpen retrieves all open positions, ordered by id ASC.
	ListOpen(ctx context.Context) ([]*domain.Position, error)

	// Get retrieves a position by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id int64) (*domain.Position, error)

	// Reduce sells exit.QtySold (capped at the current quantity), reduces invested
	// capital proportionally, appends the exit record, and closes the position
	// when the residual quantity is at or below domain.PositionEpsilon.
	// Reducing a closed position is a no-op.
	Reduce(ctx context.Context, exit *domain.ExitRecord) error

	// MarkChecked persists high-water mark and take-profit flags.
	MarkChecked(ctx context.Context, id int64, hwmValue, hwmReturn float64, tp1Done, tp2Done bool) error

	// UpdateMeta sets the quote failure count and last review time. Kill-switch
	// tags are merged by OpenOrAdd and are not overwritten.
	UpdateMeta(ctx context.Context, id int64, meta domain.PositionMeta) error

	// Exits retrieves the exit records of a position, ordered by timestamp ASC.
	Exits(ctx context.Context, positionID int64) ([]*domain.ExitRecord, error)
}

// ExecutionStore persists quotes and fills produced by the executor.
type ExecutionStore interface {
	// SaveQuote persists a quote. Returns ErrDuplicateKey if the id exists.
	SaveQuote(ctx context.Context, q *domain.QuoteRecord) error

	// SaveFill persists a fill. Returns ErrDuplicateKey if the id exists.
	SaveFill(ctx context.Context, f *domain.FillRecord) error

	// MinPriceImpactSince returns the minimum AMM price impact recorded for the
	// contract at or after since, or nil when there is none.
	MinPriceImpactSince(ctx context.Context, contract string, since time.Time) (*float64, error)
}

// StateStore is a small key-value store for component snapshots.
type StateStore interface {
	// Save atomically replaces the value stored under key.
	Save(ctx context.Context, key string, value []byte) error

	// Load retrieves the value stored under key. Returns ErrNotFound if not exists.
	Load(ctx context.Context, key string) ([]byte, error)
}

// SignalLog is an append-only log of evaluated signals.
type SignalLog interface {
	// Append adds records to the log.
	Append(ctx context.Context, recs []*domain.SignalRecord) error

	// Recent retrieves the latest records for a symbol, newest first.
	// An empty symbol matches every symbol.
	Recent(ctx context.Context, symbol string, limit int) ([]*domain.SignalRecord, error)
}

// State store keys.
const (
	KeyHypeState    = "hype/state"
	KeyBreakerState = "risk/circuit_breaker"
	KeyControlState = "control/state"
	KeyOracleKeys   = "oracle/keys"
)
