package postgres

import (
	"context"
	"fmt"
	"time"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/storage"
)

// ExecutionStore implements storage.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExecutionStore = (*ExecutionStore)(nil)

// SaveQuote persists a quote. Returns ErrDuplicateKey if the id exists.
func (s *ExecutionStore) SaveQuote(ctx context.Context, q *domain.QuoteRecord) error {
	if q == nil || q.ID == "" {
		return storage.ErrInvalidInput
	}

	var raw []byte
	if len(q.Raw) > 0 {
		raw = q.Raw
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO quotes (
			id, created_at, in_token, out_token, amount_in, slippage_pct,
			expected_out, price_impact_pct, raw
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		q.ID, q.CreatedAt, q.InToken, q.OutToken, int64(q.AmountIn), q.SlippagePct,
		q.ExpectedOut, q.PriceImpactPct, raw,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

// SaveFill persists a fill. Returns ErrDuplicateKey if the id exists.
func (s *ExecutionStore) SaveFill(ctx context.Context, f *domain.FillRecord) error {
	if f == nil || f.ID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO fills (
			id, quote_id, created_at, side, symbol, contract, in_token, out_token,
			amount_in, tx_ref, status, expected_out, realized_out, slippage_pct, amm_price_impact
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		f.ID, f.QuoteID, f.CreatedAt, string(f.Side), f.Symbol, f.Contract, f.InToken, f.OutToken,
		int64(f.AmountIn), f.TxRef, f.Status, f.ExpectedOut, f.RealizedOut, f.SlippagePct, f.AMMPriceImpact,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// MinPriceImpactSince returns the minimum AMM price impact for the contract since the given time.
func (s *ExecutionStore) MinPriceImpactSince(ctx context.Context, contract string, since time.Time) (*float64, error) {
	var result *float64
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(amm_price_impact)
		FROM fills
		WHERE contract = $1 AND created_at >= $2 AND amm_price_impact IS NOT NULL`,
		contract, since,
	).Scan(&result)
	if err != nil {
		return nil, fmt.Errorf("min price impact: %w", err)
	}
	return result, nil
}
