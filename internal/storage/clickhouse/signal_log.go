package clickhouse

import (
	"context"
	"fmt"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/storage"
)

// SignalLog implements storage.SignalLog using ClickHouse.
type SignalLog struct {
	conn *Conn
}

// NewSignalLog creates a new SignalLog.
func NewSignalLog(conn *Conn) *SignalLog {
	return &SignalLog{conn: conn}
}

// Compile-time interface check.
var _ storage.SignalLog = (*SignalLog)(nil)

// Append adds records to the log in a single batch.
func (s *SignalLog) Append(ctx context.Context, recs []*domain.SignalRecord) error {
	if len(recs) == 0 {
		return nil
	}
	for _, r := range recs {
		if r == nil || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO signals (
			ts, symbol, contract, hype_score, market_score, news_score, decision_score,
			mentions, authors, direction, action, weight, outcome
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range recs {
		err = batch.Append(
			r.Timestamp.UTC(), r.Symbol, r.Contract,
			r.HypeScore, r.MarketScore, r.NewsScore, r.DecisionScore,
			uint32(r.Mentions), uint32(r.Authors),
			r.Direction, r.Action, r.Weight, r.Outcome,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Recent retrieves the latest records for a symbol, newest first.
func (s *SignalLog) Recent(ctx context.Context, symbol string, limit int) ([]*domain.SignalRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ts, symbol, contract, hype_score, market_score, news_score, decision_score,
			mentions, authors, direction, action, weight, outcome
		FROM signals
		WHERE (? = '' OR symbol = ?)
		ORDER BY ts DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var result []*domain.SignalRecord
	for rows.Next() {
		var r domain.SignalRecord
		var mentions, authors uint32
		if err := rows.Scan(
			&r.Timestamp, &r.Symbol, &r.Contract,
			&r.HypeScore, &r.MarketScore, &r.NewsScore, &r.DecisionScore,
			&mentions, &authors, &r.Direction, &r.Action, &r.Weight, &r.Outcome,
		); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		r.Mentions = int(mentions)
		r.Authors = int(authors)
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return result, nil
}
