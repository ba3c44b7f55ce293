package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/storage"
)

// Ledger implements storage.Ledger using PostgreSQL.
type Ledger struct {
	pool *Pool
}

// NewLedger creates a new Ledger.
func NewLedger(pool *Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Compile-time interface check.
var _ storage.Ledger = (*Ledger)(nil)

const positionColumns = `
	id, symbol, contract, quantity, invested, avg_entry, opened_at, max_hold_sec,
	hwm_value, hwm_return, tp1_done, tp2_done, decimals, entry_txns_h1, owner,
	meta, state, last_check_at
`

// OpenOrAdd adds a fill to the open position for the contract, creating one if needed.
func (l *Ledger) OpenOrAdd(ctx context.Context, req domain.OpenRequest) (int64, error) {
	if req.Contract == "" || req.Quantity <= 0 || req.Cost < 0 {
		return 0, storage.ErrInvalidInput
	}

	var id int64
	err := l.pool.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+positionColumns+`
			FROM positions
			WHERE contract = $1 AND state = 'open'
			FOR UPDATE`, req.Contract)
		p, err := scanPosition(row)
		if err != nil && !isNotFoundError(err) {
			return fmt.Errorf("select open position: %w", err)
		}

		if err == nil {
			id = p.ID
			qty := p.Quantity + req.Quantity
			invested := p.Invested + req.Cost
			p.Meta.KillSwitch = mergeTags(p.Meta.KillSwitch, req.KillSwitch)
			meta, err := json.Marshal(p.Meta)
			if err != nil {
				return fmt.Errorf("marshal meta: %w", err)
			}
			_, err = tx.Exec(ctx, `
				UPDATE positions
				SET quantity = $2, invested = $3, avg_entry = $4, meta = $5
				WHERE id = $1`, id, qty, invested, invested/qty, meta)
			if err != nil {
				return fmt.Errorf("update position: %w", err)
			}
			return nil
		}

		meta, err := json.Marshal(domain.PositionMeta{KillSwitch: req.KillSwitch})
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO positions (
				symbol, contract, quantity, invested, avg_entry, max_hold_sec,
				decimals, entry_txns_h1, owner, meta, state
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'open')
			RETURNING id`,
			req.Symbol, req.Contract, req.Quantity, req.Cost, req.Cost/req.Quantity, req.MaxHoldSec,
			req.Decimals, req.EntryTxnsH1, req.Owner, meta,
		).Scan(&id)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert position: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListOpen retrieves all open positions, ordered by id ASC.
func (l *Ledger) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+positionColumns+`
		FROM positions
		WHERE state = 'open'
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}

// Get retrieves a position by id. Returns ErrNotFound if not exists.
func (l *Ledger) Get(ctx context.Context, id int64) (*domain.Position, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// Reduce sells from a position and appends the exit record in one transaction.
func (l *Ledger) Reduce(ctx context.Context, exit *domain.ExitRecord) error {
	if exit == nil || exit.QtySold < 0 {
		return storage.ErrInvalidInput
	}

	return l.pool.withTx(ctx, func(tx pgx.Tx) error {
		var qty, invested float64
		var state string
		err := tx.QueryRow(ctx, `
			SELECT quantity, invested, state FROM positions WHERE id = $1 FOR UPDATE`,
			exit.PositionID,
		).Scan(&qty, &invested, &state)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("select position: %w", err)
		}
		if state != string(domain.PositionOpen) || qty <= 0 {
			return nil
		}

		sold := min(qty, exit.QtySold)
		invested -= invested * (sold / qty)
		qty -= sold
		state = string(domain.PositionOpen)
		if qty <= domain.PositionEpsilon {
			qty, invested, state = 0, 0, string(domain.PositionClosed)
		}
		invested = max(0, invested)

		_, err = tx.Exec(ctx, `
			UPDATE positions
			SET quantity = $2, invested = $3, state = $4,
				avg_entry = CASE WHEN $4::text = 'closed' THEN 0 ELSE avg_entry END
			WHERE id = $1`, exit.PositionID, qty, invested, state)
		if err != nil {
			return fmt.Errorf("update position: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO exits (
				position_id, ts, reason, fraction, qty_sold, expected_out, realized_out,
				slippage_pct, price_impact_pct, tx_ref
			) VALUES ($1, COALESCE($2::timestamptz, now()), $3, $4, $5, $6, $7, $8, $9, $10)`,
			exit.PositionID, nullTime(exit.Timestamp), exit.Reason, exit.Fraction, sold,
			exit.ExpectedOut, exit.RealizedOut, exit.SlippagePct, exit.PriceImpactPct, exit.TxRef,
		)
		if err != nil {
			return fmt.Errorf("insert exit: %w", err)
		}
		return nil
	})
}

// MarkChecked persists high-water mark and take-profit flags.
func (l *Ledger) MarkChecked(ctx context.Context, id int64, hwmValue, hwmReturn float64, tp1Done, tp2Done bool) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE positions
		SET hwm_value = $2, hwm_return = $3, tp1_done = $4, tp2_done = $5, last_check_at = now()
		WHERE id = $1`, id, hwmValue, hwmReturn, tp1Done, tp2Done)
	if err != nil {
		return fmt.Errorf("mark checked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// managedMeta holds the meta fields written by UpdateMeta.
type managedMeta struct {
	QuoteFailures int        `json:"quote_failures,omitempty"`
	LastReviewAt  *time.Time `json:"last_review_at,omitempty"`
}

// UpdateMeta sets the quote failure count and the last review time.
// Kill-switch tags belong to OpenOrAdd and are left as stored.
func (l *Ledger) UpdateMeta(ctx context.Context, id int64, meta domain.PositionMeta) error {
	data, err := json.Marshal(managedMeta{QuoteFailures: meta.QuoteFailures, LastReviewAt: meta.LastReviewAt})
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	tag, err := l.pool.Exec(ctx, `
		UPDATE positions
		SET meta = (meta - 'quote_failures' - 'last_review_at') || $2::jsonb
		WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("update meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Exits retrieves the exit records of a position, ordered by timestamp ASC.
func (l *Ledger) Exits(ctx context.Context, positionID int64) ([]*domain.ExitRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, position_id, ts, reason, fraction, qty_sold, expected_out, realized_out,
			slippage_pct, price_impact_pct, tx_ref
		FROM exits
		WHERE position_id = $1
		ORDER BY ts ASC, id ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("get exits: %w", err)
	}
	defer rows.Close()

	var result []*domain.ExitRecord
	for rows.Next() {
		var e domain.ExitRecord
		err := rows.Scan(&e.ID, &e.PositionID, &e.Timestamp, &e.Reason, &e.Fraction, &e.QtySold,
			&e.ExpectedOut, &e.RealizedOut, &e.SlippagePct, &e.PriceImpactPct, &e.TxRef)
		if err != nil {
			return nil, fmt.Errorf("scan exit: %w", err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exits: %w", err)
	}
	return result, nil
}

// scanPosition scans a single position row.
func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var meta []byte
	var state string
	err := row.Scan(
		&p.ID, &p.Symbol, &p.Contract, &p.Quantity, &p.Invested, &p.AvgEntry, &p.OpenedAt, &p.MaxHoldSec,
		&p.HWMValue, &p.HWMReturn, &p.TP1Done, &p.TP2Done, &p.Decimals, &p.EntryTxnsH1, &p.Owner,
		&meta, &state, &p.LastCheckAt,
	)
	if err != nil {
		return nil, err
	}
	p.State = domain.PositionState(state)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return &p, nil
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
