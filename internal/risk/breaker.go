// Package risk implements trade admission control: a loss-triggered circuit
// breaker, a portfolio exposure gate and pre-trade market filters.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/observability"
	"solana-hype-trader/internal/storage"
)

// ErrBreakerOpen is returned by Allow while the breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	Window        int           // ring buffer capacity
	MinTrades     int           // samples required before the open check
	LossThreshold float64       // loss rate that opens the breaker
	MaxDrawdown   float64       // buffered P/L at or below -MaxDrawdown opens the breaker
	Cooldown      time.Duration // time the breaker stays open
}

// DefaultBreakerConfig returns the default thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:        20,
		MinTrades:     5,
		LossThreshold: 0.70,
		MaxDrawdown:   0.5,
		Cooldown:      4 * time.Hour,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MinTrades <= 0 {
		c.MinTrades = d.MinTrades
	}
	if c.LossThreshold <= 0 {
		c.LossThreshold = d.LossThreshold
	}
	if c.MaxDrawdown == 0 {
		c.MaxDrawdown = d.MaxDrawdown
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}

// TradeOutcome is one realized trade result.
type TradeOutcome struct {
	At       time.Time `json:"timestamp"`
	PnL      float64   `json:"profit_loss"`
	Contract string    `json:"contract"`
	Loss     bool      `json:"is_loss"`
}

// BreakerState is the persisted breaker state.
// Invariant: len(Recent) <= Window.
type BreakerState struct {
	Open           bool           `json:"is_open"`
	OpenedAt       *time.Time     `json:"opened_at"`
	CooldownUntil  *time.Time     `json:"cooldown_until"`
	Recent         []TradeOutcome `json:"recent_trades"`
	TotalWins      int            `json:"total_wins"`
	TotalLosses    int            `json:"total_losses"`
	ManualOverride bool           `json:"manual_override"`
}

// LossRate returns the share of losses in the buffer and the buffered P/L.
func (s *BreakerState) LossRate() (rate, total float64) {
	if len(s.Recent) == 0 {
		return 0, 0
	}
	losses := 0
	for _, t := range s.Recent {
		if t.Loss {
			losses++
		}
		total += t.PnL
	}
	return float64(losses) / float64(len(s.Recent)), total
}

// BreakerStatus is a read-only view of the breaker.
type BreakerStatus struct {
	Open           bool       `json:"is_open"`
	OpenedAt       *time.Time `json:"opened_at"`
	CooldownUntil  *time.Time `json:"cooldown_until"`
	ManualOverride bool       `json:"manual_override"`
	TotalWins      int        `json:"total_wins"`
	TotalLosses    int        `json:"total_losses"`
	RecentCount    int        `json:"recent_trades_count"`
	RecentLossRate *float64   `json:"recent_loss_rate,omitempty"`
	RecentTotalPnL *float64   `json:"recent_total_pl,omitempty"`
}

// BreakerOptions configures a CircuitBreaker.
type BreakerOptions struct {
	Config  BreakerConfig
	Store   storage.StateStore // optional; state is kept in memory only when nil
	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// CircuitBreaker halts new entries after a run of losing trades.
// Safe for concurrent use.
type CircuitBreaker struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	state   BreakerState
	store   storage.StateStore
	log     logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(opts BreakerOptions) *CircuitBreaker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CircuitBreaker{
		cfg:     opts.Config.withDefaults(),
		store:   opts.Store,
		log:     logging.Component(opts.Logger, "circuit_breaker"),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// Load restores persisted state. Missing state leaves the breaker closed.
func (b *CircuitBreaker) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	data, err := b.store.Load(ctx, storage.KeyBreakerState)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load breaker state: %w", err)
	}

	var st BreakerState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("unmarshal breaker state: %w", err)
	}
	if n := len(st.Recent); n > b.cfg.Window {
		st.Recent = st.Recent[n-b.cfg.Window:]
	}

	b.mu.Lock()
	b.state = st
	b.mu.Unlock()
	b.metrics.SetBreakerOpen(st.Open)
	return nil
}

// RecordTrade appends a realized P/L and opens the breaker when the buffered
// loss rate or drawdown crosses its threshold. No-op under manual override.
func (b *CircuitBreaker) RecordTrade(ctx context.Context, pnl float64, contract string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.ManualOverride {
		return
	}

	now := b.now()
	b.state.Recent = append(b.state.Recent, TradeOutcome{At: now, PnL: pnl, Contract: contract, Loss: pnl < 0})
	if n := len(b.state.Recent); n > b.cfg.Window {
		b.state.Recent = append([]TradeOutcome(nil), b.state.Recent[n-b.cfg.Window:]...)
	}
	if pnl < 0 {
		b.state.TotalLosses++
	} else {
		b.state.TotalWins++
	}

	if !b.state.Open && len(b.state.Recent) >= b.cfg.MinTrades {
		rate, total := b.state.LossRate()
		if rate >= b.cfg.LossThreshold || total <= -abs(b.cfg.MaxDrawdown) {
			until := now.Add(b.cfg.Cooldown)
			b.state.Open = true
			b.state.OpenedAt = &now
			b.state.CooldownUntil = &until
			b.metrics.SetBreakerOpen(true)
			b.log.WithFields(logrus.Fields{
				"loss_rate":      rate,
				"total_pnl":      total,
				"cooldown_until": until,
			}).Warn("circuit breaker opened")
		}
	}

	b.persistLocked(ctx)
}

// IsOpen reports whether new entries are blocked, with a reason when they are.
// An elapsed cooldown closes the breaker. Always closed under manual override.
func (b *CircuitBreaker) IsOpen(ctx context.Context) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.ManualOverride || !b.state.Open {
		return false, ""
	}

	if b.state.CooldownUntil != nil && !b.now().Before(*b.state.CooldownUntil) {
		b.state.Open = false
		b.state.OpenedAt = nil
		b.state.CooldownUntil = nil
		b.metrics.SetBreakerOpen(false)
		b.log.Info("circuit breaker cooldown elapsed")
		b.persistLocked(ctx)
		return false, ""
	}

	if len(b.state.Recent) == 0 {
		return true, "circuit breaker open"
	}
	rate, total := b.state.LossRate()
	losses := int(rate*float64(len(b.state.Recent)) + 0.5)
	return true, fmt.Sprintf("circuit breaker open: %d/%d losses, total P/L %.4f WSOL", losses, len(b.state.Recent), total)
}

// Allow returns ErrBreakerOpen, wrapped with the reason, while the breaker is open.
func (b *CircuitBreaker) Allow(ctx context.Context) error {
	if open, reason := b.IsOpen(ctx); open {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, reason)
	}
	return nil
}

// Status returns a snapshot of the breaker.
func (b *CircuitBreaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BreakerStatus{
		Open:           b.state.Open,
		OpenedAt:       copyTime(b.state.OpenedAt),
		CooldownUntil:  copyTime(b.state.CooldownUntil),
		ManualOverride: b.state.ManualOverride,
		TotalWins:      b.state.TotalWins,
		TotalLosses:    b.state.TotalLosses,
		RecentCount:    len(b.state.Recent),
	}
	if len(b.state.Recent) > 0 {
		rate, total := b.state.LossRate()
		st.RecentLossRate = &rate
		st.RecentTotalPnL = &total
	}
	return st
}

// Reset closes the breaker and clears the manual override.
// The trade buffer and counters are kept.
func (b *CircuitBreaker) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.Open = false
	b.state.OpenedAt = nil
	b.state.CooldownUntil = nil
	b.state.ManualOverride = false
	b.metrics.SetBreakerOpen(false)
	b.log.Info("circuit breaker reset")
	return b.saveLocked(ctx)
}

// SetManualOverride enables or disables the manual override.
func (b *CircuitBreaker) SetManualOverride(ctx context.Context, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state.ManualOverride = enabled
	b.log.WithField("enabled", enabled).Warn("circuit breaker manual override changed")
	return b.saveLocked(ctx)
}

func (b *CircuitBreaker) persistLocked(ctx context.Context) {
	if err := b.saveLocked(ctx); err != nil {
		b.log.WithError(err).Error("persist circuit breaker state")
	}
}

func (b *CircuitBreaker) saveLocked(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	data, err := json.Marshal(b.state)
	if err != nil {
		return fmt.Errorf("marshal breaker state: %w", err)
	}
	if err := b.store.Save(ctx, storage.KeyBreakerState, data); err != nil {
		return fmt.Errorf("save breaker state: %w", err)
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
