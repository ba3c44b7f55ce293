package risk

import (
	"context"
	"fmt"

	"solana-hype-trader/internal/domain"
)

// GateConfig holds portfolio limits. Amounts are in the base asset (WSOL).
type GateConfig struct {
	MaxOpenPositions int
	MaxPortfolioRisk float64
	MaxPositionPct   float64 // per-position cap as a fraction of MaxPortfolioRisk
}

// DefaultGateConfig returns the default limits.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxOpenPositions: 5,
		MaxPortfolioRisk: 2.0,
		MaxPositionPct:   0.30,
	}
}

// PortfolioSnapshot is derived from the open position set on demand.
type PortfolioSnapshot struct {
	OpenPositions int     `json:"open_positions"`
	Invested      float64 `json:"invested"`
}

// SnapshotOf sums the open positions.
func SnapshotOf(positions []*domain.Position) PortfolioSnapshot {
	var s PortfolioSnapshot
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		s.OpenPositions++
		s.Invested += p.Invested
	}
	return s
}

// CanOpen reports whether a new position is admissible, with the reason when not.
func (c GateConfig) CanOpen(s PortfolioSnapshot) (bool, string) {
	if s.OpenPositions >= c.MaxOpenPositions {
		return false, fmt.Sprintf("max open positions reached: %d/%d", s.OpenPositions, c.MaxOpenPositions)
	}
	if s.Invested >= c.MaxPortfolioRisk {
		return false, fmt.Sprintf("portfolio risk limit reached: %.4f/%.4f WSOL", s.Invested, c.MaxPortfolioRisk)
	}
	return true, ""
}

// MaxSize clamps a proposed size to the remaining budget and the per-position
// cap. The warning is non-empty when the size was reduced.
func (c GateConfig) MaxSize(s PortfolioSnapshot, proposed float64) (float64, string) {
	available := c.MaxPortfolioRisk - s.Invested
	if available < 0 {
		available = 0
	}
	allowed := min(available, c.MaxPortfolioRisk*c.MaxPositionPct)
	if proposed > allowed {
		return allowed, fmt.Sprintf("position size reduced from %.4f to %.4f WSOL", proposed, allowed)
	}
	return proposed, ""
}

// ShouldScaleDown reports whether exposure exceeds the limits by more than 20%.
func (c GateConfig) ShouldScaleDown(s PortfolioSnapshot) (bool, string) {
	if s.Invested > c.MaxPortfolioRisk*1.2 {
		return true, fmt.Sprintf("portfolio risk exceeded: %.4f/%.4f WSOL", s.Invested, c.MaxPortfolioRisk)
	}
	if float64(s.OpenPositions) > float64(c.MaxOpenPositions)*1.2 {
		return true, fmt.Sprintf("too many positions: %d/%d", s.OpenPositions, c.MaxOpenPositions)
	}
	return false, ""
}

// PositionLister lists open positions.
type PositionLister interface {
	ListOpen(ctx context.Context) ([]*domain.Position, error)
}

// PortfolioGate evaluates GateConfig against the live position set.
type PortfolioGate struct {
	cfg       GateConfig
	positions PositionLister
}

// NewPortfolioGate creates a gate. Zero config fields take their defaults.
func NewPortfolioGate(cfg GateConfig, positions PositionLister) *PortfolioGate {
	d := DefaultGateConfig()
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = d.MaxOpenPositions
	}
	if cfg.MaxPortfolioRisk <= 0 {
		cfg.MaxPortfolioRisk = d.MaxPortfolioRisk
	}
	if cfg.MaxPositionPct <= 0 {
		cfg.MaxPositionPct = d.MaxPositionPct
	}
	return &PortfolioGate{cfg: cfg, positions: positions}
}

// Config returns the gate limits.
func (g *PortfolioGate) Config() GateConfig {
	return g.cfg
}

// Snapshot recomputes the portfolio snapshot.
func (g *PortfolioGate) Snapshot(ctx context.Context) (PortfolioSnapshot, error) {
	open, err := g.positions.ListOpen(ctx)
	if err != nil {
		return PortfolioSnapshot{}, fmt.Errorf("list open positions: %w", err)
	}
	return SnapshotOf(open), nil
}

// CanOpen reports whether a new position is admissible.
func (g *PortfolioGate) CanOpen(ctx context.Context) (bool, string, error) {
	s, err := g.Snapshot(ctx)
	if err != nil {
		return false, "", err
	}
	ok, reason := g.cfg.CanOpen(s)
	return ok, reason, nil
}

// MaxSize clamps a proposed size against the live portfolio.
func (g *PortfolioGate) MaxSize(ctx context.Context, proposed float64) (float64, string, error) {
	s, err := g.Snapshot(ctx)
	if err != nil {
		return 0, "", err
	}
	size, warn := g.cfg.MaxSize(s, proposed)
	return size, warn, nil
}

// ShouldScaleDown reports whether the live portfolio is over its limits.
func (g *PortfolioGate) ShouldScaleDown(ctx context.Context) (bool, string, error) {
	s, err := g.Snapshot(ctx)
	if err != nil {
		return false, "", err
	}
	scale, reason := g.cfg.ShouldScaleDown(s)
	return scale, reason, nil
}
