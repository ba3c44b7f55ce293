package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/storage/memory"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestBreaker(t *testing.T) (*CircuitBreaker, *clock, *memory.StateStore) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStateStore()
	b := NewCircuitBreaker(BreakerOptions{Config: DefaultBreakerConfig(), Store: store, Now: clk.Now})
	return b, clk, store
}

func TestCircuitBreaker_OpensOnLossesAndAutoResets(t *testing.T) {
	ctx := t.Context()
	b, clk, _ := newTestBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordTrade(ctx, -0.1, "M1")
		open, _ := b.IsOpen(ctx)
		require.False(t, open, "opened early after %d trades", i+1)
	}

	b.RecordTrade(ctx, -0.1, "M1")
	open, reason := b.IsOpen(ctx)
	require.True(t, open)
	assert.Contains(t, reason, "5/5 losses")
	assert.True(t, errors.Is(b.Allow(ctx), ErrBreakerOpen))

	clk.t = clk.t.Add(4*time.Hour - time.Second)
	open, _ = b.IsOpen(ctx)
	assert.True(t, open)

	clk.t = clk.t.Add(time.Second)
	open, _ = b.IsOpen(ctx)
	assert.False(t, open)
	assert.NoError(t, b.Allow(ctx))

	st := b.Status()
	assert.False(t, st.Open)
	assert.Nil(t, st.CooldownUntil)
	assert.Equal(t, 5, st.TotalLosses)
}

func TestCircuitBreaker_OpensOnDrawdown(t *testing.T) {
	ctx := t.Context()
	b, _, _ := newTestBreaker(t)

	b.RecordTrade(ctx, 0.05, "M1")
	b.RecordTrade(ctx, 0.05, "M1")
	b.RecordTrade(ctx, 0.05, "M1")
	b.RecordTrade(ctx, 0.05, "M1")
	open, _ := b.IsOpen(ctx)
	require.False(t, open)

	b.RecordTrade(ctx, -0.8, "M2")
	open, _ = b.IsOpen(ctx)
	assert.True(t, open)
}

func TestCircuitBreaker_RingBufferBounded(t *testing.T) {
	ctx := t.Context()
	clk := &clock{t: time.Now()}
	b := NewCircuitBreaker(BreakerOptions{Config: BreakerConfig{Window: 3, MinTrades: 50}, Now: clk.Now})

	for i := 0; i < 10; i++ {
		b.RecordTrade(ctx, 0.01, "M1")
	}
	st := b.Status()
	assert.Equal(t, 3, st.RecentCount)
	assert.Equal(t, 10, st.TotalWins)
	require.NotNil(t, st.RecentTotalPnL)
	assert.InDelta(t, 0.03, *st.RecentTotalPnL, 1e-12)
}

func TestCircuitBreaker_ManualOverride(t *testing.T) {
	ctx := t.Context()
	b, _, _ := newTestBreaker(t)

	require.NoError(t, b.SetManualOverride(ctx, true))
	for i := 0; i < 10; i++ {
		b.RecordTrade(ctx, -1, "M1")
	}
	st := b.Status()
	assert.Equal(t, 0, st.RecentCount)
	open, _ := b.IsOpen(ctx)
	assert.False(t, open)

	require.NoError(t, b.Reset(ctx))
	assert.False(t, b.Status().ManualOverride)
}

func TestCircuitBreaker_OverrideBypassesOpenState(t *testing.T) {
	ctx := t.Context()
	b, _, _ := newTestBreaker(t)
	for i := 0; i < 5; i++ {
		b.RecordTrade(ctx, -0.1, "M1")
	}
	open, _ := b.IsOpen(ctx)
	require.True(t, open)

	require.NoError(t, b.SetManualOverride(ctx, true))
	open, _ = b.IsOpen(ctx)
	assert.False(t, open)

	require.NoError(t, b.Reset(ctx))
	open, _ = b.IsOpen(ctx)
	assert.False(t, open)
}

func TestCircuitBreaker_PersistsAndLoads(t *testing.T) {
	ctx := t.Context()
	b, clk, store := newTestBreaker(t)
	for i := 0; i < 5; i++ {
		b.RecordTrade(ctx, -0.1, "M1")
	}

	restored := NewCircuitBreaker(BreakerOptions{Store: store, Now: clk.Now})
	require.NoError(t, restored.Load(ctx))
	open, _ := restored.IsOpen(ctx)
	assert.True(t, open)
	assert.Equal(t, 5, restored.Status().RecentCount)

	fresh := NewCircuitBreaker(BreakerOptions{Store: memory.NewStateStore()})
	require.NoError(t, fresh.Load(ctx))
	assert.False(t, fresh.Status().Open)
}

func TestGateConfig_CanOpen(t *testing.T) {
	cfg := DefaultGateConfig()

	ok, reason := cfg.CanOpen(PortfolioSnapshot{OpenPositions: 5, Invested: 0.5})
	assert.False(t, ok)
	assert.Contains(t, reason, "5/5")

	ok, _ = cfg.CanOpen(PortfolioSnapshot{OpenPositions: 1, Invested: 2.0})
	assert.False(t, ok)

	ok, reason = cfg.CanOpen(PortfolioSnapshot{OpenPositions: 4, Invested: 1.9})
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestGateConfig_MaxSize(t *testing.T) {
	cfg := DefaultGateConfig()

	size, warn := cfg.MaxSize(PortfolioSnapshot{Invested: 1.5}, 1.0)
	assert.LessOrEqual(t, size, 0.5)
	assert.InDelta(t, 0.5, size, 1e-12)
	assert.NotEmpty(t, warn)

	size, warn = cfg.MaxSize(PortfolioSnapshot{Invested: 0}, 1.0)
	assert.InDelta(t, 0.6, size, 1e-12)
	assert.NotEmpty(t, warn)

	size, warn = cfg.MaxSize(PortfolioSnapshot{Invested: 0.2}, 0.1)
	assert.Equal(t, 0.1, size)
	assert.Empty(t, warn)

	size, _ = cfg.MaxSize(PortfolioSnapshot{Invested: 3}, 0.1)
	assert.Equal(t, 0.0, size)
}

func TestGateConfig_ShouldScaleDown(t *testing.T) {
	cfg := DefaultGateConfig()

	scale, _ := cfg.ShouldScaleDown(PortfolioSnapshot{OpenPositions: 5, Invested: 2.4})
	assert.False(t, scale)
	scale, _ = cfg.ShouldScaleDown(PortfolioSnapshot{OpenPositions: 1, Invested: 2.41})
	assert.True(t, scale)
	scale, _ = cfg.ShouldScaleDown(PortfolioSnapshot{OpenPositions: 7})
	assert.True(t, scale)
}

func TestPortfolioGate_UsesLedger(t *testing.T) {
	ctx := t.Context()
	ledger := memory.NewLedger()
	gate := NewPortfolioGate(GateConfig{MaxOpenPositions: 2}, ledger)

	_, err := ledger.OpenOrAdd(ctx, domain.OpenRequest{Symbol: "A", Contract: "MA", Quantity: 10, Cost: 0.7})
	require.NoError(t, err)
	_, err = ledger.OpenOrAdd(ctx, domain.OpenRequest{Symbol: "B", Contract: "MB", Quantity: 10, Cost: 0.8})
	require.NoError(t, err)

	snap, err := gate.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.OpenPositions)
	assert.InDelta(t, 1.5, snap.Invested, 1e-12)

	ok, reason, err := gate.CanOpen(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	size, _, err := gate.MaxSize(ctx, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, size, 1e-12)
}

func TestFilters(t *testing.T) {
	f := DefaultFilters()
	f.BlockedMints = []string{"BadMint"}
	f.BlockedSymbols = []string{"scam"}

	blocked, reason := f.Blocklisted("WIF", "badmint")
	assert.True(t, blocked)
	assert.Equal(t, "mint in blocklist", reason)

	blocked, _ = f.Blocklisted("SCAMCOIN", "M1")
	assert.True(t, blocked)

	blocked, _ = f.Blocklisted("WIF", "M1")
	assert.False(t, blocked)

	txns := 3
	spread := 1500.0
	fails, reason := f.FailsGates(&domain.MarketSnapshot{LiquidityUSD: 1000})
	assert.True(t, fails)
	assert.Contains(t, reason, "liq_usd")

	fails, reason = f.FailsGates(&domain.MarketSnapshot{LiquidityUSD: 10000, TxnsH1: &txns})
	assert.True(t, fails)
	assert.Contains(t, reason, "txns_h1")

	fails, reason = f.FailsGates(&domain.MarketSnapshot{LiquidityUSD: 10000, SpreadBps: &spread})
	assert.True(t, fails)
	assert.Contains(t, reason, "spread_bps")

	fails, _ = f.FailsGates(&domain.MarketSnapshot{LiquidityUSD: 10000})
	assert.False(t, fails)

	fails, _ = f.FailsGates(nil)
	assert.True(t, fails)
}
