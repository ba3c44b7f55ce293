package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/execution"
	"solana-hype-trader/internal/storage/memory"
)

const tokenDecimals = 6

// venue quotes tokens at a fixed SOL price per token.
type venue struct {
	mu       sync.Mutex
	price    float64
	failNext int
	requests []execution.QuoteRequest
}

func (v *venue) setPrice(p float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.price = p
}

func (v *venue) Quote(_ context.Context, req execution.QuoteRequest) (*execution.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)
	if v.failNext > 0 {
		v.failNext--
		return nil, errors.New("venue unavailable")
	}
	tokens := float64(req.Amount) / 1e6
	return &execution.Quote{Fields: map[string]any{
		"outAmount":   fmt.Sprintf("%.0f", tokens*v.price*1e9),
		"priceImpact": 0.5,
	}}, nil
}

func (v *venue) Submit(context.Context, string, bool) (string, error) {
	return "", errors.New("not used in dry-run")
}

func (v *venue) Status(context.Context, string, uint64) (execution.TxStatus, error) {
	return execution.TxFailed, nil
}

func (v *venue) lastSlippage() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requests[len(v.requests)-1].SlippagePct
}

type recordingBreaker struct {
	pnls []float64
}

func (b *recordingBreaker) RecordTrade(_ context.Context, pnl float64, _ string) {
	b.pnls = append(b.pnls, pnl)
}

type staticMarket map[string]*domain.MarketSnapshot

func (m staticMarket) Get(symbol string) *domain.MarketSnapshot { return m[symbol] }

type staticImpacts struct{ min *float64 }

func (s staticImpacts) MinPriceImpactSince(context.Context, string, time.Time) (*float64, error) {
	return s.min, nil
}

type stubOracle struct {
	dec   *domain.Decision
	err   error
	calls int
}

func (o *stubOracle) Evaluate(context.Context, domain.OraclePayload) (*domain.Decision, error) {
	o.calls++
	return o.dec, o.err
}

type fixture struct {
	ledger  *memory.Ledger
	venue   *venue
	breaker *recordingBreaker
	opts    Options
}

func newFixture(t *testing.T, price float64) *fixture {
	t.Helper()
	v := &venue{price: price}
	exec := execution.NewExecutor(execution.Options{
		Router: v,
		Store:  memory.NewExecutionStore(),
		DryRun: true,
	})
	f := &fixture{
		ledger:  memory.NewLedger(),
		venue:   v,
		breaker: &recordingBreaker{},
	}
	f.opts = Options{
		Ledger:   f.ledger,
		Quoter:   v,
		Executor: exec,
		Breaker:  f.breaker,
		Fees:     execution.Fees{SlippagePct: 3, EmergencySlippagePct: 25},
	}
	return f
}

func (f *fixture) open(t *testing.T, req domain.OpenRequest) int64 {
	t.Helper()
	if req.Symbol == "" {
		req.Symbol = "BONK"
	}
	if req.Contract == "" {
		req.Contract = "BonkMint"
	}
	if req.Quantity == 0 {
		req.Quantity = 100
	}
	if req.Cost == 0 {
		req.Cost = 1.0
	}
	req.Decimals = tokenDecimals
	id, err := f.ledger.OpenOrAdd(t.Context(), req)
	require.NoError(t, err)
	return id
}

func (f *fixture) exits(t *testing.T, id int64) []string {
	t.Helper()
	recs, err := f.ledger.Exits(t.Context(), id)
	require.NoError(t, err)
	reasons := make([]string, len(recs))
	for i, r := range recs {
		reasons[i] = r.Reason
	}
	return reasons
}

func (f *fixture) position(t *testing.T, id int64) *domain.Position {
	t.Helper()
	p, err := f.ledger.Get(t.Context(), id)
	require.NoError(t, err)
	return p
}

func TestRules_TrailingPct(t *testing.T) {
	r := DefaultRules()
	tests := []struct {
		high float64
		want float64
	}{
		{-0.2, 0.12},
		{0, 0.12},
		{0.049, 0.12},
		{0.05, 0.10},
		{0.099, 0.10},
		{0.10, 0.08},
		{0.12, 0.08},
		{0.15, 0.08},
		{0.5, 0.08},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, r.TrailingPct(tt.high), 1e-12, "high return %v", tt.high)
	}
}

func TestRules_MarketStress(t *testing.T) {
	r := DefaultRules()
	spread := 1600.0
	txns := 40
	entry := 100
	impact := -9.0

	s := r.MarketStress(&domain.MarketSnapshot{SpreadBps: &spread}, nil, nil)
	assert.True(t, s.Spread)
	assert.Equal(t, domain.ExitStressSpread, s.Reason())

	s = r.MarketStress(&domain.MarketSnapshot{TxnsH1: &txns}, &entry, nil)
	assert.Equal(t, Stress{Txns: true}, s)

	zero := 0
	s = r.MarketStress(&domain.MarketSnapshot{TxnsH1: &txns}, &zero, nil)
	assert.False(t, s.Any())

	s = r.MarketStress(nil, nil, &impact)
	assert.Equal(t, domain.ExitStressAMM, s.Reason())

	ok := 1400.0
	s = r.MarketStress(&domain.MarketSnapshot{SpreadBps: &ok}, nil, nil)
	assert.False(t, s.Any())
}

func TestManager_TakeProfitLadder(t *testing.T) {
	f := newFixture(t, 0.014)
	id := f.open(t, domain.OpenRequest{})

	require.NoError(t, NewManager(f.opts).RunCycle(t.Context()))

	p := f.position(t, id)
	assert.InDelta(t, 49, p.Quantity, 1e-9)
	assert.InDelta(t, 0.49, p.Invested, 1e-9)
	assert.True(t, p.TP1Done)
	assert.True(t, p.TP2Done)
	assert.InDelta(t, 0.4, p.HWMReturn, 1e-9)
	assert.InDelta(t, 49*0.014, p.HWMValue, 1e-9)
	assert.Equal(t, []string{domain.ExitTP1, domain.ExitTP2}, f.exits(t, id))
}

func TestManager_TP1OnceThenTrailingStop(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, 0.012)
	id := f.open(t, domain.OpenRequest{})
	m := NewManager(f.opts)

	require.NoError(t, m.RunCycle(ctx))
	p := f.position(t, id)
	assert.InDelta(t, 70, p.Quantity, 1e-9)
	assert.True(t, p.TP1Done)
	assert.False(t, p.TP2Done)
	assert.InDelta(t, 0.84, p.HWMValue, 1e-9)

	require.NoError(t, m.RunCycle(ctx))
	assert.Equal(t, []string{domain.ExitTP1}, f.exits(t, id), "TP1 must not fire twice")

	f.venue.setPrice(0.0105)
	require.NoError(t, m.RunCycle(ctx))

	p = f.position(t, id)
	assert.False(t, p.IsOpen())
	assert.Equal(t, 0.0, p.Quantity)
	assert.Equal(t, 0.0, p.Invested)
	assert.Equal(t, []string{domain.ExitTP1, domain.ExitTrailingStop}, f.exits(t, id))

	require.Len(t, f.breaker.pnls, 2)
	assert.InDelta(t, 0.36-0.3, f.breaker.pnls[0], 1e-9)
	assert.InDelta(t, 0.735-0.7, f.breaker.pnls[1], 1e-9)

	recs, err := f.ledger.Exits(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, recs[0].Fraction, 1e-9)
	assert.InDelta(t, 0.36, recs[0].RealizedOut, 1e-9)
	assert.InDelta(t, 1.0, recs[1].Fraction, 1e-9)
}

func TestManager_HoldsWithinBands(t *testing.T) {
	f := newFixture(t, 0.0105)
	id := f.open(t, domain.OpenRequest{})

	require.NoError(t, NewManager(f.opts).RunCycle(t.Context()))

	p := f.position(t, id)
	assert.True(t, p.IsOpen())
	assert.Empty(t, f.exits(t, id))
	assert.InDelta(t, 1.05, p.HWMValue, 1e-9)
	assert.InDelta(t, 0.05, p.HWMReturn, 1e-9)
	assert.NotNil(t, p.LastCheckAt)
}

func TestManager_EmergencyExitAfterQuoteFailures(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, 0.01)
	f.venue.failNext = DefaultQuoteFailureLimit
	id := f.open(t, domain.OpenRequest{})
	m := NewManager(f.opts)

	for i := 1; i < DefaultQuoteFailureLimit; i++ {
		require.NoError(t, m.RunCycle(ctx))
		assert.Equal(t, i, f.position(t, id).Meta.QuoteFailures)
	}
	assert.Empty(t, f.exits(t, id))

	require.NoError(t, m.RunCycle(ctx))
	assert.Equal(t, []string{domain.ExitEmergency}, f.exits(t, id))
	assert.False(t, f.position(t, id).IsOpen())
	assert.Equal(t, 25.0, f.venue.lastSlippage())
}

func TestManager_QuoteSuccessResetsFailures(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, 0.01)
	f.venue.failNext = 2
	id := f.open(t, domain.OpenRequest{})
	m := NewManager(f.opts)

	require.NoError(t, m.RunCycle(ctx))
	require.NoError(t, m.RunCycle(ctx))
	assert.Equal(t, 2, f.position(t, id).Meta.QuoteFailures)

	require.NoError(t, m.RunCycle(ctx))
	assert.Equal(t, 0, f.position(t, id).Meta.QuoteFailures)
}

func TestManager_KillSwitch(t *testing.T) {
	f := newFixture(t, 0.02)
	id := f.open(t, domain.OpenRequest{KillSwitch: []string{"rug"}})

	require.NoError(t, NewManager(f.opts).RunCycle(t.Context()))

	assert.Equal(t, []string{domain.ExitKillSwitch}, f.exits(t, id), "kill switch outranks take-profit")
	assert.False(t, f.position(t, id).IsOpen())
}

func TestManager_TimeStop(t *testing.T) {
	f := newFixture(t, 0.01)
	hold := int64(3600)
	id := f.open(t, domain.OpenRequest{MaxHoldSec: &hold})
	f.opts.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	require.NoError(t, NewManager(f.opts).RunCycle(t.Context()))

	assert.Equal(t, []string{domain.ExitTimeStop}, f.exits(t, id))
}

func TestManager_StressExit(t *testing.T) {
	f := newFixture(t, 0.0102)
	entry := 100
	id := f.open(t, domain.OpenRequest{EntryTxnsH1: &entry})
	txns := 30
	f.opts.Market = staticMarket{"BONK": {Symbol: "BONK", TxnsH1: &txns}}

	require.NoError(t, NewManager(f.opts).RunCycle(t.Context()))

	assert.Equal(t, []string{domain.ExitStressTxns}, f.exits(t, id))
}

func TestManager_AMMStressExit(t *testing.T) {
	f := newFixture(t, 0.0102)
	id := f.open(t, domain.OpenRequest{})
	impact := -12.5
	f.opts.Impacts = staticImpacts{min: &impact}

	require.NoError(t, NewManager(f.opts).RunCycle(t.Context()))

	assert.Equal(t, []string{domain.ExitStressAMM}, f.exits(t, id))
}

func TestManager_DowngradeHalf(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, 0.0105)
	id := f.open(t, domain.OpenRequest{})
	oracle := &stubOracle{dec: &domain.Decision{Symbol: "BONK", Direction: domain.DirectionDown}}
	f.opts.Oracle = oracle
	f.opts.Evidence = func(symbol, _ string) Evidence {
		return Evidence{Payload: domain.OraclePayload{Symbol: symbol}, Score: 0.2, Momentum: -1}
	}
	m := NewManager(f.opts)

	require.NoError(t, m.RunCycle(ctx))
	assert.Equal(t, []string{domain.ExitDowngradeHalf}, f.exits(t, id))
	p := f.position(t, id)
	assert.InDelta(t, 50, p.Quantity, 1e-9)
	require.NotNil(t, p.Meta.LastReviewAt)
	assert.InDelta(t, 0.525, p.HWMValue, 1e-9)

	require.NoError(t, m.RunCycle(ctx))
	assert.Equal(t, 1, oracle.calls, "review runs at most once per interval")
	assert.Len(t, f.exits(t, id), 1)
}

func TestManager_DowngradeFullWhenLosing(t *testing.T) {
	f := newFixture(t, 0.0095)
	id := f.open(t, domain.OpenRequest{})
	f.opts.Oracle = &stubOracle{dec: &domain.Decision{Symbol: "BONK", Direction: domain.DirectionUp, TradeProposal: domain.TradeProposal{Action: domain.ActionLong}}}
	f.opts.Evidence = func(string, string) Evidence { return Evidence{Score: -0.3, Momentum: -0.5} }

	require.NoError(t, NewManager(f.opts).RunCycle(t.Context()))

	assert.Equal(t, []string{domain.ExitDowngradeFull}, f.exits(t, id))
}

func TestManager_NoDowngradeWithPositiveMomentum(t *testing.T) {
	f := newFixture(t, 0.0095)
	id := f.open(t, domain.OpenRequest{})
	f.opts.Oracle = &stubOracle{dec: &domain.Decision{Symbol: "BONK", Direction: domain.DirectionDown}}
	f.opts.Evidence = func(string, string) Evidence { return Evidence{Score: -1, Momentum: 0.5} }

	require.NoError(t, NewManager(f.opts).RunCycle(t.Context()))

	assert.Empty(t, f.exits(t, id))
}

func TestManager_OracleFailureSkipsReview(t *testing.T) {
	f := newFixture(t, 0.0095)
	id := f.open(t, domain.OpenRequest{})
	f.opts.Oracle = &stubOracle{err: errors.New("timeout")}
	f.opts.Evidence = func(string, string) Evidence { return Evidence{Score: -1, Momentum: -1} }

	require.NoError(t, NewManager(f.opts).RunCycle(t.Context()))

	assert.Empty(t, f.exits(t, id))
	assert.NotNil(t, f.position(t, id).Meta.LastReviewAt)
}

func TestManager_SkipsOverlappingCycle(t *testing.T) {
	f := newFixture(t, 0.02)
	id := f.open(t, domain.OpenRequest{})
	m := NewManager(f.opts)

	m.running.Store(true)
	require.NoError(t, m.RunCycle(t.Context()))
	assert.Empty(t, f.exits(t, id))
}
