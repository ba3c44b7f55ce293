package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-hype-trader/internal/control"
	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/execution"
	"solana-hype-trader/internal/feeds"
	"solana-hype-trader/internal/hype"
	"solana-hype-trader/internal/ingestion"
	"solana-hype-trader/internal/risk"
	"solana-hype-trader/internal/storage"
	"solana-hype-trader/internal/storage/memory"
)

const bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeOracle struct {
	mu       sync.Mutex
	decision *domain.Decision
	err      error
	payloads []domain.OraclePayload
}

func (f *fakeOracle) Evaluate(_ context.Context, payload domain.OraclePayload) (*domain.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	dec := *f.decision
	return &dec, nil
}

func (f *fakeOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeExecutor struct {
	mu     sync.Mutex
	dryRun bool
	plans  []domain.ExecutionPlan
	out    float64
	err    error
}

func (f *fakeExecutor) SetDryRun(v bool) {
	f.mu.Lock()
	f.dryRun = v
	f.mu.Unlock()
}

func (f *fakeExecutor) Execute(_ context.Context, plan domain.ExecutionPlan) (*execution.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, plan)

	expected := f.out * 1.01
	split := execution.SplitResult{
		Index:       0,
		AmountIn:    plan.AmountIn,
		QuoteID:     "q-1",
		Status:      domain.FillStatusConfirmed,
		ExpectedOut: &expected,
		RealizedOut: f.out,
		OutDecimals: 6,
	}
	if f.dryRun {
		split.Status = domain.FillStatusSimulated
		split.RealizedOut = 0
	}
	if f.err != nil {
		split.Err = f.err
		split.Status = domain.FillStatusFailed
		split.RealizedOut = 0
	}
	return &execution.Result{
		ExecutionID: "exec-1",
		Plan:        plan,
		Splits:      []execution.SplitResult{split},
		TotalIn:     execution.FromUnits(plan.AmountIn, domain.WSOLDecimals),
		DryRun:      f.dryRun,
	}, f.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	n.messages = append(n.messages, text)
	n.mu.Unlock()
}

type stubBreaker struct{ err error }

func (b stubBreaker) Allow(context.Context) error { return b.err }

type fixture struct {
	orch     *Orchestrator
	opts     Options
	oracle   *fakeOracle
	exec     *fakeExecutor
	ledger   *memory.Ledger
	signals  *memory.SignalLog
	state    *memory.StateStore
	control  *control.Control
	notifier *recordingNotifier
}

func longDecision() *domain.Decision {
	return &domain.Decision{
		Symbol:     "BONK",
		Direction:  domain.DirectionUp,
		Confidence: 0.8,
		Magnitude:  0.5,
		TradeProposal: domain.TradeProposal{
			Action:     domain.ActionLong,
			Weight:     1,
			MaxHold:    "2h",
			KillSwitch: []string{"rug"},
		},
	}
}

func snapshot(symbol, contract string, liq float64, txns int) *domain.MarketSnapshot {
	spread := 40.0
	return &domain.MarketSnapshot{
		Symbol:       symbol,
		Contract:     contract,
		LiquidityUSD: liq,
		Volume1h:     25000,
		SpreadBps:    &spread,
		TxnsH1:       &txns,
		UpdatedAt:    t0,
	}
}

func mention(id, symbol, author string) *domain.SocialEvent {
	return &domain.SocialEvent{
		Platform:        "bluesky",
		ID:              id,
		AuthorHandle:    author,
		AuthorFollowers: 100,
		CreatedAt:       t0,
		Text:            "$" + symbol + " is moving",
		Symbols:         []string{symbol},
		Engagement:      map[string]int{domain.EngagementLikes: 10},
	}
}

// newFixture wires an orchestrator with BONK hyped and priced.
func newFixture(t *testing.T, mutate func(o *Options)) *fixture {
	t.Helper()
	now := func() time.Time { return t0 }

	f := &fixture{
		oracle:   &fakeOracle{decision: longDecision()},
		exec:     &fakeExecutor{out: 1500},
		ledger:   memory.NewLedger(),
		signals:  memory.NewSignalLog(),
		state:    memory.NewStateStore(),
		notifier: &recordingNotifier{},
		control: control.New(control.State{
			SizeSOL:  0.02,
			SizeUSDC: 3,
			Sources:  map[string]bool{"social": true, "news": true, "market": true},
		}, nil),
	}

	sig := &Signals{
		Hype:   hype.NewAggregator(hype.Options{Now: now}),
		Market: feeds.NewMarketCache(),
		News:   feeds.NewNewsCache(feeds.NewsCacheOptions{Now: now}),
	}
	sig.Hype.Update(mention("p1", "BONK", "alice.bsky.social"))
	sig.Hype.Update(mention("p2", "BONK", "bob.bsky.social"))
	sig.Market.Put(snapshot("BONK", bonkMint, 80000, 50))

	f.opts = Options{
		Signals:   sig,
		Oracle:    f.oracle,
		Executor:  f.exec,
		Ledger:    f.ledger,
		SignalLog: f.signals,
		State:     f.state,
		Gate:      risk.NewPortfolioGate(risk.DefaultGateConfig(), f.ledger),
		Filters:   risk.DefaultFilters(),
		Control:   f.control,
		Notifier:  f.notifier,
		Owner:     "wallet-1",
		Fees:      execution.Fees{SlippagePct: 30, AntiMEV: true, PriorityFeeSOL: 0.006},
		Now:       now,
	}
	if mutate != nil {
		mutate(&f.opts)
	}
	f.orch = New(f.opts)
	return f
}

func (f *fixture) lastSignal(t *testing.T, symbol string) *domain.SignalRecord {
	t.Helper()
	recs, err := f.signals.Recent(context.Background(), symbol, 1)
	if err != nil {
		t.Fatalf("recent signals: %v", err)
	}
	if len(recs) == 0 {
		t.Fatalf("no signal recorded for %s", symbol)
	}
	return recs[0]
}

func TestDecideOnce_EntersPosition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.orch.DecideOnce(ctx)
	if res.Candidates != 1 || res.Entered != 1 || res.Evaluated != 1 {
		t.Fatalf("unexpected cycle result: %+v", res)
	}

	open, err := f.ledger.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	pos := open[0]
	assert.Equal(t, "BONK", pos.Symbol)
	assert.Equal(t, bonkMint, pos.Contract)
	assert.InDelta(t, 1500, pos.Quantity, 1e-9)
	assert.InDelta(t, 0.02, pos.Invested, 1e-9)
	assert.Equal(t, 6, pos.Decimals)
	assert.Equal(t, "wallet-1", pos.Owner)
	require.NotNil(t, pos.MaxHoldSec)
	assert.Equal(t, int64(7200), *pos.MaxHoldSec)
	require.NotNil(t, pos.EntryTxnsH1)
	assert.Equal(t, 50, *pos.EntryTxnsH1)

	require.Len(t, f.exec.plans, 1)
	plan := f.exec.plans[0]
	assert.Equal(t, domain.SideBuy, plan.Side)
	assert.Equal(t, domain.WSOLMint, plan.InToken)
	assert.Equal(t, bonkMint, plan.OutToken)
	assert.Equal(t, uint64(20_000_000), plan.AmountIn)
	assert.False(t, f.exec.dryRun)

	rec := f.lastSignal(t, "BONK")
	assert.Equal(t, OutcomeEntered, rec.Outcome)
	assert.Equal(t, string(domain.ActionLong), rec.Action)
	assert.Equal(t, 2, rec.Mentions)
	assert.Greater(t, rec.Weight, 0.0)

	require.Len(t, f.notifier.messages, 1)
	assert.True(t, strings.HasPrefix(f.notifier.messages[0], "✅ Buy BONK"), f.notifier.messages[0])

	require.Len(t, f.oracle.payloads, 1)
	payload := f.oracle.payloads[0]
	assert.Equal(t, bonkMint, payload.Contract)
	assert.True(t, payload.QuickFilter)
	assert.Equal(t, 2, payload.Social.Mentions)
}

func TestDecideOnce_DryRunOpensNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dry := true
	_, err := f.control.Apply(ctx, control.Patch{DryRun: &dry})
	require.NoError(t, err)

	res := f.orch.DecideOnce(ctx)
	assert.Equal(t, 0, res.Entered)
	assert.Equal(t, 1, res.Evaluated)
	assert.True(t, f.exec.dryRun, "executor follows the control dry-run flag")

	open, err := f.ledger.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, OutcomeDryRun, f.lastSignal(t, "BONK").Outcome)
	assert.Empty(t, f.notifier.messages)
}

func TestDecideOnce_Skips(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Options)
		reason string
		oracle bool // whether the oracle is reached
	}{
		{
			name:   "blocklisted symbol",
			mutate: func(o *Options) { o.Filters.BlockedSymbols = []string{"bon"} },
			reason: "blocklist",
		},
		{
			name:   "blocklisted mint",
			mutate: func(o *Options) { o.Filters.BlockedMints = []string{bonkMint} },
			reason: "blocklist",
		},
		{
			name:   "thin liquidity",
			mutate: func(o *Options) { o.Signals.Market.Put(snapshot("BONK", bonkMint, 100, 50)) },
			reason: "market_gate",
		},
		{
			name:   "breaker open",
			mutate: func(o *Options) { o.Breaker = stubBreaker{err: errors.New("breaker open")} },
			reason: "breaker_open",
		},
		{
			name: "flat proposal",
			mutate: func(o *Options) {
				o.Oracle.(*fakeOracle).decision.TradeProposal.Action = domain.ActionFlat
			},
			reason: "flat",
			oracle: true,
		},
		{
			name: "short proposal",
			mutate: func(o *Options) {
				o.Oracle.(*fakeOracle).decision.TradeProposal.Action = domain.ActionShort
			},
			reason: "not_long",
			oracle: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			res := f.orch.DecideOnce(context.Background())

			assert.Equal(t, 1, res.Candidates)
			assert.Equal(t, 0, res.Entered)
			assert.Equal(t, 1, res.Skipped[tt.reason], "skipped: %v", res.Skipped)
			assert.Equal(t, tt.oracle, f.oracle.calls() > 0)
			assert.Empty(t, f.exec.plans)
			if tt.oracle {
				assert.Equal(t, OutcomeSkipped+tt.reason, f.lastSignal(t, "BONK").Outcome)
			}
		})
	}
}

func TestDecideOnce_PortfolioLimit(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Gate = risk.NewPortfolioGate(risk.GateConfig{MaxOpenPositions: 1}, o.Ledger)
	})
	ctx := context.Background()
	_, err := f.ledger.OpenOrAdd(ctx, domain.OpenRequest{Symbol: "WIF", Contract: "wif", Quantity: 10, Cost: 0.1, Decimals: 6})
	require.NoError(t, err)

	res := f.orch.DecideOnce(ctx)
	assert.Equal(t, 1, res.Skipped["portfolio_limit"])
	assert.Zero(t, f.oracle.calls())
}

func TestDecideOnce_OracleError(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Oracle.(*fakeOracle).err = errors.New("all keys exhausted")
	})

	res := f.orch.DecideOnce(context.Background())
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 0, res.Entered)
	assert.Equal(t, OutcomeOracleError, f.lastSignal(t, "BONK").Outcome)
	assert.Empty(t, f.exec.plans)
}

func TestDecideOnce_ExecutionFailureAlerts(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Executor.(*fakeExecutor).err = errors.New("quote rejected")
	})
	ctx := context.Background()

	f.orch.DecideOnce(ctx)
	assert.Equal(t, OutcomeExecFailed, f.lastSignal(t, "BONK").Outcome)
	open, err := f.ledger.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "EXEC buy BONK")
}

func TestDecideOnce_SecondEntryAddsToPosition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.orch.DecideOnce(ctx)
	f.orch.DecideOnce(ctx)

	open, err := f.ledger.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 3000, open[0].Quantity, 1e-9)
	assert.InDelta(t, 0.04, open[0].Invested, 1e-9)
}

func TestCandidates(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.MaxCandidates = 2
		o.Signals.Hype.Update(mention("p3", "WIF", "carol.bsky.social"))
		for i := 0; i < 5; i++ {
			o.Signals.Hype.Update(mention(fmt.Sprintf("pop%d", i), "POPCAT", "dave.bsky.social"))
		}
		for i := 0; i < 3; i++ {
			o.Signals.Hype.Update(mention(fmt.Sprintf("zzz%d", i), "ZZZ", "erin.bsky.social"))
		}
		o.Signals.Market.Put(snapshot("WIF", "wif-mint", 90000, 80))
		o.Signals.Market.Put(snapshot("ZZZ", "zzz-mint", 90000, 80))
	})

	// POPCAT is the hottest but has no market data; the cap drops WIF.
	assert.Equal(t, []string{"ZZZ", "BONK"}, f.orch.Candidates())
}

func TestSignals_EvidenceFallsBackToContract(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Signals.News.Add(domain.NewsItem{
			Source:      "coindesk.com",
			Title:       "$BONK rallies",
			URL:         "https://coindesk.com/bonk",
			PublishedAt: t0,
			Symbols:     []string{"BONK"},
		})
	})
	sig := f.opts.Signals

	ev := sig.Evidence("bonk", bonkMint)
	assert.False(t, ev.Payload.QuickFilter)
	assert.Equal(t, "BONK", ev.Payload.Symbol)
	assert.Equal(t, bonkMint, ev.Payload.Contract)
	require.Len(t, ev.Payload.News, 1)
	assert.Equal(t, "https://coindesk.com/bonk", ev.Payload.News[0].URL)
	require.NotNil(t, ev.Payload.Market)

	// Unknown symbol, known contract.
	ev = sig.Evidence("RENAMED", bonkMint)
	require.NotNil(t, ev.Payload.Market)
	assert.Equal(t, bonkMint, ev.Payload.Contract)

	// Neither known.
	ev = sig.Evidence("GONE", "gone-mint")
	assert.Nil(t, ev.Payload.Market)
	assert.Equal(t, "gone-mint", ev.Payload.Contract)
}

type chanSource[T any] struct {
	name   string
	values []T
}

func (s chanSource[T]) Name() string { return s.name }

func (s chanSource[T]) Run(ctx context.Context, out chan<- T) error {
	for _, v := range s.values {
		select {
		case out <- v:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func TestRun_ConsumesSourcesAndFlushes(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Social = []ingestion.SocialSource{
			chanSource[*domain.SocialEvent]{name: "social", values: []*domain.SocialEvent{mention("s1", "WIF", "carol.bsky.social")}},
			chanSource[*domain.SocialEvent]{name: "muted", values: []*domain.SocialEvent{mention("s2", "MUTE", "mallory.bsky.social")}},
		}
		o.News = []ingestion.NewsSource{
			chanSource[domain.NewsItem]{name: "news", values: []domain.NewsItem{{
				Source: "decrypt.co", Title: "$WIF listed", URL: "https://decrypt.co/wif", PublishedAt: t0, Symbols: []string{"WIF"},
			}}},
		}
		o.Markets = []ingestion.MarketSource{
			chanSource[*domain.MarketSnapshot]{name: "market", values: []*domain.MarketSnapshot{snapshot("WIF", "wif-mint", 90000, 80)}},
		}
	})
	sig := f.opts.Signals

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sig.Market.Get("WIF") != nil &&
			len(sig.News.Get("WIF", 0)) == 1 &&
			contains(sig.Hype.Symbols(), "WIF")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.NotContains(t, sig.Hype.Symbols(), "MUTE", "disabled sources are dropped")

	data, err := f.state.Load(context.Background(), storage.KeyHypeState)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	restored := hype.NewAggregator(hype.Options{Now: func() time.Time { return t0 }})
	require.NoError(t, restored.LoadState(context.Background(), f.state))
	assert.Contains(t, restored.Symbols(), "WIF")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
