// Package orchestrator drives the trading loop.
// It coordinates: ingestion → hype/market/news caches → decision cycle → entry
// execution, plus the position cycle and the snapshot and trim tasks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/execution"
	"solana-hype-trader/internal/ingestion"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/observability"
	"solana-hype-trader/internal/risk"
	"solana-hype-trader/internal/scoring"
	"solana-hype-trader/internal/storage"
)

// Default loop settings.
const (
	DefaultDecisionInterval = 15 * time.Second
	DefaultPositionInterval = 15 * time.Second
	DefaultSnapshotInterval = 60 * time.Second
	DefaultTrimInterval     = 60 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultOracleTimeout    = 60 * time.Second
	DefaultMaxCandidates    = 10
	DefaultUSDCPerSOL       = 150.0

	// Positions opened without observed decimals use this value.
	fallbackDecimals = 9
	sourceBuffer     = 256
)

// Signal outcomes recorded in the signal log.
const (
	OutcomeEntered     = "entered"
	OutcomeDryRun      = "dry_run"
	OutcomeOracleError = "oracle_error"
	OutcomeExecFailed  = "exec_failed"
	OutcomeNoFill      = "no_fill"
	OutcomeSkipped     = "skipped:"
)

// Oracle evaluates a candidate payload.
type Oracle interface {
	Evaluate(ctx context.Context, payload domain.OraclePayload) (*domain.Decision, error)
}

// Executor executes entry plans. The dry-run flag follows the control state
// before every entry.
type Executor interface {
	Execute(ctx context.Context, plan domain.ExecutionPlan) (*execution.Result, error)
	SetDryRun(v bool)
}

// PositionCycle evaluates open positions once.
type PositionCycle interface {
	RunCycle(ctx context.Context) error
}

// Breaker admits or rejects new entries.
type Breaker interface {
	Allow(ctx context.Context) error
}

// Gate enforces portfolio limits.
type Gate interface {
	Snapshot(ctx context.Context) (risk.PortfolioSnapshot, error)
	CanOpen(ctx context.Context) (bool, string, error)
	MaxSize(ctx context.Context, proposed float64) (float64, string, error)
}

// Control exposes the runtime control state.
type Control interface {
	DryRun() bool
	Sizes() (sol, usdc float64)
	SourceEnabled(name string) bool
}

// Options for creating an Orchestrator.
type Options struct {
	Signals *Signals

	// Event sources
	Social  []ingestion.SocialSource
	News    []ingestion.NewsSource
	Markets []ingestion.MarketSource

	// Collaborators
	Oracle    Oracle
	Executor  Executor
	Positions PositionCycle // optional
	Ledger    storage.Ledger
	SignalLog storage.SignalLog  // optional
	State     storage.StateStore // optional; hype state is not persisted without it
	Breaker   Breaker            // optional
	Gate      Gate               // optional
	Filters   risk.Filters
	Control   Control
	Notifier  execution.Notifier // optional
	Logger    logrus.FieldLogger
	Metrics   *observability.Metrics

	// Trading
	BaseAsset  string // WSOL or USDC
	Fees       execution.Fees
	Owner      string
	USDCPerSOL float64 // default DefaultUSDCPerSOL

	// Scheduling
	MaxCandidates    int
	DecisionInterval time.Duration
	PositionInterval time.Duration
	SnapshotInterval time.Duration
	TrimInterval     time.Duration
	OracleTimeout    time.Duration
	ShutdownTimeout  time.Duration
	Now              func() time.Time
}

// CycleResult counts the outcomes of one decision cycle.
type CycleResult struct {
	Candidates int
	Evaluated  int
	Entered    int
	Skipped    map[string]int
}

func (r *CycleResult) skip(reason string) {
	if r.Skipped == nil {
		r.Skipped = make(map[string]int)
	}
	r.Skipped[reason]++
}

// Orchestrator runs the ingestion, decision, position, snapshot and trim tasks.
type Orchestrator struct {
	opts Options
	log  logrus.FieldLogger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.BaseAsset == "" {
		opts.BaseAsset = domain.AssetWSOL
	}
	if opts.USDCPerSOL <= 0 {
		opts.USDCPerSOL = DefaultUSDCPerSOL
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = DefaultMaxCandidates
	}
	if opts.DecisionInterval <= 0 {
		opts.DecisionInterval = DefaultDecisionInterval
	}
	if opts.PositionInterval <= 0 {
		opts.PositionInterval = DefaultPositionInterval
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.TrimInterval <= 0 {
		opts.TrimInterval = DefaultTrimInterval
	}
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = DefaultOracleTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		opts: opts,
		log:  logging.Component(opts.Logger, "orchestrator"),
	}
}

// Run starts every task and blocks until ctx is cancelled. Hype state is
// flushed once with a fresh context before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, src := range o.opts.Social {
		ch := make(chan *domain.SocialEvent, sourceBuffer)
		g.Go(func() error { return o.runSource(gctx, src.Name(), func(ctx context.Context) error { return src.Run(ctx, ch) }) })
		g.Go(func() error {
			consume(gctx, ch, func(ev *domain.SocialEvent) {
				if o.opts.Control.SourceEnabled(src.Name()) {
					o.opts.Signals.Hype.Update(ev)
				}
			})
			return nil
		})
	}
	for _, src := range o.opts.News {
		ch := make(chan domain.NewsItem, sourceBuffer)
		g.Go(func() error { return o.runSource(gctx, src.Name(), func(ctx context.Context) error { return src.Run(ctx, ch) }) })
		g.Go(func() error {
			consume(gctx, ch, func(item domain.NewsItem) {
				if o.opts.Control.SourceEnabled(src.Name()) {
					o.opts.Signals.News.Add(item)
				}
			})
			return nil
		})
	}
	for _, src := range o.opts.Markets {
		ch := make(chan *domain.MarketSnapshot, sourceBuffer)
		g.Go(func() error { return o.runSource(gctx, src.Name(), func(ctx context.Context) error { return src.Run(ctx, ch) }) })
		g.Go(func() error {
			consume(gctx, ch, func(snap *domain.MarketSnapshot) {
				if o.opts.Control.SourceEnabled(src.Name()) {
					o.opts.Signals.Market.Put(snap)
				}
			})
			return nil
		})
	}

	g.Go(func() error {
		every(gctx, o.opts.DecisionInterval, func() {
			start := o.opts.Now()
			res := o.DecideOnce(gctx)
			o.opts.Metrics.RecordCycle("decisions", o.opts.Now().Sub(start))
			if res.Candidates > 0 {
				o.log.WithFields(logrus.Fields{
					"candidates": res.Candidates,
					"evaluated":  res.Evaluated,
					"entered":    res.Entered,
				}).Debug("decision cycle complete")
			}
		})
		return nil
	})
	if o.opts.Positions != nil {
		g.Go(func() error {
			every(gctx, o.opts.PositionInterval, func() { o.positionCycle(gctx) })
			return nil
		})
	}
	g.Go(func() error {
		every(gctx, o.opts.SnapshotInterval, func() { o.snapshot(gctx) })
		return nil
	})
	g.Go(func() error {
		every(gctx, o.opts.TrimInterval, o.trim)
		return nil
	})

	o.log.WithFields(logrus.Fields{
		"social":  len(o.opts.Social),
		"news":    len(o.opts.News),
		"markets": len(o.opts.Markets),
	}).Info("orchestrator started")

	err := g.Wait()
	o.flush()
	return err
}

// runSource runs one source. Source failures are logged and never stop the
// other tasks.
func (o *Orchestrator) runSource(ctx context.Context, name string, run func(context.Context) error) error {
	if err := run(ctx); err != nil && ctx.Err() == nil {
		o.opts.Metrics.RecordIngestionError(name)
		o.log.WithError(err).WithField("source", name).Error("source stopped")
	}
	return nil
}

func consume[T any](ctx context.Context, ch <-chan T, fn func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-ch:
			fn(v)
		}
	}
}

// every calls fn on each tick until ctx is done. The first call happens after
// one interval.
func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Candidates returns up to MaxCandidates hype symbols that have market data,
// most mentioned first.
func (o *Orchestrator) Candidates() []string {
	var out []string
	for _, sym := range o.opts.Signals.Hype.Ranked() {
		if len(out) == o.opts.MaxCandidates {
			break
		}
		if o.opts.Signals.Market.Get(sym) != nil {
			out = append(out, sym)
		}
	}
	return out
}

// DecideOnce evaluates every candidate once.
func (o *Orchestrator) DecideOnce(ctx context.Context) CycleResult {
	var res CycleResult
	candidates := o.Candidates()
	res.Candidates = len(candidates)

	for _, sym := range candidates {
		if ctx.Err() != nil {
			break
		}
		outcome := o.evaluate(ctx, sym)
		switch {
		case outcome == OutcomeEntered:
			res.Evaluated++
			res.Entered++
		case strings.HasPrefix(outcome, OutcomeSkipped):
			res.skip(strings.TrimPrefix(outcome, OutcomeSkipped))
		default:
			res.Evaluated++
		}
	}
	return res
}

// evaluate runs the gates, the oracle and the entry for one symbol and
// returns the outcome.
func (o *Orchestrator) evaluate(ctx context.Context, symbol string) string {
	log := o.log.WithField("symbol", symbol)
	m := o.opts.Signals.Market.Get(symbol)
	if m == nil {
		return o.skip("no_market")
	}
	if blocked, why := o.opts.Filters.Blocklisted(symbol, m.Contract); blocked {
		log.WithField("reason", why).Debug("blocklisted")
		return o.skip("blocklist")
	}
	if fails, why := o.opts.Filters.FailsGates(m); fails {
		log.WithField("reason", why).Debug("market gate")
		return o.skip("market_gate")
	}
	if o.opts.Breaker != nil {
		if err := o.opts.Breaker.Allow(ctx); err != nil {
			log.WithError(err).Debug("breaker rejects entry")
			return o.skip("breaker_open")
		}
	}
	if o.opts.Gate != nil {
		ok, why, err := o.opts.Gate.CanOpen(ctx)
		if err != nil {
			log.WithError(err).Warn("portfolio gate unavailable")
			return o.skip("gate_error")
		}
		if !ok {
			log.WithField("reason", why).Debug("portfolio gate")
			return o.skip("portfolio_limit")
		}
	}

	a := o.opts.Signals.Assess(symbol, m)
	o.opts.Metrics.RecordEvaluated()
	rec := &domain.SignalRecord{
		Timestamp:     o.opts.Now().UTC(),
		Symbol:        symbol,
		Contract:      m.Contract,
		HypeScore:     a.Hype.Value,
		MarketScore:   a.MarketScore,
		NewsScore:     a.NewsScore,
		DecisionScore: a.Score,
		Mentions:      a.Hype.Mentions,
		Authors:       a.Hype.Authors,
	}
	defer o.appendSignal(ctx, rec)

	octx, cancel := context.WithTimeout(ctx, o.opts.OracleTimeout)
	dec, err := o.opts.Oracle.Evaluate(octx, a.Payload)
	cancel()
	if err != nil {
		log.WithError(err).Warn("oracle evaluation failed")
		o.opts.Metrics.RecordSkip(OutcomeOracleError)
		rec.Outcome = OutcomeOracleError
		return rec.Outcome
	}
	if dec.Contract == "" {
		dec.Contract = m.Contract
	}
	rec.Direction = string(dec.Direction)
	rec.Action = string(dec.TradeProposal.Action)

	sig := scoring.TradeSignal(dec, a.Score)
	if sig == nil {
		rec.Outcome = o.skip("flat")
		return rec.Outcome
	}
	rec.Weight = sig.Weight
	if sig.Action != domain.ActionLong {
		rec.Outcome = o.skip("not_long")
		return rec.Outcome
	}

	rec.Outcome = o.enter(ctx, dec, m, log)
	return rec.Outcome
}

// enter sizes, plans and executes a long entry and books the position.
func (o *Orchestrator) enter(ctx context.Context, dec *domain.Decision, m *domain.MarketSnapshot, log logrus.FieldLogger) string {
	sizeSOL, sizeUSDC := o.opts.Control.Sizes()
	size := execution.Size{SOL: sizeSOL, USDC: sizeUSDC}
	useUSDC := domain.MintForAsset(o.opts.BaseAsset) == domain.USDCMint

	if o.opts.Gate != nil {
		proposed := size.SOL
		if useUSDC {
			proposed = size.USDC / o.opts.USDCPerSOL
		}
		allowed, warn, err := o.opts.Gate.MaxSize(ctx, proposed)
		if err != nil {
			log.WithError(err).Warn("portfolio gate unavailable")
			return o.skip("gate_error")
		}
		if allowed <= 0 {
			return o.skip("no_budget")
		}
		if warn != "" {
			log.Info(warn)
		}
		size.SOL = allowed
		size.USDC = allowed * o.opts.USDCPerSOL
	}

	plan, err := execution.ToEntryPlan(dec, o.opts.BaseAsset, size, o.opts.Fees)
	if err != nil {
		log.WithError(err).Warn("entry plan rejected")
		return o.skip("invalid_plan")
	}

	dryRun := o.opts.Control.DryRun()
	o.opts.Executor.SetDryRun(dryRun)
	res, err := o.opts.Executor.Execute(ctx, plan)
	if dryRun {
		fields := logrus.Fields{"amount_in": plan.AmountIn, "contract": plan.OutToken}
		if res != nil {
			fields["expected_out"] = res.ExpectedOut()
			fields["splits"] = len(res.Splits)
		}
		log.WithFields(fields).WithError(err).Info("dry run entry")
		return OutcomeDryRun
	}
	if err != nil && (res == nil || res.RealizedOut() <= 0) {
		log.WithError(err).Error("entry execution failed")
		o.alert(ctx, fmt.Sprintf("❌ EXEC buy %s: %v", dec.Symbol, err))
		return OutcomeExecFailed
	}

	qty := res.RealizedOut()
	if qty <= 0 {
		log.Warn("entry settled without tokens received")
		o.alert(ctx, fmt.Sprintf("⚠️ Buy %s settled without tokens", dec.Symbol))
		return OutcomeNoFill
	}

	decimals := res.OutDecimals()
	if decimals < 0 {
		log.WithField("decimals", fallbackDecimals).Warn("token decimals unknown")
		decimals = fallbackDecimals
	}
	cost := res.TotalIn
	if useUSDC {
		cost = execution.FromUnits(plan.AmountIn, domain.USDCDecimals) * res.FilledFraction() / o.opts.USDCPerSOL
	}

	id, err := o.opts.Ledger.OpenOrAdd(ctx, domain.OpenRequest{
		Symbol:      dec.Symbol,
		Contract:    plan.OutToken,
		Quantity:    qty,
		Cost:        cost,
		MaxHoldSec:  plan.MaxHoldSec,
		Decimals:    decimals,
		EntryTxnsH1: m.TxnsH1,
		Owner:       o.opts.Owner,
		KillSwitch:  plan.KillSwitch,
	})
	if err != nil {
		log.WithError(err).Error("book entry")
		o.alert(ctx, fmt.Sprintf("❌ Buy %s executed but not booked: %v", dec.Symbol, err))
		return OutcomeExecFailed
	}

	o.opts.Metrics.RecordEntry()
	log.WithFields(logrus.Fields{
		"position_id": id,
		"qty":         qty,
		"cost_wsol":   cost,
		"splits":      len(res.Splits),
		"failed":      res.Failed,
	}).Info("position opened")
	o.alert(ctx, fmt.Sprintf("✅ Buy %s opened/added qty=%.6f", dec.Symbol, qty))
	return OutcomeEntered
}

func (o *Orchestrator) skip(reason string) string {
	o.opts.Metrics.RecordSkip(reason)
	return OutcomeSkipped + reason
}

func (o *Orchestrator) appendSignal(ctx context.Context, rec *domain.SignalRecord) {
	if o.opts.SignalLog == nil {
		return
	}
	if err := o.opts.SignalLog.Append(ctx, []*domain.SignalRecord{rec}); err != nil {
		o.log.WithError(err).WithField("symbol", rec.Symbol).Warn("append signal")
	}
}

func (o *Orchestrator) alert(ctx context.Context, text string) {
	if o.opts.Notifier != nil {
		o.opts.Notifier.Notify(ctx, text)
	}
}

func (o *Orchestrator) positionCycle(ctx context.Context) {
	if err := o.opts.Positions.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		o.log.WithError(err).Error("position cycle")
	}

	if o.opts.Gate == nil {
		return
	}
	snap, err := o.opts.Gate.Snapshot(ctx)
	if err != nil {
		o.log.WithError(err).Warn("portfolio snapshot")
		return
	}
	o.opts.Metrics.UpdatePortfolio(snap.OpenPositions, snap.Invested)
}

func (o *Orchestrator) snapshot(ctx context.Context) {
	if o.opts.State == nil {
		return
	}
	if err := o.opts.Signals.Hype.SaveState(ctx, o.opts.State); err != nil {
		o.log.WithError(err).Warn("hype snapshot")
	}
}

func (o *Orchestrator) trim() {
	o.opts.Signals.Hype.Trim()
	if n := o.opts.Signals.News.Trim(); n > 0 {
		o.log.WithField("dropped", n).Debug("news cache trimmed")
	}
}

// flush persists the hype state once with a fresh context.
func (o *Orchestrator) flush() {
	if o.opts.State == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.ShutdownTimeout)
	defer cancel()
	if err := o.opts.Signals.Hype.SaveState(ctx, o.opts.State); err != nil {
		o.log.WithError(err).Error("final hype snapshot")
		return
	}
	o.log.Info("hype state flushed")
}
