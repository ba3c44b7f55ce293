// Package position marks open positions to market and runs the exit ladder.
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/execution"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/observability"
	"solana-hype-trader/internal/storage"
)

// Default manager settings.
const (
	DefaultInterval          = 15 * time.Second
	DefaultQuoteFailureLimit = 5
	DefaultReviewInterval    = 5 * time.Minute
	DefaultOracleTimeout     = 60 * time.Second
	DefaultQuoteTimeout      = 20 * time.Second
)

// Quoter prices a quantity of a token. execution.Router satisfies it.
type Quoter interface {
	Quote(ctx context.Context, req execution.QuoteRequest) (*execution.Quote, error)
}

// Executor runs exit plans.
type Executor interface {
	Execute(ctx context.Context, plan domain.ExecutionPlan) (*execution.Result, error)
}

// Oracle re-evaluates a held symbol.
type Oracle interface {
	Evaluate(ctx context.Context, payload domain.OraclePayload) (*domain.Decision, error)
}

// Breaker receives the realized P/L of every exit.
type Breaker interface {
	RecordTrade(ctx context.Context, pnl float64, contract string)
}

// MarketSource returns the latest snapshot for a symbol.
type MarketSource interface {
	Get(symbol string) *domain.MarketSnapshot
}

// ImpactHistory reports recent pool price impact per contract.
type ImpactHistory interface {
	MinPriceImpactSince(ctx context.Context, contract string, since time.Time) (*float64, error)
}

// Evidence is the current view of a held symbol used by a review.
type Evidence struct {
	Payload  domain.OraclePayload
	Score    float64 // fused decision score
	Momentum float64 // sum of the hype z components
}

// EvidenceFunc builds the review evidence for a symbol.
type EvidenceFunc func(symbol, contract string) Evidence

// Options configures a Manager.
type Options struct {
	Ledger   storage.Ledger
	Quoter   Quoter
	Executor Executor
	Oracle   Oracle        // optional; reviews are skipped without it
	Evidence EvidenceFunc  // optional; reviews are skipped without it
	Breaker  Breaker       // optional
	Market   MarketSource  // optional
	Impacts  ImpactHistory // optional
	Notifier execution.Notifier
	Logger   logrus.FieldLogger
	Metrics  *observability.Metrics

	Rules             Rules
	Fees              execution.Fees
	Owner             string
	QuoteFailureLimit int
	ReviewInterval    time.Duration
	OracleTimeout     time.Duration
	QuoteTimeout      time.Duration
	Now               func() time.Time
}

// Manager evaluates every open position once per cycle.
type Manager struct {
	ledger   storage.Ledger
	quoter   Quoter
	executor Executor
	oracle   Oracle
	evidence EvidenceFunc
	breaker  Breaker
	market   MarketSource
	impacts  ImpactHistory
	notifier execution.Notifier
	log      logrus.FieldLogger
	metrics  *observability.Metrics

	rules          Rules
	fees           execution.Fees
	owner          string
	failureLimit   int
	reviewInterval time.Duration
	oracleTimeout  time.Duration
	quoteTimeout   time.Duration
	now            func() time.Time

	running atomic.Bool
}

// NewManager creates a Manager. A zero Rules value selects DefaultRules.
func NewManager(opts Options) *Manager {
	if opts.Rules.TP1Return == 0 && opts.Rules.TrailStart == 0 {
		opts.Rules = DefaultRules()
	}
	if opts.QuoteFailureLimit <= 0 {
		opts.QuoteFailureLimit = DefaultQuoteFailureLimit
	}
	if opts.ReviewInterval <= 0 {
		opts.ReviewInterval = DefaultReviewInterval
	}
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = DefaultOracleTimeout
	}
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = DefaultQuoteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		ledger:         opts.Ledger,
		quoter:         opts.Quoter,
		executor:       opts.Executor,
		oracle:         opts.Oracle,
		evidence:       opts.Evidence,
		breaker:        opts.Breaker,
		market:         opts.Market,
		impacts:        opts.Impacts,
		notifier:       opts.Notifier,
		log:            logging.Component(opts.Logger, "positions"),
		metrics:        opts.Metrics,
		rules:          opts.Rules,
		fees:           opts.Fees,
		owner:          opts.Owner,
		failureLimit:   opts.QuoteFailureLimit,
		reviewInterval: opts.ReviewInterval,
		oracleTimeout:  opts.OracleTimeout,
		quoteTimeout:   opts.QuoteTimeout,
		now:            opts.Now,
	}
}

// tracked is the in-cycle view of one position. Partial exits scale it so
// later rules in the same cycle see the remainder.
type tracked struct {
	pos       *domain.Position
	qty       float64
	invested  float64
	mark      float64
	hwm       float64
	hwmReturn float64
	tp1, tp2  bool
}

func (t *tracked) view() *domain.Position {
	p := t.pos.Clone()
	p.Quantity = t.qty
	p.Invested = t.invested
	return p
}

func (t *tracked) sold(qty float64) {
	keep := 1.0
	if t.qty > 0 {
		keep = 1 - qty/t.qty
	}
	t.qty -= qty
	t.invested *= keep
	t.mark *= keep
	t.hwm *= keep
}

func (t *tracked) open() bool {
	return t.qty > domain.PositionEpsilon
}

// RunCycle evaluates every open position. A cycle that starts while the
// previous one is still running returns immediately. Ledger write failures
// are returned; venue and oracle failures are logged and retried next cycle.
func (m *Manager) RunCycle(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		m.log.Debug("previous position cycle still running")
		return nil
	}
	defer m.running.Store(false)

	started := m.now()
	defer func() { m.metrics.RecordCycle("positions", m.now().Sub(started)) }()

	positions, err := m.ledger.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}

	var errs []error
	for _, p := range positions {
		if ctx.Err() != nil {
			break
		}
		if err := m.evaluate(ctx, p); err != nil {
			m.log.WithError(err).WithField("position_id", p.ID).Error("position evaluation failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) evaluate(ctx context.Context, p *domain.Position) error {
	if p.Quantity <= domain.PositionEpsilon {
		return nil
	}
	st := &tracked{
		pos:       p.Clone(),
		qty:       p.Quantity,
		invested:  p.Invested,
		hwm:       p.HWMValue,
		hwmReturn: p.HWMReturn,
		tp1:       p.TP1Done,
		tp2:       p.TP2Done,
	}
	log := m.log.WithFields(logrus.Fields{"position_id": p.ID, "symbol": p.Symbol})

	mark, err := m.mark(ctx, st)
	if err != nil {
		return m.quoteFailed(ctx, st, err, log)
	}
	if st.pos.Meta.QuoteFailures > 0 {
		st.pos.Meta.QuoteFailures = 0
		if err := m.updateMeta(ctx, st); err != nil {
			return err
		}
	}
	st.mark = mark

	ret := Return(st.mark, st.invested)
	st.hwm = math.Max(st.hwm, st.mark)
	st.hwmReturn = Return(st.hwm, st.invested)
	trail := m.rules.TrailingPct(st.hwmReturn)
	drawdown := Drawdown(st.hwm, st.mark)
	stress := m.stress(ctx, st.pos, log)

	downgrade, score, err := m.review(ctx, st, log)
	if err != nil {
		return err
	}

	log = log.WithFields(logrus.Fields{
		"mark":     st.mark,
		"return":   ret,
		"hwm":      st.hwm,
		"drawdown": drawdown,
		"trail":    trail,
	})

	if tag, ok := st.pos.Meta.HasKillTag(m.rules.KillTags); ok {
		log.WithField("tag", tag).Warn("kill switch")
		return m.exitAll(ctx, st, domain.ExitKillSwitch, m.fees, log)
	}
	if TimeStopped(st.pos, m.now()) {
		return m.exitAll(ctx, st, domain.ExitTimeStop, m.fees, log)
	}

	if !st.tp1 && ret >= m.rules.TP1Return {
		done, err := m.exit(ctx, st, st.qty*m.rules.TPFraction, domain.ExitTP1, m.fees, log)
		if err != nil {
			return err
		}
		if done {
			st.tp1 = true
			if err := m.markChecked(ctx, st); err != nil {
				return err
			}
		}
	}
	if !st.tp2 && ret >= m.rules.TP2Return && st.open() {
		done, err := m.exit(ctx, st, st.qty*m.rules.TPFraction, domain.ExitTP2, m.fees, log)
		if err != nil {
			return err
		}
		if done {
			st.tp2 = true
			if err := m.markChecked(ctx, st); err != nil {
				return err
			}
		}
	}
	if !st.open() {
		return nil
	}

	if st.hwm > 0 && drawdown >= trail {
		return m.exitAll(ctx, st, domain.ExitTrailingStop, m.fees, log)
	}

	if downgrade {
		if ret > 0 && score > m.rules.DowngradeHalfScore {
			if _, err := m.exit(ctx, st, st.qty*0.5, domain.ExitDowngradeHalf, m.fees, log); err != nil {
				return err
			}
			return m.settle(ctx, st)
		}
		return m.exitAll(ctx, st, domain.ExitDowngradeFull, m.fees, log)
	}

	if stress.Any() {
		return m.exitAll(ctx, st, stress.Reason(), m.fees, log)
	}

	return m.markChecked(ctx, st)
}

// mark values the current quantity in the base asset.
func (m *Manager) mark(ctx context.Context, st *tracked) (float64, error) {
	amount := execution.ToUnits(st.qty, st.pos.Decimals)
	if amount == 0 {
		return 0, execution.ErrDustQuantity
	}

	ctx, cancel := context.WithTimeout(ctx, m.quoteTimeout)
	defer cancel()

	q, err := m.quoter.Quote(ctx, execution.QuoteRequest{
		InToken:        st.pos.Contract,
		OutToken:       domain.WSOLMint,
		Amount:         amount,
		Trader:         m.owner,
		SlippagePct:    m.fees.SlippagePct,
		AntiMEV:        m.fees.AntiMEV,
		PriorityFeeSOL: m.fees.PriorityFeeSOL,
	})
	if err != nil {
		return 0, err
	}
	out, ok := q.ExpectedOut()
	if !ok {
		return 0, execution.ErrNoExpectedOut
	}
	return out / math.Pow10(domain.WSOLDecimals), nil
}

func (m *Manager) quoteFailed(ctx context.Context, st *tracked, cause error, log logrus.FieldLogger) error {
	if errors.Is(cause, execution.ErrDustQuantity) {
		log.Info("closing dust position")
		return m.exitAll(ctx, st, domain.ExitEmergency, m.fees, log)
	}

	m.metrics.RecordQuoteFailure()
	st.pos.Meta.QuoteFailures++
	log = log.WithField("quote_failures", st.pos.Meta.QuoteFailures)
	log.WithError(cause).Warn("mark quote failed")
	if err := m.updateMeta(ctx, st); err != nil {
		return err
	}
	if st.pos.Meta.QuoteFailures < m.failureLimit {
		return nil
	}

	m.metrics.RecordEmergencyExit()
	log.Warn("emergency exit")
	fees := m.fees
	if fees.EmergencySlippagePct > 0 {
		fees.SlippagePct = fees.EmergencySlippagePct
	}
	done, err := m.exit(ctx, st, st.qty, domain.ExitEmergency, fees, log)
	if err != nil || !done || !st.open() {
		return err
	}
	st.pos.Meta.QuoteFailures = 0
	return m.updateMeta(ctx, st)
}

func (m *Manager) stress(ctx context.Context, p *domain.Position, log logrus.FieldLogger) Stress {
	var snap *domain.MarketSnapshot
	if m.market != nil {
		snap = m.market.Get(p.Symbol)
	}
	var minImpact *float64
	if m.impacts != nil {
		v, err := m.impacts.MinPriceImpactSince(ctx, p.Contract, m.now().Add(-m.rules.ImpactWindow))
		if err != nil {
			log.WithError(err).Warn("price impact history unavailable")
		}
		minImpact = v
	}
	return m.rules.MarketStress(snap, p.EntryTxnsH1, minImpact)
}

// review re-consults the oracle at most once per review interval. The review
// time is persisted before the oracle call.
func (m *Manager) review(ctx context.Context, st *tracked, log logrus.FieldLogger) (bool, float64, error) {
	if m.oracle == nil || m.evidence == nil {
		return false, 0, nil
	}
	now := m.now()
	if last := st.pos.Meta.LastReviewAt; last != nil && now.Sub(*last) < m.reviewInterval {
		return false, 0, nil
	}

	st.pos.Meta.LastReviewAt = &now
	if err := m.updateMeta(ctx, st); err != nil {
		return false, 0, err
	}

	ev := m.evidence(st.pos.Symbol, st.pos.Contract)
	octx, cancel := context.WithTimeout(ctx, m.oracleTimeout)
	dec, err := m.oracle.Evaluate(octx, ev.Payload)
	cancel()
	if err != nil {
		log.WithError(err).Warn("review skipped")
		return false, ev.Score, nil
	}

	bearish := ev.Score < 0 || dec.IsBearish()
	downgrade := bearish && ev.Momentum < 0
	if downgrade {
		log.WithFields(logrus.Fields{
			"score":     ev.Score,
			"momentum":  ev.Momentum,
			"direction": dec.Direction,
			"action":    dec.TradeProposal.Action,
		}).Info("position downgraded")
	}
	return downgrade, ev.Score, nil
}

func (m *Manager) exitAll(ctx context.Context, st *tracked, reason string, fees execution.Fees, log logrus.FieldLogger) error {
	if _, err := m.exit(ctx, st, st.qty, reason, fees, log); err != nil {
		return err
	}
	return m.settle(ctx, st)
}

// exit sells qty through the executor and books the filled part. It reports
// whether anything was sold; the error is non-nil only for ledger failures.
func (m *Manager) exit(ctx context.Context, st *tracked, qty float64, reason string, fees execution.Fees, log logrus.FieldLogger) (bool, error) {
	if qty > st.qty {
		qty = st.qty
	}
	log = log.WithField("reason", reason)

	plan, err := execution.ToExitPlan(st.view(), qty, domain.AssetWSOL, fees)
	if errors.Is(err, execution.ErrDustQuantity) {
		// Nothing the venue can sell; book it at zero proceeds.
		return true, m.book(ctx, st, qty, reason, nil, log)
	}
	if err != nil {
		log.WithError(err).Warn("exit plan rejected")
		return false, nil
	}

	res, err := m.executor.Execute(ctx, plan)
	if err != nil {
		log.WithError(err).Error("exit failed")
		m.alert(ctx, fmt.Sprintf("exit %s %s failed: %v", reason, st.pos.Symbol, err))
		return false, nil
	}

	sold := qty * res.FilledFraction()
	if sold <= 0 {
		return false, nil
	}
	return true, m.book(ctx, st, sold, reason, res, log)
}

func (m *Manager) book(ctx context.Context, st *tracked, sold float64, reason string, res *execution.Result, log logrus.FieldLogger) error {
	frac := sold / st.qty
	rec := &domain.ExitRecord{
		PositionID:  st.pos.ID,
		Timestamp:   m.now(),
		Reason:      reason,
		Fraction:    frac,
		QtySold:     sold,
		ExpectedOut: st.mark * frac,
	}
	if res != nil {
		if exp := res.ExpectedOut(); exp > 0 {
			rec.ExpectedOut = exp
		}
		rec.RealizedOut = res.RealizedOut()
		rec.SlippagePct = res.AvgSlippagePct()
		rec.PriceImpactPct = res.AvgPriceImpactPct()
		rec.TxRef = strings.Join(res.TxRefs(), ",")
	}
	if err := m.ledger.Reduce(ctx, rec); err != nil {
		return fmt.Errorf("reduce position %d: %w", st.pos.ID, err)
	}

	pnl := rec.RealizedOut - st.invested*frac
	if m.breaker != nil {
		m.breaker.RecordTrade(ctx, pnl, st.pos.Contract)
	}
	m.metrics.RecordExit(reason)
	st.sold(sold)

	log.WithFields(logrus.Fields{
		"qty_sold": sold,
		"fraction": frac,
		"realized": rec.RealizedOut,
		"pnl":      pnl,
	}).Info("exit")
	m.alert(ctx, fmt.Sprintf("%s exit %.0f%% %s realized %.4f SOL (pnl %+.4f)",
		reason, frac*100, st.pos.Symbol, rec.RealizedOut, pnl))
	return nil
}

// settle persists the marks of a position that is still open after an exit.
func (m *Manager) settle(ctx context.Context, st *tracked) error {
	if !st.open() {
		return nil
	}
	return m.markChecked(ctx, st)
}

func (m *Manager) markChecked(ctx context.Context, st *tracked) error {
	if err := m.ledger.MarkChecked(ctx, st.pos.ID, st.hwm, st.hwmReturn, st.tp1, st.tp2); err != nil {
		return fmt.Errorf("mark position %d: %w", st.pos.ID, err)
	}
	return nil
}

func (m *Manager) updateMeta(ctx context.Context, st *tracked) error {
	if err := m.ledger.UpdateMeta(ctx, st.pos.ID, st.pos.Meta); err != nil {
		return fmt.Errorf("update position %d meta: %w", st.pos.ID, err)
	}
	return nil
}

func (m *Manager) alert(ctx context.Context, text string) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, text)
	}
}
