package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/idhash"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/observability"
	"solana-hype-trader/internal/storage"
)

// Default executor settings.
const (
	DefaultSplitThresholdPct = 15.0
	DefaultMaxSplits         = 3
	DefaultCallTimeout       = 20 * time.Second
	DefaultPollTimeout       = 60 * time.Second
	DefaultPollInterval      = 2 * time.Second
)

// Options configures an Executor.
type Options struct {
	Router   Router
	Signer   Signer
	Chain    Chain
	Store    storage.ExecutionStore
	Notifier Notifier // optional
	Logger   logrus.FieldLogger
	Metrics  *observability.Metrics

	Owner             string  // trading wallet address
	BaseMint          string  // default domain.WSOLMint
	SplitThresholdPct float64 // default DefaultSplitThresholdPct
	MaxSplits         int     // default DefaultMaxSplits; 1 disables splitting
	DryRun            bool

	CallTimeout  time.Duration // per router/RPC call
	PollTimeout  time.Duration // total settlement wait per split
	PollInterval time.Duration
	Now          func() time.Time
}

// Executor executes plans against the router, one split at a time.
type Executor struct {
	router   Router
	signer   Signer
	chain    Chain
	store    storage.ExecutionStore
	notifier Notifier
	log      logrus.FieldLogger
	metrics  *observability.Metrics

	owner     string
	baseMint  string
	threshold float64
	maxSplits int
	dryRun    atomic.Bool

	callTimeout  time.Duration
	pollTimeout  time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(opts Options) *Executor {
	if opts.BaseMint == "" {
		opts.BaseMint = domain.WSOLMint
	}
	if opts.SplitThresholdPct <= 0 {
		opts.SplitThresholdPct = DefaultSplitThresholdPct
	}
	if opts.MaxSplits <= 0 {
		opts.MaxSplits = DefaultMaxSplits
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Executor{
		router:       opts.Router,
		signer:       opts.Signer,
		chain:        opts.Chain,
		store:        opts.Store,
		notifier:     opts.Notifier,
		log:          logging.Component(opts.Logger, "executor"),
		metrics:      opts.Metrics,
		owner:        opts.Owner,
		baseMint:     opts.BaseMint,
		threshold:    opts.SplitThresholdPct,
		maxSplits:    opts.MaxSplits,
		callTimeout:  opts.CallTimeout,
		pollTimeout:  opts.PollTimeout,
		pollInterval: opts.PollInterval,
		now:          opts.Now,
	}
	e.dryRun.Store(opts.DryRun)
	return e
}

// SetDryRun switches simulation mode on or off.
func (e *Executor) SetDryRun(v bool) {
	e.dryRun.Store(v)
}

// DryRun reports whether the executor is in simulation mode.
func (e *Executor) DryRun() bool {
	return e.dryRun.Load()
}

// SplitResult is the outcome of one split.
type SplitResult struct {
	Index          int
	AmountIn       uint64
	QuoteID        string
	TxRef          string
	Status         string   // domain.FillStatus*
	ExpectedOut    *float64 // UI units of the out token
	RealizedOut    float64  // UI units of the out token, never negative
	OutDecimals    int
	SlippagePct    *float64
	PriceImpactPct *float64 // from pool reserve deltas
	Err            error
}

// OK reports whether the split settled (or was simulated).
func (s *SplitResult) OK() bool {
	return s.Err == nil
}

// Result aggregates the splits of one execution.
type Result struct {
	ExecutionID string
	Plan        domain.ExecutionPlan
	Splits      []SplitResult
	TotalIn     float64 // base asset spent by settled splits, human units
	Failed      int
	DryRun      bool
}

// RealizedOut sums the realized output of successful splits.
func (r *Result) RealizedOut() float64 {
	total := 0.0
	for i := range r.Splits {
		if r.Splits[i].OK() {
			total += r.Splits[i].RealizedOut
		}
	}
	return total
}

// ExpectedOut sums the expected output of successful splits.
func (r *Result) ExpectedOut() float64 {
	total := 0.0
	for i := range r.Splits {
		if r.Splits[i].OK() && r.Splits[i].ExpectedOut != nil {
			total += *r.Splits[i].ExpectedOut
		}
	}
	return total
}

// FilledFraction is the share of the planned input amount that executed.
func (r *Result) FilledFraction() float64 {
	if r.Plan.AmountIn == 0 {
		return 0
	}
	var filled uint64
	for i := range r.Splits {
		if r.Splits[i].OK() {
			filled += r.Splits[i].AmountIn
		}
	}
	return float64(filled) / float64(r.Plan.AmountIn)
}

// OutDecimals returns the out-token decimals observed on chain, or -1.
func (r *Result) OutDecimals() int {
	for i := range r.Splits {
		if r.Splits[i].OK() && r.Splits[i].OutDecimals > 0 {
			return r.Splits[i].OutDecimals
		}
	}
	return -1
}

// AvgSlippagePct averages the slippage of successful splits, or nil.
func (r *Result) AvgSlippagePct() *float64 {
	return avg(r.Splits, func(s *SplitResult) *float64 { return s.SlippagePct })
}

// AvgPriceImpactPct averages the pool price impact of successful splits, or nil.
func (r *Result) AvgPriceImpactPct() *float64 {
	return avg(r.Splits, func(s *SplitResult) *float64 { return s.PriceImpactPct })
}

// TxRefs lists the settlement references of successful splits.
func (r *Result) TxRefs() []string {
	var refs []string
	for i := range r.Splits {
		if r.Splits[i].OK() && r.Splits[i].TxRef != "" {
			refs = append(refs, r.Splits[i].TxRef)
		}
	}
	return refs
}

func avg(splits []SplitResult, get func(*SplitResult) *float64) *float64 {
	sum, n := 0.0, 0
	for i := range splits {
		if !splits[i].OK() {
			continue
		}
		if v := get(&splits[i]); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	v := sum / float64(n)
	return &v
}

// Execute runs the plan. A baseline quote sizes the split count; each split
// is then quoted, persisted, and unless in dry-run signed, submitted and
// reconciled against on-chain balances. Split failures do not stop the
// remaining splits. When every split fails the result is returned together
// with ErrAllSplitsFailed.
func (e *Executor) Execute(ctx context.Context, plan domain.ExecutionPlan) (*Result, error) {
	if plan.AmountIn == 0 {
		return nil, fmt.Errorf("execute %s: %w", plan.Symbol, ErrInvalidQuantity)
	}

	dryRun := e.DryRun()
	started := e.now()
	res := &Result{
		ExecutionID: idhash.ComputeExecutionID(string(plan.Side), plan.InToken, plan.OutToken, plan.AmountIn, started.UnixMilli()),
		Plan:        plan,
		DryRun:      dryRun,
	}
	log := e.log.WithFields(logrus.Fields{
		"symbol":       plan.Symbol,
		"side":         plan.Side,
		"execution_id": res.ExecutionID,
	})

	baseline, err := e.quote(ctx, plan, plan.AmountIn)
	if err != nil {
		return nil, fmt.Errorf("baseline quote: %w", err)
	}
	impact, _ := baseline.PriceImpact()
	parts := SplitAmounts(plan.AmountIn, SplitCount(impact, e.threshold, e.maxSplits))
	if len(parts) > 1 {
		log.WithFields(logrus.Fields{"price_impact": impact, "splits": len(parts)}).Info("splitting order")
	}

	for i, amount := range parts {
		split := e.executeSplit(ctx, plan, res.ExecutionID, i, amount, dryRun)
		if split.Err != nil {
			res.Failed++
			log.WithFields(logrus.Fields{"split": i, "amount": amount}).WithError(split.Err).Warn("split failed")
			e.metrics.RecordSplit(domain.FillStatusFailed)
		} else {
			e.metrics.RecordSplit(split.Status)
			if split.Status == domain.FillStatusConfirmed && plan.InToken == e.baseMint {
				res.TotalIn += FromUnits(amount, domain.DecimalsForMint(e.baseMint, domain.WSOLDecimals))
			}
		}
		res.Splits = append(res.Splits, split)
	}

	switch {
	case res.Failed == len(parts):
		return res, fmt.Errorf("execute %s: %w", plan.Symbol, ErrAllSplitsFailed)
	case res.Failed > 0:
		log.WithFields(logrus.Fields{"failed": res.Failed, "splits": len(parts)}).Warn("partial execution")
		e.alert(ctx, fmt.Sprintf("partial execution %s %s: %d/%d splits failed", plan.Side, plan.Symbol, res.Failed, len(parts)))
	}
	return res, nil
}

func (e *Executor) executeSplit(ctx context.Context, plan domain.ExecutionPlan, execID string, idx int, amount uint64, dryRun bool) SplitResult {
	split := SplitResult{Index: idx, AmountIn: amount, OutDecimals: plan.OutDecimals}

	q, err := e.quote(ctx, plan, amount)
	if err != nil {
		split.Err = fmt.Errorf("quote: %w", err)
		return split
	}
	split.QuoteID = e.saveQuote(ctx, plan, amount, q)

	expRaw, hasExp := q.ExpectedOut()
	fill := &domain.FillRecord{
		ID:        idhash.ComputeFillID(execID, idx, amount),
		QuoteID:   split.QuoteID,
		CreatedAt: e.now(),
		Side:      plan.Side,
		Symbol:    plan.Symbol,
		Contract:  plan.Contract,
		InToken:   plan.InToken,
		OutToken:  plan.OutToken,
		AmountIn:  amount,
	}

	if dryRun {
		if hasExp {
			exp := scaleDown(expRaw, plan.OutDecimals)
			split.ExpectedOut = &exp
			split.RealizedOut = exp
		}
		split.Status = domain.FillStatusSimulated
		fill.Status = split.Status
		fill.ExpectedOut = split.ExpectedOut
		fill.RealizedOut = split.ExpectedOut
		e.saveFill(ctx, fill)
		return split
	}

	if q.UnsignedTx == "" {
		split.Err = errors.New("quote has no transaction")
		return split
	}
	signed, err := e.signer.SignTransaction(q.UnsignedTx)
	if err != nil {
		split.Err = fmt.Errorf("sign: %w", err)
		return split
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	ref, err := e.router.Submit(callCtx, signed, plan.AntiMEV)
	cancel()
	if err != nil {
		split.Err = fmt.Errorf("submit: %w", err)
		return split
	}
	split.TxRef = ref
	fill.TxRef = ref

	status, err := e.waitSettled(ctx, ref, q.LastValidHeight)
	if err != nil || status != TxConfirmed {
		fill.Status = domain.FillStatusFailed
		if status == TxExpired {
			fill.Status = domain.FillStatusExpired
		}
		e.saveFill(ctx, fill)
		if err == nil {
			err = fmt.Errorf("%w: %s", ErrSettlement, status)
		}
		split.Err = fmt.Errorf("settle %s: %w", ref, err)
		return split
	}
	split.Status = domain.FillStatusConfirmed
	fill.Status = split.Status

	e.reconcile(ctx, plan, &split, expRaw, hasExp)
	fill.ExpectedOut = split.ExpectedOut
	realized := split.RealizedOut
	fill.RealizedOut = &realized
	fill.SlippagePct = split.SlippagePct
	fill.AMMPriceImpact = split.PriceImpactPct
	e.saveFill(ctx, fill)
	return split
}

// reconcile fills realized output, slippage and pool impact from the settled
// transaction's token balances. Missing balances leave realized output at 0.
func (e *Executor) reconcile(ctx context.Context, plan domain.ExecutionPlan, split *SplitResult, expRaw float64, hasExp bool) {
	log := e.log.WithFields(logrus.Fields{"symbol": plan.Symbol, "split": split.Index, "tx": split.TxRef})

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	balances, err := e.chain.TransactionBalances(callCtx, split.TxRef)
	cancel()
	if err != nil {
		log.WithError(err).Warn("fetch settled transaction failed")
		balances = nil
	}

	delta, decimals, found := OwnerDelta(balances, e.owner, plan.OutToken)
	if found {
		split.OutDecimals = decimals
	} else {
		log.Warn("no owner balance for out token in settled transaction")
	}
	if delta < 0 {
		log.WithField("delta", delta).Warn("negative realized output, clamped to zero")
		e.alert(ctx, fmt.Sprintf("negative realized output on %s %s tx %s: %g", plan.Side, plan.Symbol, split.TxRef, delta))
		delta = 0
	}
	split.RealizedOut = delta

	if hasExp {
		exp := scaleDown(expRaw, split.OutDecimals)
		split.ExpectedOut = &exp
		if exp > 0 {
			slip := (exp - delta) / exp * 100
			split.SlippagePct = &slip
		}
	}
	split.PriceImpactPct = PoolPriceImpact(balances, e.owner)
}

func (e *Executor) quote(ctx context.Context, plan domain.ExecutionPlan, amount uint64) (*Quote, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.router.Quote(callCtx, QuoteRequest{
		InToken:        plan.InToken,
		OutToken:       plan.OutToken,
		Amount:         amount,
		Trader:         e.owner,
		SlippagePct:    plan.SlippagePct,
		AntiMEV:        plan.AntiMEV,
		PriorityFeeSOL: plan.PriorityFeeSOL,
	})
}

// waitSettled polls the router until the transaction is confirmed, failed or
// expired, or the poll timeout elapses (reported as expired).
func (e *Executor) waitSettled(ctx context.Context, ref string, lastValidHeight uint64) (TxStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, e.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		status, err := e.router.Status(pollCtx, ref, lastValidHeight)
		if err == nil && status != TxPending && status != "" {
			return status, nil
		}
		if err != nil {
			e.log.WithField("tx", ref).WithError(err).Debug("status poll failed")
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return TxPending, ctx.Err()
			}
			return TxExpired, nil
		case <-ticker.C:
		}
	}
}

func (e *Executor) saveQuote(ctx context.Context, plan domain.ExecutionPlan, amount uint64, q *Quote) string {
	rec := &domain.QuoteRecord{
		ID:          uuid.NewString(),
		CreatedAt:   e.now(),
		InToken:     plan.InToken,
		OutToken:    plan.OutToken,
		AmountIn:    amount,
		SlippagePct: plan.SlippagePct,
		Raw:         q.Raw,
	}
	if v, ok := q.ExpectedOut(); ok {
		rec.ExpectedOut = &v
	}
	if v, ok := q.PriceImpact(); ok {
		rec.PriceImpactPct = &v
	}
	if rec.Raw == nil && q.Fields != nil {
		if raw, err := json.Marshal(q.Fields); err == nil {
			rec.Raw = raw
		}
	}
	if e.store == nil {
		return rec.ID
	}
	if err := e.store.SaveQuote(ctx, rec); err != nil {
		e.log.WithFields(logrus.Fields{"symbol": plan.Symbol, "quote_id": rec.ID}).WithError(err).Warn("persist quote failed")
	}
	return rec.ID
}

func (e *Executor) saveFill(ctx context.Context, f *domain.FillRecord) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveFill(ctx, f); err != nil {
		e.log.WithFields(logrus.Fields{"symbol": f.Symbol, "fill_id": f.ID}).WithError(err).Warn("persist fill failed")
	}
}

func (e *Executor) alert(ctx context.Context, text string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, text)
}

func scaleDown(units float64, decimals int) float64 {
	if decimals <= 0 {
		return units
	}
	return units / math.Pow10(decimals)
}
