package ingestion

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/observability"
	"solana-hype-trader/internal/solana"
)

// Market poller defaults.
const (
	DefaultMarketInterval = 30 * time.Second
	DefaultMaxPools       = 10
	DefaultMaxSymbols     = 10
	sourceMarket          = "dexscreener"
)

// MarketPollerOptions configures a MarketPoller.
type MarketPollerOptions struct {
	Dex   *DexScreener
	Gecko *GeckoTerminal // optional trending pool discovery

	// Symbols lists extra symbols to price, typically the current hype
	// candidates. Optional.
	Symbols func() []string

	Interval   time.Duration
	MaxPools   int
	MaxSymbols int

	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// MarketPoller refreshes market snapshots for trending pools and hype
// candidates.
type MarketPoller struct {
	dex        *DexScreener
	gecko      *GeckoTerminal
	symbols    func() []string
	interval   time.Duration
	maxPools   int
	maxSymbols int
	log        logrus.FieldLogger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewMarketPoller creates a MarketPoller.
func NewMarketPoller(opts MarketPollerOptions) *MarketPoller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultMarketInterval
	}
	if opts.MaxPools <= 0 {
		opts.MaxPools = DefaultMaxPools
	}
	if opts.MaxSymbols <= 0 {
		opts.MaxSymbols = DefaultMaxSymbols
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MarketPoller{
		dex:        opts.Dex,
		gecko:      opts.Gecko,
		symbols:    opts.Symbols,
		interval:   opts.Interval,
		maxPools:   opts.MaxPools,
		maxSymbols: opts.MaxSymbols,
		log:        logging.Component(opts.Logger, "market"),
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
}

// Name returns "dexscreener".
func (p *MarketPoller) Name() string {
	return sourceMarket
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *MarketPoller) Run(ctx context.Context, out chan<- *domain.MarketSnapshot) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		for _, snap := range p.Poll(ctx) {
			if !send(ctx, out, snap) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll fetches one round of snapshots. Failures of single pools or symbols
// are logged and skipped.
func (p *MarketPoller) Poll(ctx context.Context) []*domain.MarketSnapshot {
	var out []*domain.MarketSnapshot
	seen := make(map[string]struct{})

	if p.gecko != nil {
		pools, err := p.gecko.Trending(ctx)
		if err != nil {
			p.fail(err, "trending pools unavailable", nil)
		}
		if len(pools) > p.maxPools {
			pools = pools[:p.maxPools]
		}
		for _, pool := range pools {
			if snap := p.pool(ctx, pool); snap != nil {
				seen[snap.Symbol] = struct{}{}
				out = append(out, snap)
			}
		}
	}

	if p.symbols != nil {
		n := 0
		for _, sym := range p.symbols() {
			if n >= p.maxSymbols || ctx.Err() != nil {
				break
			}
			sym = strings.ToUpper(sym)
			if _, ok := seen[sym]; ok {
				continue
			}
			n++
			pairs, err := p.dex.Search(ctx, sym)
			if err != nil {
				p.fail(err, "symbol search failed", logrus.Fields{"symbol": sym})
				continue
			}
			best := BestPair(pairs, sym)
			if best == nil || !solana.IsValidAddress(best.BaseToken.Address) {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, SnapshotFromPair(sym, best.BaseToken.Address, best, p.now()))
		}
	}

	for range out {
		p.metrics.RecordMarketSnapshot()
	}
	return out
}

func (p *MarketPoller) pool(ctx context.Context, pool GeckoPool) *domain.MarketSnapshot {
	symbol := pool.Symbol
	contract := pool.Contract
	if symbol == "" {
		return nil
	}
	fields := logrus.Fields{"symbol": symbol}

	if !solana.IsValidAddress(contract) {
		pairs, err := p.dex.Search(ctx, symbol)
		if err != nil {
			p.fail(err, "symbol search failed", fields)
			return nil
		}
		best := BestPair(pairs, "")
		if best == nil || !solana.IsValidAddress(best.BaseToken.Address) {
			return nil
		}
		contract = best.BaseToken.Address
	}

	pairs, err := p.dex.TokenPairs(ctx, contract)
	if err != nil {
		p.fail(err, "token pairs unavailable", fields)
	}
	if best := BestPair(pairs, ""); best != nil {
		return SnapshotFromPair(symbol, contract, best, p.now())
	}
	return &domain.MarketSnapshot{
		Symbol:       symbol,
		Contract:     contract,
		LiquidityUSD: pool.LiquidityUSD,
		Volume1h:     pool.Volume1h,
		UpdatedAt:    p.now().UTC(),
	}
}

func (p *MarketPoller) fail(err error, msg string, fields logrus.Fields) {
	if err == nil {
		return
	}
	p.metrics.RecordIngestionError(sourceMarket)
	p.log.WithFields(fields).WithError(err).Warn(msg)
}

// SnapshotFromPair builds a snapshot from a DexScreener pair. Percent price
// changes become fractions; the hourly transaction count sums buys and sells.
func SnapshotFromPair(symbol, contract string, p *Pair, now time.Time) *domain.MarketSnapshot {
	snap := &domain.MarketSnapshot{
		Symbol:       strings.ToUpper(symbol),
		Contract:     contract,
		LiquidityUSD: p.Liquidity.USD.Value,
		Volume1h:     p.Volume.H1.Value,
		Return5m:     p.PriceChange.M5.ptr(0.01),
		Return1h:     p.PriceChange.H1.ptr(0.01),
		UpdatedAt:    now.UTC(),
	}
	if p.Txns.H1 != nil {
		n := p.Txns.H1.Buys + p.Txns.H1.Sells
		snap.TxnsH1 = &n
	}
	switch {
	case p.Spread.Valid:
		snap.SpreadBps = p.Spread.ptr(100)
	case p.PriceSpread.Valid:
		snap.SpreadBps = p.PriceSpread.ptr(100)
	}
	return snap
}
