package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"solana-hype-trader/internal/config"
	"solana-hype-trader/internal/control"
	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/execution"
	"solana-hype-trader/internal/feeds"
	"solana-hype-trader/internal/hype"
	"solana-hype-trader/internal/ingestion"
	"solana-hype-trader/internal/notify"
	"solana-hype-trader/internal/observability"
	"solana-hype-trader/internal/oracle"
	"solana-hype-trader/internal/orchestrator"
	"solana-hype-trader/internal/position"
	"solana-hype-trader/internal/risk"
	"solana-hype-trader/internal/solana"
	"solana-hype-trader/internal/storage"
	"solana-hype-trader/internal/storage/badger"
	chstore "solana-hype-trader/internal/storage/clickhouse"
	"solana-hype-trader/internal/storage/memory"
	pgstore "solana-hype-trader/internal/storage/postgres"
	"solana-hype-trader/internal/venue/gmgn"
)

const metricsNamespace = "hype_trader"

// errNoWallet is returned when a live transaction must be signed without a key.
var errNoWallet = errors.New("no wallet key configured")

// stores holds the storage backends selected by the storage mode.
type stores struct {
	ledger     storage.Ledger
	executions storage.ExecutionStore
	signals    storage.SignalLog
	state      storage.StateStore
	closers    []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores creates the stores. Memory mode keeps everything in process;
// persistent mode uses Postgres for the ledger and executions, Badger for
// state and ClickHouse for the signal log when a DSN is configured.
func openStores(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (*stores, error) {
	if cfg.Mode != config.StoragePersistent {
		return &stores{
			ledger:     memory.NewLedger(),
			executions: memory.NewExecutionStore(),
			signals:    memory.NewSignalLog(),
			state:      memory.NewStateStore(),
		}, nil
	}

	s := &stores{}
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	s.closers = append(s.closers, pool.Close)
	s.ledger = pgstore.NewLedger(pool)
	s.executions = pgstore.NewExecutionStore(pool)

	state, err := badger.Open(badger.Options{Path: cfg.BadgerPath})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}
	s.closers = append(s.closers, func() {
		if err := state.Close(); err != nil {
			log.WithError(err).Warn("close state store")
		}
	})
	s.state = state

	if cfg.ClickhouseDSN == "" {
		log.Warn("clickhouse_dsn not set, signal log kept in memory")
		s.signals = memory.NewSignalLog()
		return s, nil
	}
	conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	s.closers = append(s.closers, func() { conn.Close() })
	s.signals = chstore.NewSignalLog(conn)
	return s, nil
}

// missingSigner rejects every signature request.
type missingSigner struct{}

func (missingSigner) SignTransaction(string) (string, error) { return "", errNoWallet }

// app is the fully wired trader.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	metrics *observability.Metrics
	stores  *stores

	control   *control.Control
	breaker   *risk.CircuitBreaker
	gate      *risk.PortfolioGate
	keys      *oracle.KeyRing
	signals   *orchestrator.Signals
	positions *position.Manager
	orch      *orchestrator.Orchestrator
	funding   *solana.Funding
}

// newApp wires every component from cfg. Persisted state (control, breaker,
// hype, author book, oracle keys) is restored before returning.
func newApp(ctx context.Context, cfg *config.Config, log *logrus.Logger, reg prometheus.Registerer) (*app, error) {
	metrics := observability.NewMetrics(metricsNamespace, reg)

	st, err := openStores(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, metrics: metrics, stores: st}
	if err := a.wire(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, log, metrics, st := a.cfg, a.log, a.metrics, a.stores

	a.control = control.New(cfg.ControlDefaults(), st.state)
	if err := a.control.Load(ctx); err != nil {
		return fmt.Errorf("load control state: %w", err)
	}

	a.breaker = risk.NewCircuitBreaker(risk.BreakerOptions{
		Config: risk.BreakerConfig{
			Window:        cfg.Risk.BreakerWindow,
			MinTrades:     cfg.Risk.BreakerMinTrades,
			LossThreshold: cfg.Risk.LossThreshold,
			MaxDrawdown:   cfg.Risk.MaxDrawdown,
			Cooldown:      cfg.Risk.Cooldown,
		},
		Store:   st.state,
		Logger:  log,
		Metrics: metrics,
	})
	if err := a.breaker.Load(ctx); err != nil {
		return fmt.Errorf("load breaker state: %w", err)
	}
	a.gate = risk.NewPortfolioGate(risk.GateConfig{
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		MaxPortfolioRisk: cfg.Risk.MaxPortfolioRisk,
		MaxPositionPct:   cfg.Risk.MaxPositionPct,
	}, st.ledger)

	agg := hype.NewAggregator(hype.Options{Window: cfg.Hype.Window, HistorySize: cfg.Hype.HistorySize})
	if err := agg.LoadState(ctx, st.state); err != nil {
		log.WithError(err).Warn("hype state not restored")
	}
	a.signals = &orchestrator.Signals{
		Hype:   agg,
		Market: feeds.NewMarketCache(),
		News:   feeds.NewNewsCache(feeds.NewsCacheOptions{}),
	}

	a.keys = oracle.NewKeyRing(cfg.Oracle.APIKeys, nil)
	if err := a.keys.Load(ctx, st.state); err != nil {
		log.WithError(err).Warn("oracle key state not restored")
	}
	oracleClient := oracle.NewClient(oracle.Options{
		BaseURL:         cfg.Oracle.BaseURL,
		Model:           cfg.Oracle.Model,
		Temperature:     cfg.Oracle.Temperature,
		Timeout:         cfg.Oracle.Timeout,
		Keys:            a.keys,
		Logger:          log,
		Metrics:         metrics,
		BreakerFailures: cfg.Oracle.BreakerFailures,
		BreakerTimeout:  cfg.Oracle.BreakerTimeout,
	})

	var notifier execution.Notifier = notify.NewLog(log)
	if cfg.Telegram.Enabled {
		notifier = notify.NewTelegram(notify.TelegramOptions{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			Logger:   log,
		})
	}

	var signer execution.Signer = missingSigner{}
	owner := cfg.Solana.Address
	if cfg.Solana.PrivateKeyB58 != "" {
		kp, err := solana.KeypairFromBase58(cfg.Solana.PrivateKeyB58)
		if err != nil {
			return fmt.Errorf("decode wallet key: %w", err)
		}
		if owner != "" && owner != kp.Address() {
			return fmt.Errorf("wallet key does not match %s", config.EnvAddress)
		}
		signer, owner = kp, kp.Address()
	}
	chain := solana.NewHTTPClient(cfg.Solana.RPCURL, solana.WithMetrics(metrics))
	if owner != "" {
		a.checkFunding(ctx, chain, owner, cfg.Trading.PriorityFeeSOL)
	}
	router := gmgn.NewClient(gmgn.Options{
		BaseURL:        cfg.Venue.BaseURL,
		Timeout:        cfg.Venue.Timeout,
		RequestsPerSec: cfg.Venue.RequestsPerSec,
		Logger:         log,
	})

	fees := execution.Fees{
		SlippagePct:          cfg.Trading.SlippagePct,
		EmergencySlippagePct: cfg.Trading.EmergencySlippagePct,
		AntiMEV:              cfg.Trading.AntiMEV,
		PriorityFeeSOL:       cfg.Trading.PriorityFeeSOL,
	}
	execOpts := execution.Options{
		Router:            router,
		Signer:            signer,
		Chain:             chain,
		Store:             st.executions,
		Notifier:          notifier,
		Logger:            log,
		Metrics:           metrics,
		Owner:             owner,
		BaseMint:          domain.MintForAsset(cfg.Trading.BaseAsset),
		SplitThresholdPct: cfg.Trading.SplitThresholdPct,
		MaxSplits:         cfg.Trading.MaxSplits,
		DryRun:            a.control.DryRun(),
		PollTimeout:       cfg.Trading.PollTimeout,
		PollInterval:      cfg.Trading.PollInterval,
	}
	entries := execution.NewExecutor(execOpts)
	// Exits of positions that exist are always live.
	execOpts.DryRun = false
	execOpts.BaseMint = domain.WSOLMint
	exits := execution.NewExecutor(execOpts)

	rules := position.DefaultRules()
	rules.MaxSpreadBps = cfg.Risk.MaxSpreadBps
	if len(cfg.Positions.KillTags) > 0 {
		rules.KillTags = cfg.Positions.KillTags
	}
	a.positions = position.NewManager(position.Options{
		Ledger:            st.ledger,
		Quoter:            router,
		Executor:          exits,
		Oracle:            oracleClient,
		Evidence:          a.signals.Evidence,
		Breaker:           a.breaker,
		Market:            a.signals.Market,
		Impacts:           st.executions,
		Notifier:          notifier,
		Logger:            log,
		Metrics:           metrics,
		Rules:             rules,
		Fees:              fees,
		Owner:             owner,
		QuoteFailureLimit: cfg.Positions.QuoteFailureLimit,
		ReviewInterval:    cfg.Positions.ReviewInterval,
		OracleTimeout:     cfg.Oracle.Timeout,
	})

	src := cfg.Sources
	jetOpts := ingestion.DefaultJetstreamOptions()
	if src.Bluesky.URL != "" {
		jetOpts.URL = src.Bluesky.URL
	}
	jetOpts.Logger, jetOpts.Metrics = log, metrics

	httpOpts := ingestion.HTTPOptions{RequestsPerSec: src.Market.RequestsPerSec}
	market := ingestion.NewMarketPoller(ingestion.MarketPollerOptions{
		Dex:        ingestion.NewDexScreener(httpOpts),
		Gecko:      ingestion.NewGeckoTerminal(ingestion.HTTPOptions{}),
		Symbols:    agg.Symbols,
		Interval:   src.Market.Interval,
		MaxPools:   src.Market.MaxPools,
		MaxSymbols: src.Market.MaxSymbols,
		Logger:     log,
		Metrics:    metrics,
	})

	a.orch = orchestrator.New(orchestrator.Options{
		Signals: a.signals,
		Social:  []ingestion.SocialSource{ingestion.NewJetstream(jetOpts)},
		News: []ingestion.NewsSource{
			ingestion.NewRSSPoller(ingestion.RSSOptions{
				Feeds:    src.RSS.Feeds,
				Interval: src.RSS.Interval,
				Logger:   log,
				Metrics:  metrics,
			}),
			ingestion.NewGoogleNewsPoller(ingestion.GoogleNewsOptions{
				Lang:       src.GoogleNews.Lang,
				Geo:        src.GoogleNews.Geo,
				CEID:       src.GoogleNews.CEID,
				Interval:   src.GoogleNews.Interval,
				MaxQueries: src.GoogleNews.MaxQueries,
				Symbols:    a.signals.Market.Symbols,
				Logger:     log,
				Metrics:    metrics,
			}),
		},
		Markets:   []ingestion.MarketSource{market},
		Oracle:    oracleClient,
		Executor:  entries,
		Positions: a.positions,
		Ledger:    st.ledger,
		SignalLog: st.signals,
		State:     st.state,
		Breaker:   a.breaker,
		Gate:      a.gate,
		Filters: risk.Filters{
			BlockedMints:    cfg.Risk.BlockedMints,
			BlockedSymbols:  cfg.Risk.BlockedSymbols,
			MaxSpreadBps:    cfg.Risk.MaxSpreadBps,
			MinLiquidityUSD: cfg.Risk.MinLiquidityUSD,
			MinTxnsH1:       cfg.Risk.MinTxnsH1,
		},
		Control:          a.control,
		Notifier:         notifier,
		Logger:           log,
		Metrics:          metrics,
		BaseAsset:        cfg.Trading.BaseAsset,
		Fees:             fees,
		Owner:            owner,
		USDCPerSOL:       cfg.Trading.USDCPerSOL,
		MaxCandidates:    cfg.Loop.MaxCandidates,
		DecisionInterval: cfg.Loop.DecisionInterval,
		PositionInterval: cfg.Positions.Interval,
		SnapshotInterval: cfg.Loop.SnapshotInterval,
		TrimInterval:     cfg.Loop.TrimInterval,
		OracleTimeout:    cfg.Oracle.Timeout,
		ShutdownTimeout:  cfg.Loop.ShutdownTimeout,
	})

	log.WithFields(logrus.Fields{
		"storage":     cfg.Storage.Mode,
		"dry_run":     a.control.DryRun(),
		"base_asset":  cfg.Trading.BaseAsset,
		"owner":       owner,
		"oracle_keys": a.keys.Len(),
	}).Info("trader wired")
	return nil
}

// checkFunding verifies that the wallet can pay for one SOL-sized entry.
// The result is kept for /status; a short wallet only warns.
func (a *app) checkFunding(ctx context.Context, rpc solana.BalanceReader, owner string, feeSOL float64) {
	ctx, cancel := context.WithTimeout(ctx, solana.DefaultTimeout)
	defer cancel()

	sizeSOL, _ := a.control.Sizes()
	f := solana.CheckFunding(ctx, rpc, owner, sizeSOL+feeSOL)
	a.funding = &f

	log := a.log.WithFields(logrus.Fields{"owner": owner, "balance_sol": f.BalanceSOL, "required_sol": f.Required})
	switch {
	case f.Error != "":
		log.WithField("error", f.Error).Warn("wallet balance check failed")
	case !f.Sufficient:
		log.Warn("wallet balance below entry size")
	}
}

// saveKeys persists the oracle key ring.
func (a *app) saveKeys(ctx context.Context) {
	if err := a.keys.Save(ctx, a.stores.state); err != nil {
		a.log.WithError(err).Warn("save oracle key state")
	}
}

// persistKeys saves the key ring every interval until ctx is done.
func (a *app) persistKeys(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.saveKeys(ctx)
		}
	}
}
