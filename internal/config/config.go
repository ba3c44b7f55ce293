// Package config loads the trader configuration from YAML, .env files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"solana-hype-trader/internal/control"
	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/solana"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "config/config.yaml"

// Storage modes.
const (
	StorageMemory     = "memory"
	StoragePersistent = "persistent"
)

// Environment variables read by Load.
const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvPrivateKey    = "SOLANA_PRIVATE_KEY_B58"
	EnvAddress       = "SOLANA_ADDRESS"
	EnvRPCURL        = "SOLANA_RPC_URL"
	EnvPostgresDSN   = "POSTGRES_DSN"
	EnvClickhouseDSN = "CLICKHOUSE_DSN"
	EnvOracleKeys    = "ORACLE_API_KEYS"
	EnvTelegramToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChat  = "TELEGRAM_CHAT_ID"
)

// Config is the complete process configuration.
type Config struct {
	Logging   logging.Config  `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Solana    SolanaConfig    `yaml:"solana"`
	Hype      HypeConfig      `yaml:"hype"`
	Trading   TradingConfig   `yaml:"trading"`
	Positions PositionsConfig `yaml:"positions"`
	Risk      RiskConfig      `yaml:"risk"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Venue     VenueConfig     `yaml:"venue"`
	Sources   SourcesConfig   `yaml:"sources"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Loop      LoopConfig      `yaml:"loop"`
}

// ServerConfig configures the health, metrics and admin HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the storage backends.
type StorageConfig struct {
	Mode          string `yaml:"mode"` // memory or persistent
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"` // optional; signals stay in memory when empty
	BadgerPath    string `yaml:"badger_path"`
}

// SolanaConfig holds the wallet and RPC endpoint. The private key is only
// read from the environment.
type SolanaConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	Address       string `yaml:"address"`
	PrivateKeyB58 string `yaml:"-"`
}

// HypeConfig configures the hype aggregator.
type HypeConfig struct {
	Window      time.Duration `yaml:"window"`
	HistorySize int           `yaml:"history_size"`
}

// TradingConfig holds entry sizing and execution settings.
type TradingConfig struct {
	DryRun               bool    `yaml:"dry_run"`
	BaseAsset            string  `yaml:"base_asset"` // WSOL or USDC
	SizeSOL              float64 `yaml:"size_sol"`
	SizeUSDC             float64 `yaml:"size_usdc"`
	SlippagePct          float64 `yaml:"slippage_pct"`
	EmergencySlippagePct float64 `yaml:"emergency_slippage_pct"`
	AntiMEV              bool    `yaml:"anti_mev"`
	PriorityFeeSOL       float64 `yaml:"priority_fee_sol"`
	SplitThresholdPct    float64 `yaml:"split_threshold_pct"`
	MaxSplits            int     `yaml:"max_splits"`
	// USDCPerSOL converts USDC-denominated entries into WSOL cost. It is a
	// static approximation, not a live price.
	USDCPerSOL   float64       `yaml:"usdc_per_sol"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// PositionsConfig configures the position manager.
type PositionsConfig struct {
	Interval          time.Duration `yaml:"interval"`
	QuoteFailureLimit int           `yaml:"quote_failure_limit"`
	ReviewInterval    time.Duration `yaml:"review_interval"`
	KillTags          []string      `yaml:"kill_tags"`
}

// RiskConfig holds the circuit breaker, portfolio gate and pre-trade filters.
type RiskConfig struct {
	BreakerWindow    int           `yaml:"breaker_window"`
	BreakerMinTrades int           `yaml:"breaker_min_trades"`
	LossThreshold    float64       `yaml:"loss_threshold"`
	MaxDrawdown      float64       `yaml:"max_drawdown"`
	Cooldown         time.Duration `yaml:"cooldown"`

	MaxOpenPositions int     `yaml:"max_open_positions"`
	MaxPortfolioRisk float64 `yaml:"max_portfolio_risk"`
	MaxPositionPct   float64 `yaml:"max_position_pct"`

	BlockedMints    []string `yaml:"blocked_mints"`
	BlockedSymbols  []string `yaml:"blocked_symbols"`
	MaxSpreadBps    float64  `yaml:"max_spread_bps"`
	MinLiquidityUSD float64  `yaml:"min_liquidity_usd"`
	MinTxnsH1       int      `yaml:"min_txns_h1"`
}

// OracleConfig configures the decision oracle client.
type OracleConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	Temperature     float64       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
	APIKeys         []string      `yaml:"api_keys"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// VenueConfig configures the settlement router client.
type VenueConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
}

// SourcesConfig configures the event sources. Enabled flags are the initial
// runtime control state; they can be toggled while running.
type SourcesConfig struct {
	Bluesky    BlueskyConfig    `yaml:"bluesky"`
	RSS        RSSConfig        `yaml:"rss"`
	GoogleNews GoogleNewsConfig `yaml:"google_news"`
	Market     MarketConfig     `yaml:"market"`
}

type BlueskyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type RSSConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Feeds    []string      `yaml:"feeds"`
	Interval time.Duration `yaml:"interval"`
}

type GoogleNewsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Lang       string        `yaml:"lang"`
	Geo        string        `yaml:"geo"`
	CEID       string        `yaml:"ceid"`
	Interval   time.Duration `yaml:"interval"`
	MaxQueries int           `yaml:"max_queries"`
}

type MarketConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	MaxPools       int           `yaml:"max_pools"`
	MaxSymbols     int           `yaml:"max_symbols"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
}

// TelegramConfig configures alerts. Credentials come from the environment.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"-"`
	ChatID   string `yaml:"chat_id"`
}

// LoopConfig configures the orchestrator cycles.
type LoopConfig struct {
	DecisionInterval time.Duration `yaml:"decision_interval"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	TrimInterval     time.Duration `yaml:"trim_interval"`
	MaxCandidates    int           `yaml:"max_candidates"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging: logging.Config{Level: "info", Format: "text", Output: "stdout"},
		Server:  ServerConfig{Addr: ":8000"},
		Storage: StorageConfig{Mode: StorageMemory, BadgerPath: "data/state"},
		Hype:    HypeConfig{Window: 900 * time.Second, HistorySize: 180},
		Trading: TradingConfig{
			DryRun:               true,
			BaseAsset:            domain.AssetWSOL,
			SizeSOL:              0.02,
			SizeUSDC:             20,
			SlippagePct:          30,
			EmergencySlippagePct: 50,
			AntiMEV:              true,
			PriorityFeeSOL:       0.006,
			SplitThresholdPct:    15,
			MaxSplits:            3,
			USDCPerSOL:           150,
			PollTimeout:          60 * time.Second,
			PollInterval:         2 * time.Second,
		},
		Positions: PositionsConfig{
			Interval:          15 * time.Second,
			QuoteFailureLimit: 5,
			ReviewInterval:    5 * time.Minute,
			KillTags:          []string{"rug", "lp_pull", "honeypot", "dev_minted_more"},
		},
		Risk: RiskConfig{
			BreakerWindow:    20,
			BreakerMinTrades: 5,
			LossThreshold:    0.70,
			MaxDrawdown:      0.5,
			Cooldown:         4 * time.Hour,
			MaxOpenPositions: 5,
			MaxPortfolioRisk: 2.0,
			MaxPositionPct:   0.30,
			MaxSpreadBps:     1000,
			MinLiquidityUSD:  5000,
			MinTxnsH1:        5,
		},
		Oracle: OracleConfig{
			BaseURL:         "https://api.perplexity.ai",
			Model:           "sonar-small-online",
			Temperature:     0.2,
			Timeout:         60 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  60 * time.Second,
		},
		Venue: VenueConfig{
			BaseURL:        "https://gmgn.ai",
			Timeout:        20 * time.Second,
			RequestsPerSec: 2,
		},
		Sources: SourcesConfig{
			Bluesky:    BlueskyConfig{Enabled: true},
			RSS:        RSSConfig{Enabled: true, Interval: 60 * time.Second},
			GoogleNews: GoogleNewsConfig{Enabled: true, Lang: "en-US", Geo: "US", CEID: "US:en", Interval: 5 * time.Minute, MaxQueries: 20},
			Market:     MarketConfig{Enabled: true, Interval: 30 * time.Second, MaxPools: 10, MaxSymbols: 10, RequestsPerSec: 4},
		},
		Loop: LoopConfig{
			DecisionInterval: 15 * time.Second,
			SnapshotInterval: 60 * time.Second,
			TrimInterval:     60 * time.Second,
			MaxCandidates:    10,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Path returns CONFIG_PATH or DefaultPath.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath
}

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Solana.PrivateKeyB58, EnvPrivateKey)
	setString(&c.Solana.Address, EnvAddress)
	setString(&c.Solana.RPCURL, EnvRPCURL)
	setString(&c.Storage.PostgresDSN, EnvPostgresDSN)
	setString(&c.Storage.ClickhouseDSN, EnvClickhouseDSN)
	setString(&c.Telegram.BotToken, EnvTelegramToken)
	setString(&c.Telegram.ChatID, EnvTelegramChat)
	if v := os.Getenv(EnvOracleKeys); v != "" {
		c.Oracle.APIKeys = splitList(v)
	}
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Storage.Mode == StorageMemory || c.Storage.Mode == StoragePersistent,
		"storage.mode must be %q or %q, got %q", StorageMemory, StoragePersistent, c.Storage.Mode)
	if c.Storage.Mode == StoragePersistent {
		check(c.Storage.PostgresDSN != "", "storage.postgres_dsn is required in persistent mode")
		check(c.Storage.BadgerPath != "", "storage.badger_path is required in persistent mode")
	}

	check(c.Hype.Window > 0, "hype.window must be positive")
	check(c.Hype.HistorySize > 0, "hype.history_size must be positive")

	t := c.Trading
	check(t.BaseAsset == domain.AssetWSOL || t.BaseAsset == domain.AssetUSDC,
		"trading.base_asset must be %s or %s", domain.AssetWSOL, domain.AssetUSDC)
	check(t.SizeSOL >= 0 && t.SizeUSDC >= 0, "trading sizes must not be negative")
	check(t.SlippagePct > 0 && t.SlippagePct <= 100, "trading.slippage_pct must be in (0, 100]")
	check(t.EmergencySlippagePct >= t.SlippagePct && t.EmergencySlippagePct <= 100,
		"trading.emergency_slippage_pct must be in [slippage_pct, 100]")
	check(t.SplitThresholdPct > 0, "trading.split_threshold_pct must be positive")
	check(t.MaxSplits >= 1, "trading.max_splits must be at least 1")
	check(t.USDCPerSOL > 0, "trading.usdc_per_sol must be positive")
	check(t.PollTimeout > 0 && t.PollInterval > 0, "trading poll settings must be positive")

	check(c.Positions.Interval > 0, "positions.interval must be positive")
	check(c.Positions.QuoteFailureLimit >= 1, "positions.quote_failure_limit must be at least 1")
	check(c.Positions.ReviewInterval > 0, "positions.review_interval must be positive")

	r := c.Risk
	check(r.BreakerWindow >= 1 && r.BreakerMinTrades >= 1 && r.BreakerMinTrades <= r.BreakerWindow,
		"risk.breaker_min_trades must be in [1, breaker_window]")
	check(r.LossThreshold > 0 && r.LossThreshold <= 1, "risk.loss_threshold must be in (0, 1]")
	check(r.MaxDrawdown > 0, "risk.max_drawdown must be positive")
	check(r.Cooldown > 0, "risk.cooldown must be positive")
	check(r.MaxOpenPositions >= 1, "risk.max_open_positions must be at least 1")
	check(r.MaxPortfolioRisk > 0, "risk.max_portfolio_risk must be positive")
	check(r.MaxPositionPct > 0 && r.MaxPositionPct <= 1, "risk.max_position_pct must be in (0, 1]")

	check(c.Oracle.Timeout > 0, "oracle.timeout must be positive")

	l := c.Loop
	check(l.DecisionInterval > 0 && l.SnapshotInterval > 0 && l.TrimInterval > 0,
		"loop intervals must be positive")
	check(l.MaxCandidates >= 1, "loop.max_candidates must be at least 1")
	check(l.ShutdownTimeout > 0, "loop.shutdown_timeout must be positive")

	if c.Telegram.Enabled {
		check(c.Telegram.BotToken != "" && c.Telegram.ChatID != "",
			"telegram requires %s and %s", EnvTelegramToken, EnvTelegramChat)
	}

	if !t.DryRun {
		check(c.Solana.RPCURL != "", "live trading requires %s", EnvRPCURL)
		check(c.Solana.PrivateKeyB58 != "", "live trading requires %s", EnvPrivateKey)
		check(solana.IsValidAddress(c.Solana.Address) && solana.IsOnCurve(c.Solana.Address),
			"live trading requires a valid wallet %s, got %q", EnvAddress, c.Solana.Address)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ControlDefaults returns the initial runtime control state.
func (c *Config) ControlDefaults() control.State {
	return control.State{
		DryRun:   c.Trading.DryRun,
		SizeSOL:  c.Trading.SizeSOL,
		SizeUSDC: c.Trading.SizeUSDC,
		Sources:  c.sources(),
	}
}

func (c *Config) sources() map[string]bool {
	return map[string]bool{
		control.SourceBluesky:    c.Sources.Bluesky.Enabled,
		control.SourceRSS:        c.Sources.RSS.Enabled,
		control.SourceGoogleNews: c.Sources.GoogleNews.Enabled,
		control.SourceMarket:     c.Sources.Market.Enabled,
	}
}
