package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wallet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Trading.DryRun)
	assert.Equal(t, 900*time.Second, cfg.Hype.Window)
	assert.Equal(t, 180, cfg.Hype.HistorySize)
	assert.Equal(t, 0.02, cfg.Trading.SizeSOL)
	assert.Equal(t, 3, cfg.Trading.MaxSplits)
	assert.Equal(t, 15*time.Second, cfg.Positions.Interval)
	assert.Equal(t, 4*time.Hour, cfg.Risk.Cooldown)
	assert.Equal(t, StorageMemory, cfg.Storage.Mode)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
trading:
  size_sol: 0.5
  max_splits: 5
positions:
  interval: 30s
risk:
  blocked_symbols: [SCAM, RUG]
sources:
  bluesky:
    enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Trading.SizeSOL)
	assert.Equal(t, 5, cfg.Trading.MaxSplits)
	assert.Equal(t, 30.0, cfg.Trading.SlippagePct, "unset keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Positions.Interval)
	assert.Equal(t, []string{"SCAM", "RUG"}, cfg.Risk.BlockedSymbols)

	ctl := cfg.ControlDefaults()
	assert.False(t, ctl.Sources["bluesky"])
	assert.True(t, ctl.Sources["rss"])
	assert.Equal(t, 0.5, ctl.SizeSOL)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "trading: [not, a, map")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPostgresDSN, "postgres://env")
	t.Setenv(EnvOracleKeys, "k1, k2,,k3")
	t.Setenv(EnvTelegramToken, "bot-token")
	t.Setenv(EnvTelegramChat, "42")

	path := writeFile(t, "config.yaml", "storage:\n  postgres_dsn: postgres://file\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.Storage.PostgresDSN)
	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.Oracle.APIKeys)
	assert.Equal(t, "bot-token", cfg.Telegram.BotToken)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"max splits", func(c *Config) { c.Trading.MaxSplits = 0 }, "max_splits"},
		{"interval", func(c *Config) { c.Positions.Interval = 0 }, "positions.interval"},
		{"storage mode", func(c *Config) { c.Storage.Mode = "disk" }, "storage.mode"},
		{"persistent needs dsn", func(c *Config) { c.Storage.Mode = StoragePersistent }, "postgres_dsn"},
		{"emergency below base", func(c *Config) { c.Trading.EmergencySlippagePct = 10 }, "emergency_slippage_pct"},
		{"telegram credentials", func(c *Config) { c.Telegram.Enabled = true }, "TELEGRAM_BOT_TOKEN"},
		{"live without wallet", func(c *Config) { c.Trading.DryRun = false }, "SOLANA_RPC_URL"},
		{"live with wallet", func(c *Config) {
			c.Trading.DryRun = false
			c.Solana.RPCURL = "http://rpc"
			c.Solana.PrivateKeyB58 = "secret"
			c.Solana.Address = wallet
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Trading.MaxSplits = 0
	cfg.Loop.MaxCandidates = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "max_splits") && strings.Contains(err.Error(), "max_candidates"), err.Error())
}

func TestLoadEnv(t *testing.T) {
	const key = "HYPE_TRADER_CONFIG_TEST"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeFile(t, ".env", key+"=from-dotenv\n")
	require.NoError(t, LoadEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-dotenv", os.Getenv(key))
}

func TestPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, Path())
	t.Setenv(EnvConfigPath, "/etc/trader.yaml")
	assert.Equal(t, "/etc/trader.yaml", Path())
}
