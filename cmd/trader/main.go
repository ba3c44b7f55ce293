// Command trader runs the hype-driven Solana trading bot and its admin tools.
//
// Usage:
//
//	trader run [--config path] [--addr :8000] [--storage memory|persistent]
//	trader migrate
//	trader positions | signals [--symbol X]
//	trader breaker status|reset|override --enabled=true
//	trader control [--dry-run=false] [--size-sol 0.05] [--enable rss] [--disable bluesky]
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"solana-hype-trader/internal/config"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/observability"
	"solana-hype-trader/internal/storage/migrations"
	pgstore "solana-hype-trader/internal/storage/postgres"
)

// Global flags.
var (
	configPath string
	envFile    string
	serverURL  string
)

// Run flags override the config file.
var (
	runAddr    string
	runStorage string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trader",
		Short:         "Social-hype driven Solana token trader",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_PATH or "+config.DefaultPath+")")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8000", "admin API of a running trader")

	root.AddCommand(runCmd(), migrateCmd())
	root.AddCommand(positionsCmd(), signalsCmd(), breakerCmd(), controlCmd())
	return root
}

// loadConfig loads the dotenv file and the config, applying flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	path := configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	changed := false
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr, changed = runAddr, true
	}
	if cmd.Flags().Changed("storage") {
		cfg.Storage.Mode, changed = runStorage, true
	}
	if changed {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop with the health, metrics and admin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&runAddr, "addr", "", "health/metrics/admin listen address")
	cmd.Flags().StringVar(&runStorage, "storage", "", "storage mode: memory or persistent")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Logging)
	log := logging.Component(logger, "main")

	a, err := newApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.stores.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newAdminServer(a, observability.Handler()).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("admin server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("admin server stopped")
		}
	}()

	go a.persistKeys(ctx, cfg.Loop.SnapshotInterval)

	err = a.orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Loop.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("admin server shutdown")
	}
	a.saveKeys(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres and ClickHouse schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg.Storage)
		},
	}
}

func migrate(ctx context.Context, cfg config.StorageConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("%s is required", config.EnvPostgresDSN)
	}
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return err
	}
	fmt.Println("postgres migrations applied")

	if cfg.ClickhouseDSN == "" {
		return nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Println("clickhouse migrations applied")
	return nil
}
