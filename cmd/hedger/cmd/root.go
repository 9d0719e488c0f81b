package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxhedge/config"
	"github.com/rustyeddy/fxhedge/internal/app"
	"github.com/rustyeddy/fxhedge/ledger"
	"github.com/rustyeddy/fxhedge/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "hedger",
	Short: "FX hedge reconciliation and end of day orchestration",
	Long: `Hedger runs and inspects the daily FX hedging cycle of corporate customers.

It provides tools for:
  - Starting, awaiting and ending a company's hedge cycle
  - Ticking the end of day scheduler for every configured company
  - Reporting positions, requests, orders and cycles from the ledger
  - Generating and validating configuration files

Secrets can be supplied through a .env file or the environment
(FXHEDGE_LEDGER_DSN, FXHEDGE_OANDA_TOKEN, FXHEDGE_TELEGRAM_TOKEN,
FXHEDGE_TELEGRAM_CHAT_ID, FXHEDGE_LOG_LEVEL).`,
	SilenceUsage: true,
}

var (
	configPath string
	envFile    string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "fxhedge.yaml", "config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file with secrets")
}

func loadConfig() (*config.Config, error) {
	config.LoadEnv(envFile)
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// open loads the config and wires the engine. The returned func closes it.
func open(ctx context.Context) (*app.Services, *ledger.DB, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, "console")
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	svc, err := app.New(cfg, log, nil, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	if err := svc.RefreshRates(ctx); err != nil {
		svc.Close()
		_ = db.Close()
		return nil, nil, nil, err
	}
	return svc, db, func() {
		svc.Close()
		_ = db.Close()
		_ = log.Sync()
	}, nil
}

// parseAt reads an RFC3339 time flag. Empty means now.
func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	return t.UTC(), nil
}
