package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/screener/internal/app"
	"github.com/newthinker/screener/internal/config"
	"github.com/newthinker/screener/internal/logger"
	"github.com/newthinker/screener/internal/metrics"
)

var (
	cfgFile string
	envFile string
	debug   bool

	cfg *config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "screener",
	Short: "Trend-pullback stock screener and portfolio backtester",
	Long: `screener selects stocks in an established uptrend that made a recent high,
pulled back and stabilized, and backtests the rule as a daily portfolio with a
trailing stop and weekly rebalancing. A-shares come from Eastmoney, US equities
from Alpaca.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

// setup loads the environment, configuration and logger for every command.
func setup(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if debug {
		cfg.Log.Development = true
		cfg.Log.Level = "debug"
	}

	log, err = logger.New(cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		return err
	}
	if cfgFile == "" {
		log.Debug("no config file specified, using defaults")
	}
	return nil
}

// newApp validates the configuration and wires the application.
func newApp(reg *metrics.Registry) (*app.App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return app.NewFromConfig(cfg, log, reg)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// writeMetrics exports the registry when a textfile path is configured.
func writeMetrics(reg *metrics.Registry, path string) {
	if path == "" || !cfg.Metrics.Enabled {
		return
	}
	if err := reg.WriteTextfile(path); err != nil {
		log.Warn("metrics export failed", zap.String("path", path), zap.Error(err))
		return
	}
	log.Debug("metrics written", zap.String("path", path))
}

func main() {
	defer func() {
		if log != nil {
			_ = log.Sync()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
