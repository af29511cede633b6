package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/screener/internal/backtest"
	"github.com/newthinker/screener/internal/metrics"
)

var (
	backtestFrom    string
	backtestTo      string
	backtestSymbols []string
	backtestJSON    bool
	backtestTrades  string
	metricsFile     string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a portfolio backtest of the configured strategy",
	Long: `Simulate the configured strategy over the universe between --from and --to
and print performance statistics. The report is archived when storage.archive
is configured.`,
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "start date YYYY-MM-DD (overrides backtest.start)")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "end date YYYY-MM-DD (overrides backtest.end)")
	backtestCmd.Flags().StringSliceVar(&backtestSymbols, "symbols", nil, "comma-separated symbols (overrides universe)")
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "print the full report as JSON")
	backtestCmd.Flags().StringVar(&backtestTrades, "trades-csv", "", "write closed trades to this CSV file")
	backtestCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	if backtestFrom != "" {
		cfg.Backtest.Start = backtestFrom
	}
	if backtestTo != "" {
		cfg.Backtest.End = backtestTo
	}
	if len(backtestSymbols) > 0 {
		cfg.Universe.Symbols = backtestSymbols
	}

	reg := metrics.NewRegistry()
	defer writeMetrics(reg, firstNonEmpty(metricsFile, cfg.Metrics.File))

	a, err := newApp(reg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	report, path, err := a.Backtest(ctx)
	if err != nil {
		if report == nil {
			return fmt.Errorf("backtest failed: %w", err)
		}
		log.Warn("report not archived", zap.Error(err))
	}

	out := cmd.OutOrStdout()
	if backtestJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else if err := backtest.WriteSummary(out, report); err != nil {
		return err
	}

	if backtestTrades != "" {
		f, err := os.Create(backtestTrades)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := backtest.WriteTradesCSV(f, report.Trades); err != nil {
			return err
		}
	}
	if path != "" {
		fmt.Fprintf(out, "\nReport archived to %s\n", path)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
