package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/newthinker/screener/internal/app"
	"github.com/newthinker/screener/internal/metrics"
)

var (
	screenDate    string
	screenSymbols []string
	screenJSON    bool
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Run the daily screen over the universe",
	Long: `Evaluate the most recent bar of every universe symbol, print the selected
ones and store all evaluated signals in the signal store.`,
	Args: cobra.NoArgs,
	RunE: runScreen,
}

func init() {
	screenCmd.Flags().StringVar(&screenDate, "date", "", "screening date YYYY-MM-DD (default today)")
	screenCmd.Flags().StringSliceVar(&screenSymbols, "symbols", nil, "comma-separated symbols (overrides universe)")
	screenCmd.Flags().BoolVar(&screenJSON, "json", false, "print the result as JSON")
	screenCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")

	rootCmd.AddCommand(screenCmd)
}

func runScreen(cmd *cobra.Command, args []string) error {
	asOf := time.Now()
	if screenDate != "" {
		d, err := time.Parse(time.DateOnly, screenDate)
		if err != nil {
			return fmt.Errorf("invalid date (expected YYYY-MM-DD): %w", err)
		}
		asOf = d
	}
	if len(screenSymbols) > 0 {
		cfg.Universe.Symbols = screenSymbols
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

	result, err := a.Screen(ctx, asOf)
	if err != nil {
		return fmt.Errorf("screen failed: %w", err)
	}

	if screenJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return app.WriteSelections(cmd.OutOrStdout(), result)
}
