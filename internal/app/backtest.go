package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/newthinker/screener/internal/backtest"
)

// Backtest simulates the configured strategy over the configured universe and
// archives the report when a report store is set. The archive path is empty
// when archiving is disabled.
func (a *App) Backtest(ctx context.Context) (*backtest.Report, string, error) {
	cfg, err := a.cfg.BacktestConfig()
	if err != nil {
		return nil, "", err
	}

	universe, err := a.Universe(ctx)
	if err != nil {
		return nil, "", err
	}
	a.metrics.SetUniverseSize(len(universe))
	if len(a.cfg.Universe.Symbols) == 0 {
		a.logger.Warn("sector universe uses current constituents; results carry survivorship bias",
			zap.Int("symbols", len(universe)))
	}
	symbols := make([]string, len(universe))
	for i, s := range universe {
		symbols[i] = s.Symbol
	}

	bt := backtest.New(a.provider, a.strategies,
		backtest.WithLogger(a.logger),
		backtest.WithMetrics(a.metrics),
		backtest.WithFetchWorkers(a.cfg.Data.FetchWorkers),
	)
	report, err := bt.Run(ctx, a.cfg.Strategy.Name, cfg, symbols)
	if err != nil {
		return nil, "", err
	}

	if a.reports == nil {
		return report, "", nil
	}
	path, err := a.reports.Save(ctx, report)
	if err != nil {
		a.logger.Error("report archive failed", zap.String("run_id", report.RunID), zap.Error(err))
		return report, "", err
	}
	return report, path, nil
}
