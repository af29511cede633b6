package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/metrics"
	"github.com/newthinker/screener/internal/strategy"
)

// OHLCVProvider defines the interface for fetching historical OHLCV data
type OHLCVProvider interface {
	FetchHistory(symbol string, start, end time.Time, interval string) ([]core.OHLCV, error)
}

// DefaultFetchWorkers bounds concurrent history requests.
const DefaultFetchWorkers = 4

// Backtester runs portfolio backtests of a strategy over a universe
type Backtester struct {
	provider OHLCVProvider
	engine   *strategy.Engine
	logger   *zap.Logger
	metrics  *metrics.Registry
	workers  int
}

// Option configures a Backtester.
type Option func(*Backtester)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backtester) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(b *Backtester) {
		b.metrics = m
	}
}

// WithFetchWorkers sets the number of concurrent history requests.
func WithFetchWorkers(n int) Option {
	return func(b *Backtester) {
		if n > 0 {
			b.workers = n
		}
	}
}

// New creates a new Backtester with the given OHLCV provider and strategy
// engine
func New(provider OHLCVProvider, engine *strategy.Engine, opts ...Option) *Backtester {
	b := &Backtester{
		provider: provider,
		engine:   engine,
		logger:   zap.NewNop(),
		workers:  DefaultFetchWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WarmupDays is the number of calendar days of history requested before the
// start date, so indicators are defined on the first simulated day.
func WarmupDays(s strategy.Strategy) int {
	w := s.RequiredData().Windows
	return max(w.MATrend, w.HighWindow) * 2
}

// Run executes a backtest of the named strategy over symbols between
// cfg.Start and cfg.End.
func (b *Backtester) Run(ctx context.Context, strategyName string, cfg Config, symbols []string) (*Report, error) {
	started := time.Now()
	report, err := b.run(ctx, strategyName, cfg, symbols)

	status := "success"
	if err != nil {
		status = "failed"
		if errors.Is(err, core.ErrBacktestCancelled) || errors.Is(err, context.Canceled) {
			status = "cancelled"
		}
	}
	b.metrics.RecordBacktest(status, time.Since(started).Seconds())
	return report, err
}

func (b *Backtester) run(ctx context.Context, strategyName string, cfg Config, symbols []string) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Start.IsZero() || cfg.End.IsZero() {
		return nil, core.WrapError(core.ErrConfigMissing, errors.New("backtest start and end dates are required"))
	}

	strat, ok := b.engine.Get(strategyName)
	if !ok {
		return nil, core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("%q", strategyName))
	}

	fetchStart := cfg.Start.AddDate(0, 0, -WarmupDays(strat))
	histories, dropped, err := b.fetch(ctx, symbols, fetchStart, cfg.End)
	if err != nil {
		return nil, err
	}
	if len(histories) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("none of %d symbols returned usable data", len(symbols)))
	}

	book, err := b.engine.Evaluate(ctx, strategyName, histories)
	if err != nil {
		return nil, err
	}
	for _, d := range book.Dates() {
		for _, sig := range book.All(d) {
			b.metrics.RecordSignal(sig.Strategy, sig.Selected)
		}
	}

	outcome, err := NewSimulator(cfg, b.logger).Run(ctx, histories, book)
	if err != nil {
		return nil, err
	}

	stats := CalculateStats(outcome.EquityCurve, outcome.Trades, cfg.RiskFreeRate)
	for _, t := range outcome.Trades {
		b.metrics.RecordTrade(string(t.ExitReason))
	}
	for _, s := range outcome.Skipped {
		b.metrics.RecordSkip(s.Reason)
	}
	b.metrics.SetFinalEquity(stats.FinalEquity)

	usable := make([]string, 0, len(histories))
	for sym := range histories {
		usable = append(usable, sym)
	}
	sort.Strings(usable)

	report := &Report{
		RunID:       uuid.NewString(),
		Strategy:    strategyName,
		Config:      cfg,
		Symbols:     usable,
		Trades:      outcome.Trades,
		EquityCurve: outcome.EquityCurve,
		Stats:       stats,
		Skipped:     outcome.Skipped,
		Dropped:     dropped,
	}

	b.logger.Info("backtest completed",
		zap.String("run_id", report.RunID),
		zap.String("strategy", strategyName),
		zap.Int("symbols", len(usable)),
		zap.Int("trades", stats.TotalTrades),
		zap.Float64("total_return", stats.TotalReturn),
		zap.Float64("max_drawdown", stats.MaxDrawdown),
	)
	return report, nil
}

// fetch loads and sanitizes the history of every symbol concurrently. Symbols
// whose fetch fails or returns no valid bars are dropped with a warning.
func (b *Backtester) fetch(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.OHLCV, []string, error) {
	var (
		mu        sync.Mutex
		histories = make(map[string][]core.OHLCV, len(symbols))
		dropped   []string
	)

	drop := func(symbol string, fields ...zap.Field) {
		b.logger.Warn("symbol dropped", append([]zap.Field{zap.String("symbol", symbol)}, fields...)...)
		mu.Lock()
		dropped = append(dropped, symbol)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return core.WrapError(core.ErrBacktestCancelled, err)
			}

			raw, err := b.provider.FetchHistory(sym, start, end, "1d")
			if err != nil {
				drop(sym, zap.Error(err))
				return nil
			}

			bars, n := core.SanitizeBars(raw)
			b.metrics.AddBarsDropped(n)
			if n > 0 {
				b.logger.Debug("bars dropped", zap.String("symbol", sym), zap.Int("count", n))
			}
			if len(bars) == 0 {
				drop(sym, zap.String("reason", "no valid bars"))
				return nil
			}

			mu.Lock()
			histories[sym] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Strings(dropped)
	b.metrics.AddSymbolsDropped(len(dropped))
	return histories, dropped, nil
}
