package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/screener/internal/backtest"
	"github.com/newthinker/screener/internal/collector"
	"github.com/newthinker/screener/internal/config"
	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/metrics"
	"github.com/newthinker/screener/internal/notifier"
	"github.com/newthinker/screener/internal/storage/archive"
	signalstore "github.com/newthinker/screener/internal/storage/signal"
	"github.com/newthinker/screener/internal/strategy"
)

// Selection is a selected signal with its universe metadata.
type Selection struct {
	core.Signal
	Sector string `json:"sector,omitempty"`
}

// ScreenResult is the outcome of one daily screening run.
type ScreenResult struct {
	Date      time.Time   `json:"date"`
	Strategy  string      `json:"strategy"`
	Universe  int         `json:"universe"`
	Evaluated int         `json:"evaluated"`
	Selected  []Selection `json:"selected"`
	Dropped   []string    `json:"dropped,omitempty"`
}

// App is the main application orchestrator
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Registry
	collectors *collector.Registry
	provider   backtest.OHLCVProvider
	universe   collector.UniverseSource
	strategies *strategy.Engine
	signals    signalstore.Store
	reports    *archive.ReportStore
	notifiers  *notifier.Registry

	closers []io.Closer
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(a *App) {
		a.metrics = m
	}
}

// WithProvider sets the history provider. It defaults to the collector
// registry.
func WithProvider(p backtest.OHLCVProvider) Option {
	return func(a *App) {
		a.provider = p
	}
}

// WithUniverse sets the source of sector-based universes.
func WithUniverse(u collector.UniverseSource) Option {
	return func(a *App) {
		a.universe = u
	}
}

// WithSignalStore sets where screening signals are saved.
func WithSignalStore(s signalstore.Store) Option {
	return func(a *App) {
		a.signals = s
	}
}

// WithReportStore sets where backtest reports are archived.
func WithReportStore(r *archive.ReportStore) Option {
	return func(a *App) {
		a.reports = r
	}
}

// WithNotifiers sets the channels that receive each run's selections.
func WithNotifiers(n *notifier.Registry) Option {
	return func(a *App) {
		a.notifiers = n
	}
}

// New creates a new App instance
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		cfg:        cfg,
		logger:     zap.NewNop(),
		collectors: collector.NewRegistry(),
		signals:    signalstore.NewMemoryStore(10000),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.provider == nil {
		a.provider = a.collectors
	}
	a.strategies = strategy.NewEngine(a.logger)
	a.strategies.SetWorkers(cfg.Strategy.Workers)
	return a
}

// RegisterCollector adds a collector to the app
func (a *App) RegisterCollector(c collector.Collector) {
	a.collectors.Register(c)
}

// RegisterStrategy adds a strategy to the app
func (a *App) RegisterStrategy(s strategy.Strategy) {
	a.strategies.Register(s)
}

// Signals returns the signal store.
func (a *App) Signals() signalstore.Store {
	return a.signals
}

// Reports returns the report archive, nil when archiving is disabled.
func (a *App) Reports() *archive.ReportStore {
	return a.reports
}

// Close releases stores opened by NewFromConfig.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Universe resolves the securities to evaluate. Configured symbols win;
// otherwise the constituents of the top inflow sectors are used, deduplicated
// in sector order. Special-treatment names are dropped for A-shares when
// configured.
func (a *App) Universe(ctx context.Context) ([]core.Security, error) {
	ucfg := a.cfg.Universe
	if len(ucfg.Symbols) > 0 {
		out := make([]core.Security, 0, len(ucfg.Symbols))
		seen := make(map[string]bool, len(ucfg.Symbols))
		for _, s := range ucfg.Symbols {
			sym := core.NormalizeSymbol(s)
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			out = append(out, core.Security{Symbol: sym})
		}
		return out, nil
	}

	if a.universe == nil {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("no symbols configured and no sector source available"))
	}

	sectors, err := a.universe.TopInflowSectors(ctx, ucfg.SectorFlowTopN)
	if err != nil {
		return nil, err
	}
	if len(sectors) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no sectors returned"))
	}

	var out []core.Security
	seen := make(map[string]bool)
	excluded := 0
	for _, sec := range sectors {
		members, err := a.universe.SectorConstituents(ctx, sec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("sector skipped", zap.String("sector", sec.Name), zap.Error(err))
			continue
		}
		a.logger.Info("sector loaded",
			zap.String("sector", sec.Name),
			zap.Float64("net_inflow", sec.NetInflow),
			zap.Int("members", len(members)),
		)
		for _, m := range members {
			if seen[m.Symbol] {
				continue
			}
			seen[m.Symbol] = true
			if ucfg.ExcludeSpecial && core.MarketOf(m.Symbol) == core.MarketCNA && core.IsSpecialTreatment(m.Name) {
				excluded++
				continue
			}
			out = append(out, m)
		}
	}
	if excluded > 0 {
		a.logger.Debug("special treatment names excluded", zap.Int("count", excluded))
	}
	if len(out) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("sector universe is empty"))
	}
	return out, nil
}

// Screen evaluates the latest bar of every universe symbol as of asOf and
// saves the resulting signals. Symbols without a bar on asOf are skipped.
func (a *App) Screen(ctx context.Context, asOf time.Time) (*ScreenResult, error) {
	started := time.Now()
	name := a.cfg.Strategy.Name
	strat, ok := a.strategies.Get(name)
	if !ok {
		return nil, core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("%q", name))
	}

	universe, err := a.Universe(ctx)
	if err != nil {
		return nil, err
	}
	a.metrics.SetUniverseSize(len(universe))

	symbols := make([]string, len(universe))
	bySymbol := make(map[string]core.Security, len(universe))
	for i, s := range universe {
		symbols[i] = s.Symbol
		bySymbol[s.Symbol] = s
	}

	asOf = core.Date(asOf)
	start := asOf.AddDate(0, 0, -lookbackDays(strat))
	histories, dropped, err := a.fetch(ctx, symbols, start, asOf)
	if err != nil {
		return nil, err
	}

	signals, err := a.strategies.EvaluateLatest(ctx, name, histories, asOf)
	if err != nil {
		return nil, err
	}

	result := &ScreenResult{
		Date:      asOf,
		Strategy:  name,
		Universe:  len(universe),
		Evaluated: len(signals),
		Dropped:   dropped,
	}
	for _, sig := range signals {
		sec := bySymbol[sig.Symbol]
		sig.Name = sec.Name
		a.metrics.RecordSignal(sig.Strategy, sig.Selected)

		id, err := a.signals.Save(ctx, sig)
		if err != nil {
			return nil, err
		}
		sig.ID = id

		if sig.Selected {
			a.logger.Debug("symbol selected", zap.String("symbol", sig.Symbol), zap.String("reason", sig.Reason))
			result.Selected = append(result.Selected, Selection{Signal: sig, Sector: sec.Sector})
		}
	}
	sort.SliceStable(result.Selected, func(i, j int) bool {
		if result.Selected[i].Sector != result.Selected[j].Sector {
			return result.Selected[i].Sector < result.Selected[j].Sector
		}
		return result.Selected[i].Symbol < result.Selected[j].Symbol
	})

	a.notify(ctx, result)

	a.metrics.RecordScreen(time.Since(started).Seconds())
	a.logger.Info("screen completed",
		zap.Time("date", asOf),
		zap.Int("universe", result.Universe),
		zap.Int("evaluated", result.Evaluated),
		zap.Int("selected", len(result.Selected)),
		zap.Int("dropped", len(dropped)),
	)
	return result, nil
}

// notify pushes the selections to every notifier. Delivery failures are
// logged and do not fail the run.
func (a *App) notify(ctx context.Context, r *ScreenResult) {
	if a.notifiers == nil || len(r.Selected) == 0 {
		return
	}
	signals := make([]core.Signal, len(r.Selected))
	for i, s := range r.Selected {
		signals[i] = s.Signal
	}
	for name, err := range a.notifiers.NotifyAllBatch(ctx, signals) {
		a.logger.Warn("notification failed", zap.String("notifier", name), zap.Error(err))
	}
}

// lookbackDays converts the strategy's bar requirement to calendar days.
func lookbackDays(s strategy.Strategy) int {
	return s.RequiredData().PriceHistory*2 + 10
}

// fetch loads and sanitizes histories concurrently, dropping symbols that fail.
func (a *App) fetch(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.OHLCV, []string, error) {
	var (
		mu        sync.Mutex
		histories = make(map[string][]core.OHLCV, len(symbols))
		dropped   []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.Data.FetchWorkers, 1))
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := a.provider.FetchHistory(sym, start, end, "1d")
			bars, n := core.SanitizeBars(raw)
			a.metrics.AddBarsDropped(n)

			mu.Lock()
			defer mu.Unlock()
			if err != nil || len(bars) == 0 {
				a.logger.Warn("symbol dropped", zap.String("symbol", sym), zap.Error(err))
				dropped = append(dropped, sym)
				return nil
			}
			histories[sym] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Strings(dropped)
	a.metrics.AddSymbolsDropped(len(dropped))
	return histories, dropped, nil
}

// WriteSelections prints the selections as a table.
func WriteSelections(w io.Writer, r *ScreenResult) error {
	if len(r.Selected) == 0 {
		_, err := fmt.Fprintf(w, "%s: no symbols selected (%d evaluated of %d)\n",
			r.Date.Format(time.DateOnly), r.Evaluated, r.Universe)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s: %d selected of %d evaluated\n", r.Date.Format(time.DateOnly), len(r.Selected), r.Evaluated)
	fmt.Fprintln(tw, "SECTOR\tSYMBOL\tNAME\tCLOSE\tREASON")
	for _, s := range r.Selected {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Sector, s.Symbol, s.Name, decimal.NewFromFloat(s.Price).StringFixed(2), s.Reason)
	}
	return tw.Flush()
}
