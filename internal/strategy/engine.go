package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/indicator"
)

// DefaultWorkers bounds concurrent per-symbol evaluation.
const DefaultWorkers = 8

// Engine manages strategies and evaluates them across a universe
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	workers    int
	logger     *zap.Logger
}

// NewEngine creates a new strategy engine
func NewEngine(logger ...*zap.Logger) *Engine {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	return &Engine{
		strategies: make(map[string]Strategy),
		workers:    DefaultWorkers,
		logger:     l,
	}
}

// SetWorkers sets the evaluation concurrency. Values below 1 are ignored.
func (e *Engine) SetWorkers(n int) {
	if n > 0 {
		e.workers = n
	}
}

// Register adds a strategy to the engine
func (e *Engine) Register(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Name()] = s
}

// Get retrieves a strategy by name
func (e *Engine) Get(name string) (Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[name]
	return s, ok
}

// GetAll returns all registered strategies ordered by name
func (e *Engine) GetAll() []Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

func (e *Engine) lookup(name string) (Strategy, error) {
	s, ok := e.Get(name)
	if !ok {
		return nil, core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("%q", name))
	}
	return s, nil
}

// EvaluateSeries returns one signal per evaluable day of a symbol's history.
func EvaluateSeries(s Strategy, symbol string, bars []core.OHLCV) []core.Signal {
	snaps := indicator.NewCalculator(s.RequiredData().Windows).Calculate(bars)
	signals := make([]core.Signal, 0, len(snaps))
	for _, snap := range snaps {
		sig := s.Evaluate(symbol, snap)
		sig.Strategy = s.Name()
		signals = append(signals, sig)
	}
	return signals
}

// Evaluate computes indicators and signals for every symbol concurrently and
// merges them into a SignalBook. Symbols with too little history contribute
// no signals.
func (e *Engine) Evaluate(ctx context.Context, name string, histories map[string][]core.OHLCV) (*SignalBook, error) {
	s, err := e.lookup(name)
	if err != nil {
		return nil, err
	}

	symbols := sortedSymbols(histories)
	results := make([][]core.Signal, len(symbols))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = EvaluateSeries(s, sym, histories[sym])
			if len(results[i]) == 0 {
				e.logger.Debug("symbol not evaluable",
					zap.String("symbol", sym),
					zap.Int("bars", len(histories[sym])),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	book := NewSignalBook()
	for _, signals := range results {
		for _, sig := range signals {
			book.Add(sig)
		}
	}

	e.logger.Info("signals evaluated",
		zap.String("strategy", name),
		zap.Int("symbols", len(symbols)),
		zap.Int("signals", book.Len()),
		zap.Int("selected", book.SelectedCount()),
	)
	return book, nil
}

// EvaluateLatest evaluates only the most recent bar of every symbol. Symbols
// whose latest bar is older than asOf are skipped, as are symbols without
// enough history.
func (e *Engine) EvaluateLatest(ctx context.Context, name string, histories map[string][]core.OHLCV, asOf time.Time) ([]core.Signal, error) {
	book, err := e.Evaluate(ctx, name, latestWindow(histories, e.warmup(name)))
	if err != nil {
		return nil, err
	}

	var out []core.Signal
	for _, sym := range sortedSymbols(histories) {
		bars := histories[sym]
		if len(bars) == 0 {
			continue
		}
		last := core.Date(bars[len(bars)-1].Time)
		if !asOf.IsZero() && last.Before(core.Date(asOf)) {
			continue
		}
		if sig, ok := book.Get(last, sym); ok {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (e *Engine) warmup(name string) int {
	s, ok := e.Get(name)
	if !ok {
		return 0
	}
	return s.RequiredData().PriceHistory
}

// latestWindow trims each history to the bars needed for its last snapshot.
func latestWindow(histories map[string][]core.OHLCV, n int) map[string][]core.OHLCV {
	out := make(map[string][]core.OHLCV, len(histories))
	for sym, bars := range histories {
		if n > 0 && len(bars) > n {
			bars = bars[len(bars)-n:]
		}
		out[sym] = bars
	}
	return out
}

func sortedSymbols(histories map[string][]core.OHLCV) []string {
	symbols := make([]string, 0, len(histories))
	for sym := range histories {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
