package backtest

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/portfolio"
	"github.com/newthinker/screener/internal/strategy"
)

const progressEvery = 50

// Simulator replays a trading calendar day by day against a signal book.
// A Simulator holds no run state and may be reused.
type Simulator struct {
	cfg    Config
	logger *zap.Logger
}

// NewSimulator creates a simulator for the given configuration
func NewSimulator(cfg Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{cfg: cfg, logger: logger}
}

// Calendar returns the sorted union of bar dates within [start, end]. Zero
// bounds are open.
func Calendar(histories map[string][]core.OHLCV, start, end time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, bars := range histories {
		for _, b := range bars {
			d := core.Date(b.Time)
			if !start.IsZero() && d.Before(core.Date(start)) {
				continue
			}
			if !end.IsZero() && d.After(core.Date(end)) {
				continue
			}
			seen[d] = struct{}{}
		}
	}

	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].Before(days[j])
	})
	return days
}

// Weekday maps a date to 0=Monday ... 6=Sunday.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

type barIndex map[string]map[time.Time]core.OHLCV

func indexBars(histories map[string][]core.OHLCV) barIndex {
	idx := make(barIndex, len(histories))
	for sym, bars := range histories {
		m := make(map[time.Time]core.OHLCV, len(bars))
		for _, b := range bars {
			m[core.Date(b.Time)] = b
		}
		idx[sym] = m
	}
	return idx
}

func (idx barIndex) bar(symbol string, date time.Time) (core.OHLCV, bool) {
	b, ok := idx[symbol][date]
	return b, ok
}

// run holds the mutable state of one simulation.
type run struct {
	*Simulator
	pf      *portfolio.Portfolio
	bars    barIndex
	pending []core.Signal
	skipped []Skip
}

// Run simulates the portfolio over the calendar derived from histories.
// Histories must be sanitized; bars outside [Start, End] are ignored.
func (s *Simulator) Run(ctx context.Context, histories map[string][]core.OHLCV, book *strategy.SignalBook) (*Outcome, error) {
	days := Calendar(histories, s.cfg.Start, s.cfg.End)
	if len(days) == 0 {
		return nil, core.WrapError(core.ErrNoData, errors.New("no trading days in range"))
	}

	r := &run{
		Simulator: s,
		pf:        portfolio.New(s.cfg.portfolio()),
		bars:      indexBars(histories),
	}

	last := len(days) - 1
	for k, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, core.WrapError(core.ErrBacktestCancelled, err)
		}

		rebalance := s.cfg.Rebalance == RebalanceWeekly && Weekday(day) == s.cfg.RebalanceDay

		r.fillPending(day, rebalance)
		r.checkStops(day)
		if rebalance {
			r.rebalance(day)
		}
		r.enter(day, book.Selected(day), k == last)
		if k == last {
			r.liquidate(day)
		}

		pt, err := r.pf.Record(day)
		if err != nil {
			return nil, err
		}

		if (k+1)%progressEvery == 0 {
			s.logger.Info("backtest progress",
				zap.Int("day", k+1),
				zap.Int("days", len(days)),
				zap.Time("date", day),
				zap.Float64("equity", pt.Equity),
				zap.Int("positions", pt.Positions),
			)
		}
	}

	return &Outcome{
		Trades:      r.pf.Trades(),
		EquityCurve: r.pf.EquityCurve(),
		Skipped:     r.skipped,
	}, nil
}

// fillPending executes entries queued on the previous trading day at today's
// open. On rebalance days the queue is dropped in favour of today's signals.
func (r *run) fillPending(day time.Time, rebalance bool) {
	pending := r.pending
	r.pending = nil

	for _, sig := range pending {
		if rebalance {
			r.skip(day, sig.Symbol, SkipRebalance, 0)
			continue
		}
		bar, ok := r.bars.bar(sig.Symbol, day)
		if !ok {
			r.skip(day, sig.Symbol, SkipNoBar, 0)
			continue
		}
		r.open(day, sig.Symbol, bar.Open)
	}
}

// checkStops updates every open position that trades today and closes those
// whose drawdown from peak reached the stop.
func (r *run) checkStops(day time.Time) {
	for _, sym := range r.pf.Symbols() {
		bar, ok := r.bars.bar(sym, day)
		if !ok {
			continue
		}
		hit, err := r.pf.Mark(sym, day, bar.Close, r.cfg.StopLossPct)
		if err != nil || !hit {
			continue
		}
		r.close(day, sym, bar.Close, portfolio.ExitStopLoss)
	}
}

// rebalance closes every open position that trades today. Suspended symbols
// cannot be sold and stay open.
func (r *run) rebalance(day time.Time) {
	for _, sym := range r.pf.Symbols() {
		bar, ok := r.bars.bar(sym, day)
		if !ok {
			continue
		}
		r.close(day, sym, bar.Close, portfolio.ExitRebalance)
	}
}

// enter acts on today's selections. Nothing is entered on the final day: a
// same-close fill would be liquidated at the same price, paying commission
// twice on a zero-day trade.
func (r *run) enter(day time.Time, selected []core.Signal, lastDay bool) {
	if lastDay {
		return
	}
	for _, sig := range selected {
		if _, open := r.pf.Position(sig.Symbol); open {
			continue
		}

		switch r.cfg.EntryTiming {
		case EntrySameClose:
			bar, ok := r.bars.bar(sig.Symbol, day)
			if !ok {
				r.skip(day, sig.Symbol, SkipNoBar, 0)
				continue
			}
			r.open(day, sig.Symbol, bar.Close)
		default:
			if r.pf.OpenCount()+len(r.pending) >= r.cfg.MaxPositions {
				r.skip(day, sig.Symbol, SkipMaxPositions, 0)
				continue
			}
			r.pending = append(r.pending, sig)
		}
	}
}

// liquidate closes all surviving positions at their last known close.
func (r *run) liquidate(day time.Time) {
	for _, sym := range r.pf.Symbols() {
		pos, _ := r.pf.Position(sym)
		r.close(day, sym, pos.LastClose, portfolio.ExitEndOfBacktest)
	}
}

func (r *run) open(day time.Time, symbol string, price float64) {
	alloc := r.pf.Allocation()
	pos, err := r.pf.Open(symbol, day, price)
	switch {
	case errors.Is(err, portfolio.ErrBelowLot):
		r.skip(day, symbol, SkipBelowLot, alloc)
		return
	case errors.Is(err, portfolio.ErrMaxPositions):
		r.skip(day, symbol, SkipMaxPositions, alloc)
		return
	case err != nil:
		r.logger.Warn("entry failed", zap.String("symbol", symbol), zap.Time("date", day), zap.Error(err))
		return
	}

	r.logger.Debug("position opened",
		zap.String("symbol", symbol),
		zap.Time("date", day),
		zap.Float64("price", price),
		zap.Int64("shares", pos.Shares),
		zap.Float64("committed", pos.CapitalCommitted),
	)
}

func (r *run) close(day time.Time, symbol string, price float64, reason portfolio.ExitReason) {
	t, err := r.pf.Close(symbol, day, price, reason)
	if err != nil {
		r.logger.Warn("exit failed", zap.String("symbol", symbol), zap.Time("date", day), zap.Error(err))
		return
	}
	r.logger.Debug("position closed",
		zap.String("symbol", symbol),
		zap.Time("date", day),
		zap.String("reason", string(reason)),
		zap.Float64("price", price),
		zap.Float64("net_pnl", t.NetPnL),
	)
}

func (r *run) skip(day time.Time, symbol, reason string, alloc float64) {
	r.logger.Info("entry skipped",
		zap.String("symbol", symbol),
		zap.Time("date", day),
		zap.String("reason", reason),
		zap.Float64("allocation", alloc),
	)
	r.skipped = append(r.skipped, Skip{Date: day, Symbol: symbol, Reason: reason, Allocation: alloc})
}
