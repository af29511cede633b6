package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	ErrPositionExists  = errors.New("position already open")
	ErrNoPosition      = errors.New("no open position")
	ErrMaxPositions    = errors.New("max open positions reached")
	ErrBelowLot        = errors.New("allocation below one lot")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrNonMonotonicDay = errors.New("equity date not after previous point")
)

// Config holds sizing and cost parameters.
type Config struct {
	InitialCapital      float64
	CommissionRate      float64 // per side, fraction of notional
	MaxPositionFraction float64 // cap per symbol, fraction of initial capital
	MaxPositions        int
	LotSize             int64
}

// Portfolio is owned by a single simulation goroutine and is not safe for
// concurrent use.
type Portfolio struct {
	cfg       Config
	cash      float64
	positions map[string]*Position
	trades    []Trade
	curve     []EquityPoint
}

// New creates a portfolio holding only cash.
func New(cfg Config) *Portfolio {
	if cfg.LotSize <= 0 {
		cfg.LotSize = 1
	}
	return &Portfolio{
		cfg:       cfg,
		cash:      cfg.InitialCapital,
		positions: make(map[string]*Position),
	}
}

// Cash returns uninvested cash.
func (p *Portfolio) Cash() float64 {
	return p.cash
}

// OpenCount returns the number of open positions.
func (p *Portfolio) OpenCount() int {
	return len(p.positions)
}

// Position returns a copy of the open position for a symbol.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{Symbol: symbol, State: StateFlat}, false
	}
	return *pos, true
}

// Symbols returns the symbols with open positions in ascending order.
func (p *Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Allocation is the capital available to the next entry: the smallest of
// cash, the per-symbol cap and an equal share of initial capital.
func (p *Portfolio) Allocation() float64 {
	alloc := p.cash
	if p.cfg.MaxPositionFraction > 0 {
		alloc = math.Min(alloc, p.cfg.InitialCapital*p.cfg.MaxPositionFraction)
	}
	if p.cfg.MaxPositions > 0 {
		alloc = math.Min(alloc, p.cfg.InitialCapital/float64(p.cfg.MaxPositions))
	}
	return math.Max(alloc, 0)
}

// SharesFor returns the whole lots affordable with allocation at price,
// commission included.
func (p *Portfolio) SharesFor(price, allocation float64) int64 {
	if price <= 0 || allocation <= 0 {
		return 0
	}
	unit := price * (1 + p.cfg.CommissionRate)
	lots := int64(math.Floor(allocation / unit / float64(p.cfg.LotSize)))
	return lots * p.cfg.LotSize
}

// Open enters a position at price. The committed capital, commission
// included, never exceeds the allocation.
func (p *Portfolio) Open(symbol string, date time.Time, price float64) (Position, error) {
	if _, ok := p.positions[symbol]; ok {
		return Position{}, fmt.Errorf("%s: %w", symbol, ErrPositionExists)
	}
	if price <= 0 || math.IsNaN(price) {
		return Position{}, fmt.Errorf("%s at %v: %w", symbol, price, ErrInvalidPrice)
	}
	if p.cfg.MaxPositions > 0 && len(p.positions) >= p.cfg.MaxPositions {
		return Position{}, fmt.Errorf("%s: %w", symbol, ErrMaxPositions)
	}

	alloc := p.Allocation()
	shares := p.SharesFor(price, alloc)
	if shares <= 0 {
		return Position{}, fmt.Errorf("%s: allocation %.2f at price %.2f: %w", symbol, alloc, price, ErrBelowLot)
	}

	notional := float64(shares) * price
	commission := notional * p.cfg.CommissionRate
	committed := notional + commission
	// Rounding in SharesFor can land a hair above the allocation.
	for shares > 0 && (committed > alloc || committed > p.cash) {
		shares -= p.cfg.LotSize
		notional = float64(shares) * price
		commission = notional * p.cfg.CommissionRate
		committed = notional + commission
	}
	if shares <= 0 {
		return Position{}, fmt.Errorf("%s: allocation %.2f at price %.2f: %w", symbol, alloc, price, ErrBelowLot)
	}

	pos := &Position{
		Symbol:           symbol,
		State:            StateOpen,
		EntryDate:        date,
		EntryPrice:       price,
		Shares:           shares,
		CapitalCommitted: committed,
		EntryCommission:  commission,
		PeakPrice:        price,
		LastClose:        price,
		LastDate:         date,
	}
	p.cash -= committed
	p.positions[symbol] = pos
	return *pos, nil
}

// Mark records the daily close of an open position and returns whether its
// stop was hit.
func (p *Portfolio) Mark(symbol string, date time.Time, close, stopPct float64) (bool, error) {
	pos, ok := p.positions[symbol]
	if !ok {
		return false, fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}
	pos.Update(date, close)
	return pos.StopHit(stopPct), nil
}

// Close exits the whole position at price.
func (p *Portfolio) Close(symbol string, date time.Time, price float64, reason ExitReason) (Trade, error) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Trade{}, fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}

	notional := float64(pos.Shares) * price
	exitCommission := notional * p.cfg.CommissionRate
	gross := float64(pos.Shares) * (price - pos.EntryPrice)
	commissions := pos.EntryCommission + exitCommission

	t := Trade{
		Symbol:         symbol,
		EntryDate:      pos.EntryDate,
		ExitDate:       date,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      price,
		Shares:         pos.Shares,
		GrossPnL:       gross,
		CommissionPaid: commissions,
		NetPnL:         gross - commissions,
		HoldingDays:    holdingDays(pos.EntryDate, date),
		ExitReason:     reason,
	}
	if pos.CapitalCommitted > 0 {
		t.ReturnPct = t.NetPnL / pos.CapitalCommitted * 100
	}

	pos.State = StateClosed
	p.cash += notional - exitCommission
	delete(p.positions, symbol)
	p.trades = append(p.trades, t)
	return t, nil
}

// Equity is cash plus every open position valued at its last known close.
func (p *Portfolio) Equity() float64 {
	equity := p.cash
	for _, sym := range p.Symbols() {
		equity += p.positions[sym].MarketValue()
	}
	return equity
}

// Record appends today's valuation to the equity curve. Dates must be
// strictly increasing.
func (p *Portfolio) Record(date time.Time) (EquityPoint, error) {
	if n := len(p.curve); n > 0 && !date.After(p.curve[n-1].Date) {
		return EquityPoint{}, fmt.Errorf("%s after %s: %w",
			date.Format("2006-01-02"), p.curve[n-1].Date.Format("2006-01-02"), ErrNonMonotonicDay)
	}
	pt := EquityPoint{
		Date:      date,
		Equity:    p.Equity(),
		Cash:      p.cash,
		Positions: len(p.positions),
	}
	p.curve = append(p.curve, pt)
	return pt, nil
}

// Trades returns the closed trades in exit order.
func (p *Portfolio) Trades() []Trade {
	return append([]Trade(nil), p.trades...)
}

// EquityCurve returns the recorded equity points.
func (p *Portfolio) EquityCurve() []EquityPoint {
	return append([]EquityPoint(nil), p.curve...)
}
