// Package portfolio holds the simulated book: cash, open positions, closed
// trades and the daily equity curve.
package portfolio

import (
	"time"
)

// State is the lifecycle state of a position.
type State int

const (
	StateFlat State = iota
	StateOpen
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateFlat:
		return "flat"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitStopLoss      ExitReason = "stop_loss"
	ExitRebalance     ExitReason = "rebalance"
	ExitEndOfBacktest ExitReason = "end_of_backtest"
)

// Position is a holding in one symbol. Entries and exits are whole: a
// position is never partially filled or partially closed.
type Position struct {
	Symbol           string    `json:"symbol"`
	State            State     `json:"state"`
	EntryDate        time.Time `json:"entry_date"`
	EntryPrice       float64   `json:"entry_price"`
	Shares           int64     `json:"shares"`
	CapitalCommitted float64   `json:"capital_committed"`
	EntryCommission  float64   `json:"entry_commission"`
	PeakPrice        float64   `json:"peak_price"`
	LastClose        float64   `json:"last_close"`
	LastDate         time.Time `json:"last_date"`
}

// Update records a daily close and raises the peak.
func (p *Position) Update(date time.Time, close float64) {
	p.LastClose = close
	p.LastDate = date
	if close > p.PeakPrice {
		p.PeakPrice = close
	}
}

// Drawdown is the decline of the last close from the peak, as a negative
// fraction.
func (p *Position) Drawdown() float64 {
	if p.PeakPrice <= 0 {
		return 0
	}
	return p.LastClose/p.PeakPrice - 1
}

// StopHit reports whether the drawdown from peak reached stopPct.
func (p *Position) StopHit(stopPct float64) bool {
	return stopPct > 0 && p.Drawdown() <= -stopPct
}

// MarketValue values the position at its last known close.
func (p *Position) MarketValue() float64 {
	return float64(p.Shares) * p.LastClose
}
