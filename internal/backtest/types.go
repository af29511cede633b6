package backtest

import (
	"fmt"
	"time"

	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/portfolio"
)

// EntryTiming selects the fill price of entries.
type EntryTiming string

const (
	// EntryNextOpen fills a signal from day t at the symbol's open on its
	// next trading day.
	EntryNextOpen EntryTiming = "next_open"
	// EntrySameClose fills at the close of the signal day.
	EntrySameClose EntryTiming = "same_close"
)

// RebalanceMode selects the periodic rebalance schedule.
type RebalanceMode string

const (
	RebalanceNone   RebalanceMode = "none"
	RebalanceWeekly RebalanceMode = "weekly"
)

// Config holds the simulation parameters. It is built once and passed by
// value.
type Config struct {
	Start               time.Time     `json:"start"`
	End                 time.Time     `json:"end"`
	InitialCapital      float64       `json:"initial_capital"`
	CommissionRate      float64       `json:"commission_rate"`
	StopLossPct         float64       `json:"stop_loss_pct"`
	MaxPositionFraction float64       `json:"max_position_fraction"`
	MaxPositions        int           `json:"max_positions"`
	LotSize             int64         `json:"lot_size"`
	Rebalance           RebalanceMode `json:"rebalance"`
	RebalanceDay        int           `json:"rebalance_day"` // 0=Monday ... 6=Sunday
	EntryTiming         EntryTiming   `json:"entry_timing"`
	RiskFreeRate        float64       `json:"risk_free_rate"`
}

// DefaultConfig returns the A-share defaults: 1M capital, 0.03% commission
// per side, 4% trailing stop, 20% per name, 100-share lots and no periodic
// rebalance.
func DefaultConfig() Config {
	return Config{
		InitialCapital:      1_000_000,
		CommissionRate:      0.0003,
		StopLossPct:         0.04,
		MaxPositionFraction: 0.2,
		MaxPositions:        5,
		LotSize:             100,
		Rebalance:           RebalanceNone,
		RebalanceDay:        0,
		EntryTiming:         EntryNextOpen,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf(format, args...))
	}

	if !c.Start.IsZero() && !c.End.IsZero() && c.End.Before(c.Start) {
		return invalid("end %s before start %s", c.End.Format(time.DateOnly), c.Start.Format(time.DateOnly))
	}
	if c.InitialCapital <= 0 {
		return invalid("initial_capital must be positive, got %v", c.InitialCapital)
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return invalid("commission_rate must be in [0, 1), got %v", c.CommissionRate)
	}
	if c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return invalid("stop_loss_pct must be in (0, 1), got %v", c.StopLossPct)
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return invalid("max_position_fraction must be in (0, 1], got %v", c.MaxPositionFraction)
	}
	if c.MaxPositions < 1 {
		return invalid("max_positions must be at least 1, got %d", c.MaxPositions)
	}
	if c.LotSize < 1 {
		return invalid("lot_size must be at least 1, got %d", c.LotSize)
	}
	switch c.Rebalance {
	case RebalanceNone, RebalanceWeekly:
	default:
		return invalid("rebalance must be %q or %q, got %q", RebalanceNone, RebalanceWeekly, c.Rebalance)
	}
	if c.RebalanceDay < 0 || c.RebalanceDay > 6 {
		return invalid("rebalance_day must be 0-6, got %d", c.RebalanceDay)
	}
	switch c.EntryTiming {
	case EntryNextOpen, EntrySameClose:
	default:
		return invalid("entry_timing must be %q or %q, got %q", EntryNextOpen, EntrySameClose, c.EntryTiming)
	}
	return nil
}

func (c Config) portfolio() portfolio.Config {
	return portfolio.Config{
		InitialCapital:      c.InitialCapital,
		CommissionRate:      c.CommissionRate,
		MaxPositionFraction: c.MaxPositionFraction,
		MaxPositions:        c.MaxPositions,
		LotSize:             c.LotSize,
	}
}

// Skip records a selected signal that could not be entered.
type Skip struct {
	Date       time.Time `json:"date"`
	Symbol     string    `json:"symbol"`
	Reason     string    `json:"reason"`
	Allocation float64   `json:"allocation,omitempty"`
}

const (
	SkipBelowLot     = "below_lot"
	SkipMaxPositions = "max_positions"
	SkipNoBar        = "no_bar"
	SkipRebalance    = "cancelled_by_rebalance"
)

// Outcome is the raw result of a simulation.
type Outcome struct {
	Trades      []portfolio.Trade       `json:"trades"`
	EquityCurve []portfolio.EquityPoint `json:"equity_curve"`
	Skipped     []Skip                  `json:"skipped"`
}

// Stats holds performance statistics. Returns and rates are fractions.
type Stats struct {
	InitialEquity    float64        `json:"initial_equity"`
	FinalEquity      float64        `json:"final_equity"`
	TotalReturn      float64        `json:"total_return"`
	AnnualizedReturn float64        `json:"annualized_return"`
	MaxDrawdown      float64        `json:"max_drawdown"`
	Sharpe           *float64       `json:"sharpe"` // nil when undefined
	TotalTrades      int            `json:"total_trades"`
	WinningTrades    int            `json:"winning_trades"`
	LosingTrades     int            `json:"losing_trades"`
	WinRate          float64        `json:"win_rate"`
	AvgHoldingDays   float64        `json:"avg_holding_days"`
	AvgWinPct        float64        `json:"avg_win_pct"`
	AvgLossPct       float64        `json:"avg_loss_pct"`
	ProfitFactor     *float64       `json:"profit_factor"` // nil without losing trades
	TotalCommission  float64        `json:"total_commission"`
	TradesByReason   map[string]int `json:"trades_by_reason"`
}

// Report is the complete, JSON-encodable output of a backtest run.
type Report struct {
	RunID       string                  `json:"run_id"`
	Strategy    string                  `json:"strategy"`
	Config      Config                  `json:"config"`
	Symbols     []string                `json:"symbols"`
	Trades      []portfolio.Trade       `json:"trades"`
	EquityCurve []portfolio.EquityPoint `json:"equity_curve"`
	Stats       Stats                   `json:"stats"`
	Skipped     []Skip                  `json:"skipped"`
	Dropped     []string                `json:"dropped,omitempty"` // symbols without usable data
}
