package portfolio

import (
	"time"
)

// Trade is a closed round trip.
type Trade struct {
	Symbol         string     `json:"symbol"`
	EntryDate      time.Time  `json:"entry_date"`
	ExitDate       time.Time  `json:"exit_date"`
	EntryPrice     float64    `json:"entry_price"`
	ExitPrice      float64    `json:"exit_price"`
	Shares         int64      `json:"shares"`
	GrossPnL       float64    `json:"gross_pnl"`
	CommissionPaid float64    `json:"commission_paid"`
	NetPnL         float64    `json:"net_pnl"`
	ReturnPct      float64    `json:"return_pct"` // net, relative to capital committed
	HoldingDays    int        `json:"holding_days"`
	ExitReason     ExitReason `json:"exit_reason"`
}

// IsWin reports whether the trade made money before commissions.
func (t Trade) IsWin() bool {
	return t.GrossPnL > 0
}

// EquityPoint is the end-of-day valuation of the portfolio.
type EquityPoint struct {
	Date      time.Time `json:"date"`
	Equity    float64   `json:"equity"`
	Cash      float64   `json:"cash"`
	Positions int       `json:"positions"`
}

func holdingDays(entry, exit time.Time) int {
	return int(exit.Sub(entry).Hours() / 24)
}
