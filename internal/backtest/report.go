package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/newthinker/screener/internal/portfolio"
)

// recentTrades is the number of trades listed at the end of a summary.
const recentTrades = 10

var tradeHeader = []string{
	"symbol", "entry_date", "exit_date", "entry_price", "exit_price", "shares",
	"gross_pnl", "commission", "net_pnl", "return_pct", "holding_days", "exit_reason",
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func price(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(4)
}

func percent(fraction float64) string {
	return decimal.NewFromFloat(fraction).Shift(2).StringFixed(2) + "%"
}

// WriteTradesCSV writes one row per closed trade.
func WriteTradesCSV(w io.Writer, trades []portfolio.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.Symbol,
			t.EntryDate.Format(time.DateOnly),
			t.ExitDate.Format(time.DateOnly),
			price(t.EntryPrice),
			price(t.ExitPrice),
			strconv.FormatInt(t.Shares, 10),
			money(t.GrossPnL),
			money(t.CommissionPaid),
			money(t.NetPnL),
			decimal.NewFromFloat(t.ReturnPct).StringFixed(2),
			strconv.Itoa(t.HoldingDays),
			string(t.ExitReason),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes the daily equity curve.
func WriteEquityCSV(w io.Writer, curve []portfolio.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "equity", "cash", "positions"}); err != nil {
		return err
	}
	for _, pt := range curve {
		row := []string{
			pt.Date.Format(time.DateOnly),
			money(pt.Equity),
			money(pt.Cash),
			strconv.Itoa(pt.Positions),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary prints a human-readable summary of a report.
func WriteSummary(w io.Writer, r *Report) error {
	s := r.Stats
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	sharpe := "n/a"
	if s.Sharpe != nil {
		sharpe = decimal.NewFromFloat(*s.Sharpe).StringFixed(2)
	}
	profitFactor := "n/a"
	if s.ProfitFactor != nil {
		profitFactor = decimal.NewFromFloat(*s.ProfitFactor).StringFixed(2)
	}

	fmt.Fprintf(tw, "Run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "Strategy\t%s\n", r.Strategy)
	fmt.Fprintf(tw, "Period\t%s to %s\n", r.Config.Start.Format(time.DateOnly), r.Config.End.Format(time.DateOnly))
	fmt.Fprintf(tw, "Symbols\t%d (%d dropped)\n", len(r.Symbols), len(r.Dropped))
	fmt.Fprintf(tw, "Initial capital\t%s\n", money(r.Config.InitialCapital))
	fmt.Fprintf(tw, "Final equity\t%s\n", money(s.FinalEquity))
	fmt.Fprintf(tw, "Total return\t%s\n", percent(s.TotalReturn))
	fmt.Fprintf(tw, "Annualized return\t%s\n", percent(s.AnnualizedReturn))
	fmt.Fprintf(tw, "Max drawdown\t%s\n", percent(s.MaxDrawdown))
	fmt.Fprintf(tw, "Sharpe\t%s\n", sharpe)
	fmt.Fprintf(tw, "Trades\t%d (%d won, %d lost)\n", s.TotalTrades, s.WinningTrades, s.LosingTrades)
	fmt.Fprintf(tw, "Win rate\t%s\n", percent(s.WinRate))
	fmt.Fprintf(tw, "Avg win / loss\t%s%% / %s%%\n",
		decimal.NewFromFloat(s.AvgWinPct).StringFixed(2), decimal.NewFromFloat(s.AvgLossPct).StringFixed(2))
	fmt.Fprintf(tw, "Profit factor\t%s\n", profitFactor)
	fmt.Fprintf(tw, "Avg holding days\t%s\n", decimal.NewFromFloat(s.AvgHoldingDays).StringFixed(1))
	fmt.Fprintf(tw, "Commission\t%s\n", money(s.TotalCommission))
	fmt.Fprintf(tw, "Skipped entries\t%d\n", len(r.Skipped))

	reasons := make([]string, 0, len(s.TradesByReason))
	for reason := range s.TradesByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(tw, "  %s\t%d\n", reason, s.TradesByReason[reason])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	trades := r.Trades
	if len(trades) == 0 {
		return nil
	}
	if len(trades) > recentTrades {
		trades = trades[len(trades)-recentTrades:]
	}

	fmt.Fprintf(w, "\nLast %d trades:\n", len(trades))
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tENTRY\tEXIT\tSHARES\tNET PNL\tRETURN\tREASON")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s%%\t%s\n",
			t.Symbol,
			t.EntryDate.Format(time.DateOnly),
			t.ExitDate.Format(time.DateOnly),
			t.Shares,
			money(t.NetPnL),
			decimal.NewFromFloat(t.ReturnPct).StringFixed(2),
			t.ExitReason,
		)
	}
	return tw.Flush()
}
