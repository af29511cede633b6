package backtest

import (
	"math"

	"github.com/newthinker/screener/internal/portfolio"
)

const tradingDaysPerYear = 252

// CalculateStats derives performance statistics from the equity curve and the
// closed trades. riskFreeRate is annual.
func CalculateStats(curve []portfolio.EquityPoint, trades []portfolio.Trade, riskFreeRate float64) Stats {
	stats := Stats{TradesByReason: make(map[string]int)}
	if len(curve) > 0 {
		first, last := curve[0], curve[len(curve)-1]
		stats.InitialEquity = first.Equity
		stats.FinalEquity = last.Equity
		if first.Equity > 0 {
			stats.TotalReturn = last.Equity/first.Equity - 1
		}
		stats.AnnualizedReturn = annualize(stats.TotalReturn, int(last.Date.Sub(first.Date).Hours()/24))
		stats.MaxDrawdown = calculateMaxDrawdown(curve)
		stats.Sharpe = calculateSharpeRatio(dailyReturns(curve), riskFreeRate)
	}

	var winSum, lossSum, grossWin, grossLoss, holding float64
	for _, t := range trades {
		stats.TradesByReason[string(t.ExitReason)]++
		stats.TotalCommission += t.CommissionPaid
		holding += float64(t.HoldingDays)
		if t.IsWin() {
			stats.WinningTrades++
			winSum += t.ReturnPct
			grossWin += t.GrossPnL
		} else {
			stats.LosingTrades++
			lossSum += t.ReturnPct
			grossLoss -= t.GrossPnL
		}
	}

	stats.TotalTrades = len(trades)
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
		stats.AvgHoldingDays = holding / float64(stats.TotalTrades)
	}
	if stats.WinningTrades > 0 {
		stats.AvgWinPct = winSum / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLossPct = lossSum / float64(stats.LosingTrades)
	}
	if grossLoss > 0 {
		pf := grossWin / grossLoss
		stats.ProfitFactor = &pf
	}

	return stats
}

// annualize compounds a total return over elapsed calendar days to a yearly
// rate. Zero elapsed days yield zero.
func annualize(total float64, days int) float64 {
	if days <= 0 || total <= -1 {
		return 0
	}
	return math.Pow(1+total, 365/float64(days)) - 1
}

func dailyReturns(curve []portfolio.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, curve[i].Equity/prev-1)
	}
	return returns
}

// calculateMaxDrawdown finds the largest peak-to-trough decline of equity
func calculateMaxDrawdown(curve []portfolio.EquityPoint) float64 {
	var maxDD, peak float64
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			dd := (peak - pt.Equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// calculateSharpeRatio annualizes the mean daily excess return over the
// sample standard deviation. It returns nil with fewer than two returns or
// zero volatility.
func calculateSharpeRatio(returns []float64, riskFreeRate float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))

	if stdDev == 0 {
		return nil
	}

	sharpe := (mean - riskFreeRate/tradingDaysPerYear) / stdDev * math.Sqrt(tradingDaysPerYear)
	return &sharpe
}
