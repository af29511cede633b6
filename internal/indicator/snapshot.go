package indicator

import (
	"time"

	"github.com/newthinker/screener/internal/core"
)

// Params holds the indicator windows, all in trading days.
type Params struct {
	MAShort          int
	MAMid            int
	MATrend          int
	MAConfirm        int
	HighWindow       int
	RecentDays       int
	PullbackLookback int
}

// Warmup is the number of bars needed before the first snapshot.
func (p Params) Warmup() int {
	w := p.MAShort
	for _, n := range []int{p.MAMid, p.MATrend, p.MAConfirm, p.HighWindow} {
		if n > w {
			w = n
		}
	}
	return w
}

// Valid reports whether every required window is at least one day. MAConfirm
// is optional: zero leaves Snapshot.MAConfirm unset.
func (p Params) Valid() bool {
	for _, n := range []int{p.MAShort, p.MAMid, p.MATrend, p.HighWindow, p.RecentDays, p.PullbackLookback} {
		if n < 1 {
			return false
		}
	}
	return true
}

// Snapshot is the indicator state of one symbol on one trading day.
type Snapshot struct {
	Date      time.Time
	Open      float64
	High      float64
	Close     float64
	MAShort   float64
	MAMid     float64
	MATrend   float64
	MAConfirm float64

	// RollingHigh is the highest close of the trailing HighWindow days.
	RollingHigh float64
	// PullbackPct is the decline of today's close from RollingHigh, in percent.
	PullbackPct float64

	// BrokeMAShortRecently is true when close < MAShort on any of the trailing
	// PullbackLookback days, today included.
	BrokeMAShortRecently bool
	// RecentHighGapPct is the smallest pullback of the trailing RecentDays
	// days. Zero means a new HighWindow high was printed in that window.
	RecentHighGapPct float64
	// RecentPullbacks holds the pullback pcts of the trailing PullbackLookback
	// days, oldest first.
	RecentPullbacks []float64
}

// Calculator derives snapshots from the bar history of a single symbol.
// It holds no per-symbol state and is safe for concurrent use.
type Calculator struct {
	params Params
}

// NewCalculator creates a calculator for the given windows.
func NewCalculator(params Params) *Calculator {
	return &Calculator{params: params}
}

// Params returns the calculator windows.
func (c *Calculator) Params() Params {
	return c.params
}

// Calculate returns one snapshot per bar once Warmup bars are available. Bars
// must be sanitized and ordered by date. Shorter histories, and invalid
// windows, yield no snapshots.
func (c *Calculator) Calculate(bars []core.OHLCV) []Snapshot {
	p := c.params
	warmup := p.Warmup()
	if !p.Valid() || len(bars) < warmup {
		return nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	maShort := newSeries(SMA(closes, p.MAShort), p.MAShort)
	maMid := newSeries(SMA(closes, p.MAMid), p.MAMid)
	maTrend := newSeries(SMA(closes, p.MATrend), p.MATrend)
	var maConfirm series
	if p.MAConfirm > 0 {
		maConfirm = newSeries(SMA(closes, p.MAConfirm), p.MAConfirm)
	}
	high := newSeries(RollingMax(closes, p.HighWindow), p.HighWindow)

	pullback := func(i int) float64 {
		rh := high.at(i)
		return (rh - closes[i]) / rh * 100
	}

	snaps := make([]Snapshot, 0, len(bars)-warmup+1)
	for i := warmup - 1; i < len(bars); i++ {
		s := Snapshot{
			Date:        bars[i].Time,
			Open:        bars[i].Open,
			High:        bars[i].High,
			Close:       closes[i],
			MAShort:     maShort.at(i),
			MAMid:       maMid.at(i),
			MATrend:     maTrend.at(i),
			RollingHigh: high.at(i),
			PullbackPct: pullback(i),
		}

		if maConfirm.ok(i) {
			s.MAConfirm = maConfirm.at(i)
		}

		s.RecentHighGapPct = s.PullbackPct
		for j := max(0, i-p.RecentDays+1); j <= i; j++ {
			if high.ok(j) {
				s.RecentHighGapPct = min(s.RecentHighGapPct, pullback(j))
			}
		}

		for j := max(0, i-p.PullbackLookback+1); j <= i; j++ {
			if maShort.ok(j) && closes[j] < maShort.at(j) {
				s.BrokeMAShortRecently = true
			}
			if high.ok(j) {
				s.RecentPullbacks = append(s.RecentPullbacks, pullback(j))
			}
		}

		snaps = append(snaps, s)
	}

	return snaps
}
