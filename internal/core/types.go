package core

import (
	"math"
	"sort"
	"time"
)

// Market represents a trading market
type Market string

const (
	MarketUS  Market = "US"
	MarketCNA Market = "CN_A"
)

// OHLCV represents one daily bar for a symbol
type OHLCV struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval,omitempty"` // "1d"
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	Time     time.Time `json:"time"`
}

// IsValid reports whether the bar can be traded on: every price present and
// positive, a coherent high/low range and non-zero volume.
func (b OHLCV) IsValid() bool {
	if b.Time.IsZero() || b.Volume <= 0 {
		return false
	}
	for _, p := range []float64{b.Open, b.High, b.Low, b.Close} {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return false
		}
	}
	return b.High >= b.Low
}

// Date truncates t to a calendar day in UTC. All bars and simulation dates are
// keyed by this value.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SanitizeBars returns the valid bars of a series ordered by date, keeping the
// last bar when a date repeats. The second return value is the number of bars
// dropped.
func SanitizeBars(bars []OHLCV) ([]OHLCV, int) {
	byDate := make(map[time.Time]OHLCV, len(bars))
	dropped := 0
	for _, b := range bars {
		if !b.IsValid() {
			dropped++
			continue
		}
		b.Time = Date(b.Time)
		if _, dup := byDate[b.Time]; dup {
			dropped++
		}
		byDate[b.Time] = b
	}

	out := make([]OHLCV, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out, dropped
}

// Signal is the outcome of evaluating the selection rules for one symbol on
// one trading day. Signals are never mutated after creation.
type Signal struct {
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name,omitempty"`
	Date     time.Time `json:"date"`
	Selected bool      `json:"selected"`
	Reason   string    `json:"reason"`
	Strategy string    `json:"strategy"`
	Price    float64   `json:"price"` // close on Date
	ID       string    `json:"id,omitempty"`
}

// Security describes a universe member.
type Security struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name,omitempty"`
	Sector string `json:"sector,omitempty"`
}
