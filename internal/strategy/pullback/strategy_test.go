package pullback

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/indicator"
	"github.com/newthinker/screener/internal/strategy"
)

func TestPullback_ImplementsStrategy(t *testing.T) {
	var _ strategy.Strategy = (*Pullback)(nil)
}

func TestPullback_Name(t *testing.T) {
	s := New(DefaultConfig())
	if s.Name() != "pullback" {
		t.Errorf("expected 'pullback', got '%s'", s.Name())
	}
}

func TestPullback_RequiredData(t *testing.T) {
	req := New(DefaultConfig()).RequiredData()
	assert.Equal(t, 60, req.Windows.Warmup())
	assert.Equal(t, 80, req.PriceHistory)
}

// passing returns a snapshot that satisfies every condition.
func passing() indicator.Snapshot {
	return indicator.Snapshot{
		Date:                 time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Open:                 10.0,
		High:                 10.6,
		Close:                10.5,
		MAShort:              10.2,
		MAMid:                9.8,
		MATrend:              9.0,
		MAConfirm:            10.0,
		RollingHigh:          11.0,
		PullbackPct:          4.5,
		BrokeMAShortRecently: false,
		RecentHighGapPct:     0,
		RecentPullbacks:      []float64{0, 2.0, 5.0, 4.5},
	}
}

func TestPullback_Selected(t *testing.T) {
	s := New(DefaultConfig())
	sig := s.Evaluate("600519.SH", passing())

	assert.True(t, sig.Selected)
	assert.Equal(t, "600519.SH", sig.Symbol)
	assert.Equal(t, "pullback", sig.Strategy)
	assert.Equal(t, 10.5, sig.Price)
	assert.Contains(t, sig.Reason, "MA20>MA60")
	assert.Contains(t, sig.Reason, "pullback 5.0%")
	assert.Contains(t, sig.Reason, "trend strong")
}

func TestPullback_WeakTrendTag(t *testing.T) {
	snap := passing()
	snap.MAConfirm = 10.3

	sig := New(DefaultConfig()).Evaluate("X", snap)
	assert.True(t, sig.Selected)
	assert.Contains(t, sig.Reason, "trend weak")
}

func TestPullback_BrokeMAShort(t *testing.T) {
	snap := passing()
	snap.RecentPullbacks = []float64{0, 1, 2}
	snap.BrokeMAShortRecently = true

	sig := New(DefaultConfig()).Evaluate("X", snap)
	assert.True(t, sig.Selected)
	assert.Contains(t, sig.Reason, "broke MA5")
}

func TestPullback_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*indicator.Snapshot)
		reason string
	}{
		{
			name:   "mid MA below trend",
			mutate: func(s *indicator.Snapshot) { s.MAMid = 8.5 },
			reason: "trend not established",
		},
		{
			name:   "close below trend MA",
			mutate: func(s *indicator.Snapshot) { s.Close = 8.9; s.Open = 8.5 },
			reason: "trend not established",
		},
		{
			name:   "no recent high",
			mutate: func(s *indicator.Snapshot) { s.RecentHighGapPct = 1.5 },
			reason: "no 60d high",
		},
		{
			name:   "pullback too shallow",
			mutate: func(s *indicator.Snapshot) { s.RecentPullbacks = []float64{0, 1, 2.9} },
			reason: "no pullback",
		},
		{
			name:   "pullback too deep",
			mutate: func(s *indicator.Snapshot) { s.RecentPullbacks = []float64{25, 21} },
			reason: "no pullback",
		},
		{
			name:   "close below short MA",
			mutate: func(s *indicator.Snapshot) { s.Close = 10.1 },
			reason: "not stabilized",
		},
		{
			name:   "down day",
			mutate: func(s *indicator.Snapshot) { s.Open = 10.6 },
			reason: "not stabilized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := passing()
			tt.mutate(&snap)

			sig := New(DefaultConfig()).Evaluate("X", snap)
			assert.False(t, sig.Selected)
			assert.Contains(t, sig.Reason, tt.reason)
		})
	}
}

func TestPullback_BandIsInclusive(t *testing.T) {
	snap := passing()
	snap.RecentPullbacks = []float64{3.0}
	assert.True(t, New(DefaultConfig()).Evaluate("X", snap).Selected)

	snap.RecentPullbacks = []float64{20.0}
	assert.True(t, New(DefaultConfig()).Evaluate("X", snap).Selected)
}

func TestPullback_NewHighTolerance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NewHighTolerancePct = 1.0

	snap := passing()
	snap.RecentHighGapPct = 0.8
	assert.True(t, New(cfg).Evaluate("X", snap).Selected)
}

func TestPullback_EvaluateSeries(t *testing.T) {
	cfg := Config{
		MAShort: 2, MAMid: 3, MATrend: 4, MAConfirm: 3,
		HighWindow: 4, RecentDays: 3, PullbackLookback: 3,
		PullbackMinPct: 3, PullbackMaxPct: 20,
	}

	// Uptrend to 13, dip to 12.4, then an up day closing at 12.9.
	closes := []float64{10, 11, 12, 13, 12.4, 12.9}
	opens := []float64{9.9, 10.9, 11.9, 12.9, 12.8, 12.5}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.OHLCV, len(closes))
	for i := range closes {
		bars[i] = core.OHLCV{
			Symbol: "X", Open: opens[i], High: closes[i] + 0.2, Low: opens[i] - 0.2,
			Close: closes[i], Volume: 100, Time: start.AddDate(0, 0, i),
		}
	}

	signals := strategy.EvaluateSeries(New(cfg), "X", bars)
	require.Len(t, signals, 3)
	assert.False(t, signals[0].Selected, signals[0].Reason)
	assert.False(t, signals[1].Selected, signals[1].Reason)
	assert.True(t, signals[2].Selected, signals[2].Reason)
	assert.Equal(t, bars[5].Time, signals[2].Date)
}

func risingBars(n int) []core.OHLCV {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]core.OHLCV, n)
	for i := range bars {
		c := 10 + float64(i)*0.1
		bars[i] = core.OHLCV{
			Symbol: "X", Open: c - 0.05, High: c + 0.1, Low: c - 0.1,
			Close: c, Volume: 100, Time: start.AddDate(0, 0, i),
		}
	}
	return bars
}

func TestPullback_WithoutConfirmWindow(t *testing.T) {
	cfg := Config{
		MAShort: 5, MAMid: 20, MATrend: 60,
		HighWindow: 60, RecentDays: 20, PullbackLookback: 5,
		PullbackMinPct: 3, PullbackMaxPct: 20,
	}

	var signals []core.Signal
	require.NotPanics(t, func() {
		signals = strategy.EvaluateSeries(New(cfg), "X", risingBars(200))
	})
	require.NotEmpty(t, signals)
	for _, sig := range signals {
		assert.False(t, strings.Contains(sig.Reason, "trend strong"), sig.Reason)
		assert.False(t, strings.Contains(sig.Reason, "trend weak"), sig.Reason)
	}
}

func TestPullback_ZeroWindowSelectsNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MAMid = 0

	var signals []core.Signal
	require.NotPanics(t, func() {
		signals = strategy.EvaluateSeries(New(cfg), "X", risingBars(200))
	})
	for _, sig := range signals {
		assert.False(t, sig.Selected)
	}
}
