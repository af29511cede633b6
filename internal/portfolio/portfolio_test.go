package portfolio

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func testConfig() Config {
	return Config{
		InitialCapital:      1_000_000,
		CommissionRate:      0.0003,
		MaxPositionFraction: 0.2,
		MaxPositions:        5,
		LotSize:             100,
	}
}

func TestPortfolio_Allocation(t *testing.T) {
	p := New(testConfig())
	assert.InDelta(t, 200_000, p.Allocation(), 1e-9)

	cfg := testConfig()
	cfg.MaxPositions = 10
	assert.InDelta(t, 100_000, New(cfg).Allocation(), 1e-9)
}

func TestPortfolio_SharesFor(t *testing.T) {
	p := New(testConfig())

	// 200000 / (10 * 1.0003) = 19994.0 -> 199 lots
	assert.Equal(t, int64(19900), p.SharesFor(10, 200_000))
	assert.Equal(t, int64(0), p.SharesFor(3000, 200_000))
	assert.Equal(t, int64(0), p.SharesFor(0, 200_000))
}

func TestPortfolio_OpenAndClose(t *testing.T) {
	p := New(testConfig())

	pos, err := p.Open("600519.SH", day(0), 10)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, pos.State)
	assert.Equal(t, int64(19900), pos.Shares)
	assert.InDelta(t, 19900*10*1.0003, pos.CapitalCommitted, 1e-6)
	assert.LessOrEqual(t, pos.CapitalCommitted, 200_000.0)
	assert.InDelta(t, 1_000_000-pos.CapitalCommitted, p.Cash(), 1e-6)
	assert.Equal(t, 1, p.OpenCount())

	_, err = p.Open("600519.SH", day(1), 10)
	assert.True(t, errors.Is(err, ErrPositionExists))

	trade, err := p.Close("600519.SH", day(7), 11, ExitRebalance)
	require.NoError(t, err)
	assert.InDelta(t, 19900.0, trade.GrossPnL, 1e-6)
	assert.InDelta(t, 19900*10*0.0003+19900*11*0.0003, trade.CommissionPaid, 1e-6)
	assert.InDelta(t, trade.GrossPnL-trade.CommissionPaid, trade.NetPnL, 1e-9)
	assert.Equal(t, 7, trade.HoldingDays)
	assert.Equal(t, ExitRebalance, trade.ExitReason)
	assert.True(t, trade.IsWin())

	assert.Equal(t, 0, p.OpenCount())
	assert.InDelta(t, 1_000_000+trade.NetPnL, p.Cash(), 1e-6)
	assert.Len(t, p.Trades(), 1)

	_, err = p.Close("600519.SH", day(8), 11, ExitRebalance)
	assert.True(t, errors.Is(err, ErrNoPosition))
}

func TestPortfolio_BelowLot(t *testing.T) {
	p := New(testConfig())
	_, err := p.Open("X", day(0), 5000)
	assert.True(t, errors.Is(err, ErrBelowLot))
	assert.Equal(t, 1_000_000.0, p.Cash())
}

func TestPortfolio_MaxPositions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositions = 2
	cfg.MaxPositionFraction = 0.5
	p := New(cfg)

	_, err := p.Open("A", day(0), 10)
	require.NoError(t, err)
	_, err = p.Open("B", day(0), 10)
	require.NoError(t, err)
	_, err = p.Open("C", day(0), 10)
	assert.True(t, errors.Is(err, ErrMaxPositions))
	assert.Equal(t, []string{"A", "B"}, p.Symbols())
}

func TestPortfolio_CashNeverNegative(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositions = 0
	cfg.MaxPositionFraction = 1
	p := New(cfg)

	for _, sym := range []string{"A", "B", "C"} {
		_, _ = p.Open(sym, day(0), 7.77)
		assert.GreaterOrEqual(t, p.Cash(), 0.0)
	}
	assert.Equal(t, 1, p.OpenCount())
}

func TestPortfolio_MarkAndStop(t *testing.T) {
	p := New(testConfig())
	_, err := p.Open("A", day(0), 10)
	require.NoError(t, err)

	hit, err := p.Mark("A", day(1), 12, 0.04)
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = p.Mark("A", day(2), 11.6, 0.04)
	require.NoError(t, err)
	assert.False(t, hit) // -3.3%

	hit, err = p.Mark("A", day(3), 11.5, 0.04)
	require.NoError(t, err)
	assert.True(t, hit) // -4.2%

	pos, ok := p.Position("A")
	require.True(t, ok)
	assert.Equal(t, 12.0, pos.PeakPrice)
	assert.Equal(t, 11.5, pos.LastClose)

	_, err = p.Mark("B", day(3), 1, 0.04)
	assert.True(t, errors.Is(err, ErrNoPosition))
}

func TestPortfolio_EquityAndRecord(t *testing.T) {
	p := New(testConfig())
	_, err := p.Open("A", day(0), 10)
	require.NoError(t, err)

	pt, err := p.Record(day(0))
	require.NoError(t, err)
	assert.InDelta(t, p.Cash()+19900*10, pt.Equity, 1e-6)
	assert.Equal(t, 1, pt.Positions)

	_, err = p.Mark("A", day(1), 11, 0)
	require.NoError(t, err)
	pt, err = p.Record(day(1))
	require.NoError(t, err)
	assert.InDelta(t, p.Cash()+19900*11, pt.Equity, 1e-6)

	_, err = p.Record(day(1))
	assert.True(t, errors.Is(err, ErrNonMonotonicDay))
	assert.Len(t, p.EquityCurve(), 2)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "flat", StateFlat.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestPortfolio_OpenNeverExceedsAllocation(t *testing.T) {
	cfg := Config{
		InitialCapital:      100_000,
		CommissionRate:      0.0003,
		MaxPositionFraction: 0.3,
		MaxPositions:        3,
		LotSize:             1,
	}
	for _, rate := range []float64{0, 0.0003, 0.001, 0.1} {
		cfg.CommissionRate = rate
		for cents := 1; cents <= 5000; cents += 7 {
			price := float64(cents) / 100
			p := New(cfg)
			alloc := p.Allocation()
			pos, err := p.Open("A", day(0), price)
			if errors.Is(err, ErrBelowLot) {
				continue
			}
			require.NoError(t, err)
			require.LessOrEqual(t, pos.CapitalCommitted, alloc, "rate %v price %v", rate, price)
			require.GreaterOrEqual(t, p.Cash(), 0.0)
		}
	}
}
