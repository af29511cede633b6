package pullback

import (
	"fmt"
	"strings"

	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/indicator"
	"github.com/newthinker/screener/internal/strategy"
)

// Name is the registry name of the strategy.
const Name = "pullback"

// Config holds the selection thresholds.
type Config struct {
	MAShort          int
	MAMid            int
	MATrend          int
	MAConfirm        int
	HighWindow       int
	RecentDays       int
	PullbackLookback int

	PullbackMinPct      float64
	PullbackMaxPct      float64
	NewHighTolerancePct float64
}

// DefaultConfig returns the A-share defaults: MA5/MA20/MA60, a 60-day high
// printed within the last 20 days and a 3-20% pullback over 5 days.
func DefaultConfig() Config {
	return Config{
		MAShort:          5,
		MAMid:            20,
		MATrend:          60,
		MAConfirm:        10,
		HighWindow:       60,
		RecentDays:       20,
		PullbackLookback: 5,
		PullbackMinPct:   3,
		PullbackMaxPct:   20,
	}
}

// Pullback selects symbols in an established uptrend that made a recent high,
// pulled back, and closed back above the short MA on an up day.
type Pullback struct {
	cfg Config
}

// New creates a pullback strategy. A zero MAConfirm drops the trend-strength
// tag; any other window below 1 makes the strategy select nothing.
func New(cfg Config) *Pullback {
	return &Pullback{cfg: cfg}
}

func (p *Pullback) Name() string {
	return Name
}

func (p *Pullback) Description() string {
	return fmt.Sprintf("Trend pullback (MA%d/MA%d/MA%d, %dd high, %.0f-%.0f%% pullback)",
		p.cfg.MAShort, p.cfg.MAMid, p.cfg.MATrend, p.cfg.HighWindow,
		p.cfg.PullbackMinPct, p.cfg.PullbackMaxPct)
}

func (p *Pullback) RequiredData() strategy.DataRequirements {
	w := p.windows()
	return strategy.DataRequirements{
		Windows:      w,
		PriceHistory: w.Warmup() + max(w.RecentDays, w.PullbackLookback),
	}
}

func (p *Pullback) windows() indicator.Params {
	return indicator.Params{
		MAShort:          p.cfg.MAShort,
		MAMid:            p.cfg.MAMid,
		MATrend:          p.cfg.MATrend,
		MAConfirm:        p.cfg.MAConfirm,
		HighWindow:       p.cfg.HighWindow,
		RecentDays:       p.cfg.RecentDays,
		PullbackLookback: p.cfg.PullbackLookback,
	}
}

// Evaluate applies the four selection conditions. Conditions are checked in
// order and evaluation stops at the first failure, which is named in Reason.
func (p *Pullback) Evaluate(symbol string, s indicator.Snapshot) core.Signal {
	sig := core.Signal{
		Symbol:   symbol,
		Date:     s.Date,
		Strategy: Name,
		Price:    s.Close,
	}

	var fired []string
	fail := func(why string) core.Signal {
		sig.Reason = strings.Join(append(fired, "rejected: "+why), "; ")
		return sig
	}

	if !(s.MAMid > s.MATrend && s.Close > s.MATrend) {
		return fail(fmt.Sprintf("trend not established (MA%d<=MA%d or close<=MA%d)",
			p.cfg.MAMid, p.cfg.MATrend, p.cfg.MATrend))
	}
	fired = append(fired, fmt.Sprintf("MA%d>MA%d", p.cfg.MAMid, p.cfg.MATrend))

	if s.RecentHighGapPct > p.cfg.NewHighTolerancePct {
		return fail(fmt.Sprintf("no %dd high in last %dd", p.cfg.HighWindow, p.cfg.RecentDays))
	}
	fired = append(fired, fmt.Sprintf("%dd high within %dd", p.cfg.HighWindow, p.cfg.RecentDays))

	depth, inRange := p.pullbackDepth(s.RecentPullbacks)
	switch {
	case s.BrokeMAShortRecently && inRange:
		fired = append(fired, fmt.Sprintf("broke MA%d, pullback %.1f%%", p.cfg.MAShort, depth))
	case s.BrokeMAShortRecently:
		fired = append(fired, fmt.Sprintf("broke MA%d", p.cfg.MAShort))
	case inRange:
		fired = append(fired, fmt.Sprintf("pullback %.1f%%", depth))
	default:
		return fail("no pullback")
	}

	if !(s.Close > s.MAShort && s.Close > s.Open) {
		return fail(fmt.Sprintf("not stabilized above MA%d on an up day", p.cfg.MAShort))
	}
	fired = append(fired, fmt.Sprintf("close %.2f above MA%d", s.Close, p.cfg.MAShort))

	if p.cfg.MAConfirm > 0 {
		strength := "weak"
		if s.MAShort > s.MAConfirm {
			strength = "strong"
		}
		fired = append(fired, "trend "+strength)
	}

	sig.Selected = true
	sig.Reason = strings.Join(fired, "; ")
	return sig
}

// pullbackDepth returns the deepest pullback inside the configured band.
func (p *Pullback) pullbackDepth(pullbacks []float64) (float64, bool) {
	depth, found := 0.0, false
	for _, pct := range pullbacks {
		if pct >= p.cfg.PullbackMinPct && pct <= p.cfg.PullbackMaxPct && (!found || pct > depth) {
			depth, found = pct, true
		}
	}
	return depth, found
}
