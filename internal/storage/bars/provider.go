package bars

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/screener/internal/core"
)

// HistoryFetcher is the upstream source of bars, usually a collector registry.
type HistoryFetcher interface {
	FetchHistory(symbol string, start, end time.Time, interval string) ([]core.OHLCV, error)
}

// DefaultSlack is how many calendar days the cache may miss at either end of
// a range and still count as covering it. Weekends and holidays leave gaps.
const DefaultSlack = 5

// CachedProvider serves daily history from a ParquetStore and back-fills it
// from upstream on a miss. A nil upstream makes it read-only.
type CachedProvider struct {
	store    *ParquetStore
	upstream HistoryFetcher
	slack    int
	logger   *zap.Logger
}

// NewCachedProvider wraps upstream with the store.
func NewCachedProvider(store *ParquetStore, upstream HistoryFetcher, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{store: store, upstream: upstream, slack: DefaultSlack, logger: logger}
}

// FetchHistory returns cached bars when they cover [start, end], otherwise
// fetches the range upstream and writes it to the cache.
func (p *CachedProvider) FetchHistory(symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	ctx := context.Background()
	if interval != "" && interval != "1d" {
		if p.upstream == nil {
			return nil, core.WrapError(core.ErrNoData, fmt.Errorf("interval %s not cached", interval))
		}
		return p.upstream.FetchHistory(symbol, start, end, interval)
	}

	cached, err := p.store.ReadBars(ctx, symbol, start, end)
	if err != nil {
		p.logger.Warn("bar cache read failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if p.covers(cached, start, end) || (p.upstream == nil && len(cached) > 0) {
		p.logger.Debug("bar cache hit", zap.String("symbol", symbol), zap.Int("bars", len(cached)))
		return cached, nil
	}
	if p.upstream == nil {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no cached bars for %s", symbol))
	}

	fetched, err := p.upstream.FetchHistory(symbol, start, end, interval)
	if err != nil {
		return nil, err
	}
	if err := p.store.WriteBars(ctx, fetched); err != nil {
		p.logger.Warn("bar cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
	return fetched, nil
}

func (p *CachedProvider) covers(bars []core.OHLCV, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	first := bars[0].Time
	last := bars[len(bars)-1].Time
	return !first.After(core.Date(start).AddDate(0, 0, p.slack)) &&
		!last.Before(core.Date(end).AddDate(0, 0, -p.slack))
}
