package bars

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/screener/internal/core"
)

type countingFetcher struct {
	bars  []core.OHLCV
	err   error
	calls int
}

func (f *countingFetcher) FetchHistory(symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	f.calls++
	return f.bars, f.err
}

func TestCachedProvider_BackfillsThenHits(t *testing.T) {
	up := &countingFetcher{bars: []core.OHLCV{
		bar("AAPL", day(2024, 1, 2), 10),
		bar("AAPL", day(2024, 1, 3), 11),
		bar("AAPL", day(2024, 1, 31), 12),
	}}
	p := NewCachedProvider(NewParquetStore(t.TempDir()), up, nil)

	got, err := p.FetchHistory("AAPL", day(2024, 1, 1), day(2024, 1, 31), "1d")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, up.calls)

	got, err = p.FetchHistory("AAPL", day(2024, 1, 1), day(2024, 1, 31), "1d")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 1, up.calls, "second read served from cache")

	_, err = p.FetchHistory("AAPL", day(2023, 6, 1), day(2024, 1, 31), "1d")
	require.NoError(t, err)
	assert.Equal(t, 2, up.calls, "range before the cache refetches")
}

func TestCachedProvider_UpstreamError(t *testing.T) {
	up := &countingFetcher{err: core.ErrCollectorFailed}
	p := NewCachedProvider(NewParquetStore(t.TempDir()), up, nil)

	_, err := p.FetchHistory("AAPL", day(2024, 1, 1), day(2024, 1, 31), "1d")
	assert.True(t, errors.Is(err, core.ErrCollectorFailed))
}

func TestCachedProvider_Offline(t *testing.T) {
	store := NewParquetStore(t.TempDir())
	p := NewCachedProvider(store, nil, nil)

	_, err := p.FetchHistory("AAPL", day(2024, 1, 1), day(2024, 1, 31), "1d")
	assert.True(t, errors.Is(err, core.ErrNoData))

	require.NoError(t, store.WriteBars(context.Background(), []core.OHLCV{bar("AAPL", day(2024, 1, 10), 10)}))
	got, err := p.FetchHistory("AAPL", day(2024, 1, 1), day(2024, 1, 31), "1d")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCachedProvider_OtherIntervalsPassThrough(t *testing.T) {
	up := &countingFetcher{bars: []core.OHLCV{bar("AAPL", day(2024, 1, 2), 10)}}
	store := NewParquetStore(t.TempDir())
	p := NewCachedProvider(store, up, nil)

	_, err := p.FetchHistory("AAPL", day(2024, 1, 1), day(2024, 1, 31), "1w")
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)

	syms, err := store.ListSymbols(context.Background(), core.MarketUS)
	require.NoError(t, err)
	assert.Empty(t, syms)
}
