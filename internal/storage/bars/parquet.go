// Package bars caches daily OHLCV history on disk as Parquet files.
package bars

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/newthinker/screener/internal/core"
)

// Record is the Parquet schema for one daily bar.
type Record struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, UTC midnight
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// ParquetStore keeps bars in one file per symbol and year:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a store rooted at dataDir.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// WriteBars merges bars into the files of their symbol and year. A bar for a
// date already on disk replaces the stored one.
func (s *ParquetStore) WriteBars(_ context.Context, bars []core.OHLCV) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]Record)
	for _, b := range bars {
		sym := core.NormalizeSymbol(b.Symbol)
		day := core.Date(b.Time)
		k := key{symbol: sym, year: day.Year()}
		groups[k] = append(groups[k], Record{
			Symbol:    sym,
			Timestamp: day.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, k.year)

		existing, err := readParquetFile[Record](path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return core.WrapError(core.ErrStorageFailed, fmt.Errorf("reading %s: %w", path, err))
		}
		if err := writeParquetFile(path, mergeRecords(existing, records)); err != nil {
			return core.WrapError(core.ErrStorageFailed, fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err))
		}
	}
	return nil
}

// ReadBars returns the cached bars of symbol within [start, end], by date.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, start, end time.Time) ([]core.OHLCV, error) {
	symbol = core.NormalizeSymbol(symbol)
	start, end = core.Date(start), core.Date(end)

	var out []core.OHLCV
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[Record](s.barPath(symbol, year))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("reading %s/%d: %w", symbol, year, err))
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			out = append(out, core.OHLCV{
				Symbol:   r.Symbol,
				Interval: "1d",
				Open:     r.Open,
				High:     r.High,
				Low:      r.Low,
				Close:    r.Close,
				Volume:   r.Volume,
				Time:     ts,
			})
		}
	}
	return out, nil
}

// ListSymbols lists the symbols with cached bars in market, sorted.
func (s *ParquetStore) ListSymbols(_ context.Context, market core.Market) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, marketDir(market), "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *ParquetStore) barPath(symbol string, year int) string {
	market := marketDir(core.MarketOf(symbol))
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), strconv.Itoa(year)+".parquet")
}

func marketDir(m core.Market) string {
	return strings.ToLower(string(m))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeRecords deduplicates by timestamp, incoming winning, sorted by time.
func mergeRecords(existing, incoming []Record) []Record {
	seen := make(map[int64]Record, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]Record, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
