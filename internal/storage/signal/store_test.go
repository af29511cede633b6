package signal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/screener/internal/core"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "signals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(100),
		"sqlite": sq,
	}
}

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for _, sig := range []core.Signal{
		{Symbol: "600036.SH", Name: "招商银行", Date: day(2), Selected: true, Reason: "trend strong", Strategy: "pullback", Price: 35.2},
		{Symbol: "000001.SZ", Date: day(2), Selected: false, Reason: "rejected: no pullback", Strategy: "pullback", Price: 10.1},
		{Symbol: "000001.SZ", Date: day(3), Selected: true, Strategy: "pullback", Price: 10.4},
		{Symbol: "AAPL", Date: day(3), Selected: true, Strategy: "other", Price: 190},
	} {
		_, err := s.Save(ctx, sig)
		require.NoError(t, err)
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sig := core.Signal{Symbol: "600036.SH", Name: "招商银行", Date: day(2), Selected: true, Reason: "ok", Strategy: "pullback", Price: 35.2}

			id, err := s.Save(ctx, sig)
			require.NoError(t, err)
			require.NotEmpty(t, id)

			got, err := s.GetByID(ctx, id)
			require.NoError(t, err)
			sig.ID = id
			assert.Equal(t, sig, *got)

			_, err = s.GetByID(ctx, "missing")
			assert.True(t, errors.Is(err, core.ErrNoData))
		})
	}
}

func TestStore_SaveReplacesSameDay(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, err := s.Save(ctx, core.Signal{Symbol: "AAPL", Date: day(2), Strategy: "pullback", Reason: "a"})
			require.NoError(t, err)
			second, err := s.Save(ctx, core.Signal{Symbol: "AAPL", Date: day(2), Strategy: "pullback", Reason: "b", Selected: true})
			require.NoError(t, err)
			assert.Equal(t, first, second)

			n, err := s.Count(ctx, ListFilter{})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got, err := s.GetByID(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, "b", got.Reason)
			assert.True(t, got.Selected)
		})
	}
}

func TestStore_ListFilters(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s)
			ctx := context.Background()

			all, err := s.List(ctx, ListFilter{})
			require.NoError(t, err)
			require.Len(t, all, 4)
			// newest first, then by symbol
			assert.Equal(t, []string{"000001.SZ", "AAPL", "000001.SZ", "600036.SH"},
				[]string{all[0].Symbol, all[1].Symbol, all[2].Symbol, all[3].Symbol})

			got, err := s.List(ctx, ListFilter{Strategy: "pullback", SelectedOnly: true})
			require.NoError(t, err)
			assert.Len(t, got, 2)

			got, err = s.List(ctx, ListFilter{Symbol: "000001.SZ"})
			require.NoError(t, err)
			assert.Len(t, got, 2)

			got, err = s.List(ctx, ListFilter{From: day(3), To: day(3)})
			require.NoError(t, err)
			assert.Len(t, got, 2)

			got, err = s.List(ctx, ListFilter{Limit: 1, Offset: 1})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "AAPL", got[0].Symbol)

			got, err = s.List(ctx, ListFilter{Offset: 10})
			require.NoError(t, err)
			assert.Empty(t, got)

			n, err := s.Count(ctx, ListFilter{SelectedOnly: true})
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestMemoryStore_MaxSize(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()

	store.Save(ctx, core.Signal{Symbol: "A", Date: day(2)})
	store.Save(ctx, core.Signal{Symbol: "B", Date: day(2)})
	store.Save(ctx, core.Signal{Symbol: "C", Date: day(2)})

	signals, _ := store.List(ctx, ListFilter{})
	if len(signals) != 2 {
		t.Errorf("expected 2 (max size), got %d", len(signals))
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.Save(context.Background(), core.Signal{Symbol: "AAPL", Date: day(2), Strategy: "pullback"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
