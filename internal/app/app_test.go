package app

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/screener/internal/collector"
	"github.com/newthinker/screener/internal/config"
	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/indicator"
	"github.com/newthinker/screener/internal/metrics"
	"github.com/newthinker/screener/internal/notifier"
	"github.com/newthinker/screener/internal/storage/archive"
	signalstore "github.com/newthinker/screener/internal/storage/signal"
	"github.com/newthinker/screener/internal/strategy"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type mockProvider struct {
	data map[string][]core.OHLCV
	errs map[string]error
}

func (m *mockProvider) FetchHistory(symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	if err := m.errs[symbol]; err != nil {
		return nil, err
	}
	var out []core.OHLCV
	for _, b := range m.data[symbol] {
		if !b.Time.Before(start) && !b.Time.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

type mockUniverse struct {
	sectors []collector.Sector
	members map[string][]core.Security
	errs    map[string]error
}

func (m *mockUniverse) TopInflowSectors(ctx context.Context, n int) ([]collector.Sector, error) {
	if n < len(m.sectors) {
		return m.sectors[:n], nil
	}
	return m.sectors, nil
}

func (m *mockUniverse) SectorConstituents(ctx context.Context, s collector.Sector) ([]core.Security, error) {
	if err := m.errs[s.Code]; err != nil {
		return nil, err
	}
	return m.members[s.Code], nil
}

// rising selects when the close is above the 2-day MA.
type rising struct{}

func (rising) Name() string        { return "rising" }
func (rising) Description() string { return "mock" }
func (rising) RequiredData() strategy.DataRequirements {
	w := indicator.Params{MAShort: 2, MAMid: 2, MATrend: 2, MAConfirm: 2, HighWindow: 2, RecentDays: 1, PullbackLookback: 1}
	return strategy.DataRequirements{Windows: w, PriceHistory: 3}
}
func (rising) Evaluate(symbol string, snap indicator.Snapshot) core.Signal {
	return core.Signal{Symbol: symbol, Date: snap.Date, Selected: snap.Close > snap.MAShort, Reason: "up", Price: snap.Close}
}

func series(symbol string, closes ...float64) []core.OHLCV {
	bars := make([]core.OHLCV, len(closes))
	for i, c := range closes {
		bars[i] = core.OHLCV{Symbol: symbol, Open: c, High: c, Low: c, Close: c, Volume: 100, Time: jan1.AddDate(0, 0, i)}
	}
	return bars
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Strategy.Name = "rising"
	cfg.Universe.Symbols = nil
	cfg.Universe.SectorFlowTopN = 2
	return cfg
}

func testUniverse() *mockUniverse {
	return &mockUniverse{
		sectors: []collector.Sector{
			{Code: "BK1", Name: "银行", NetInflow: 3e9},
			{Code: "BK2", Name: "医疗", NetInflow: 1e9},
			{Code: "BK3", Name: "煤炭", NetInflow: 5e8},
		},
		members: map[string][]core.Security{
			"BK1": {
				{Symbol: "600001.SH", Name: "甲银行", Sector: "银行"},
				{Symbol: "600002.SH", Name: "*ST乙", Sector: "银行"},
			},
			"BK2": {
				{Symbol: "000003.SZ", Name: "丙医疗", Sector: "医疗"},
				{Symbol: "000004.SZ", Name: "丁医疗", Sector: "医疗"},
				{Symbol: "600001.SH", Name: "甲银行", Sector: "医疗"},
				{Symbol: "000005.SZ", Name: "戊医疗", Sector: "医疗"},
			},
			"BK3": {{Symbol: "600009.SH", Name: "己煤炭", Sector: "煤炭"}},
		},
	}
}

func TestApp_UniverseFromSectors(t *testing.T) {
	a := New(testConfig(), WithUniverse(testUniverse()))

	got, err := a.Universe(context.Background())
	require.NoError(t, err)

	var symbols []string
	for _, s := range got {
		symbols = append(symbols, s.Symbol)
	}
	assert.Equal(t, []string{"600001.SH", "000003.SZ", "000004.SZ", "000005.SZ"}, symbols)
	assert.Equal(t, "银行", got[0].Sector, "first sector wins for duplicates")
}

func TestApp_UniverseKeepsSpecialWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Universe.ExcludeSpecial = false
	a := New(cfg, WithUniverse(testUniverse()))

	got, err := a.Universe(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestApp_UniverseSkipsFailingSector(t *testing.T) {
	u := testUniverse()
	u.errs = map[string]error{"BK1": core.ErrCollectorFailed}
	a := New(testConfig(), WithUniverse(u))

	got, err := a.Universe(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, "医疗", got[0].Sector)
}

func TestApp_UniverseFromSymbols(t *testing.T) {
	cfg := testConfig()
	cfg.Universe.Symbols = []string{"sh600519", "600519.SH", "aapl"}
	a := New(cfg)

	got, err := a.Universe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []core.Security{{Symbol: "600519.SH"}, {Symbol: "AAPL"}}, got)
}

func TestApp_UniverseWithoutSource(t *testing.T) {
	_, err := New(testConfig()).Universe(context.Background())
	assert.True(t, errors.Is(err, core.ErrConfigMissing))
}

func TestApp_Screen(t *testing.T) {
	provider := &mockProvider{
		data: map[string][]core.OHLCV{
			"600001.SH": series("600001.SH", 10, 11, 12, 13),
			"000003.SZ": series("000003.SZ", 13, 12, 11, 10),
			"000005.SZ": series("000005.SZ", 10, 11, 12),
		},
		errs: map[string]error{"000004.SZ": core.ErrCollectorFailed},
	}
	store := signalstore.NewMemoryStore(100)
	reg := metrics.NewRegistry()
	a := New(testConfig(),
		WithUniverse(testUniverse()),
		WithProvider(provider),
		WithSignalStore(store),
		WithMetrics(reg),
	)
	a.RegisterStrategy(rising{})

	asOf := jan1.AddDate(0, 0, 3)
	res, err := a.Screen(context.Background(), asOf)
	require.NoError(t, err)

	assert.Equal(t, asOf, res.Date)
	assert.Equal(t, 4, res.Universe)
	assert.Equal(t, 2, res.Evaluated, "000005.SZ has no bar on the screening date")
	assert.Equal(t, []string{"000004.SZ"}, res.Dropped)
	require.Len(t, res.Selected, 1)
	assert.Equal(t, "600001.SH", res.Selected[0].Symbol)
	assert.Equal(t, "甲银行", res.Selected[0].Name)
	assert.Equal(t, "银行", res.Selected[0].Sector)
	assert.NotEmpty(t, res.Selected[0].ID)

	n, err := store.Count(context.Background(), signalstore.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var buf bytes.Buffer
	require.NoError(t, WriteSelections(&buf, res))
	assert.Contains(t, buf.String(), "600001.SH")
	assert.Contains(t, buf.String(), "13.00")
}

type recordingNotifier struct {
	name    string
	batches [][]core.Signal
	err     error
}

func (r *recordingNotifier) Name() string                   { return r.name }
func (r *recordingNotifier) Init(cfg notifier.Config) error { return nil }
func (r *recordingNotifier) Send(ctx context.Context, s core.Signal) error {
	return r.SendBatch(ctx, []core.Signal{s})
}
func (r *recordingNotifier) SendBatch(ctx context.Context, s []core.Signal) error {
	r.batches = append(r.batches, s)
	return r.err
}

func TestApp_ScreenNotifiesSelections(t *testing.T) {
	provider := &mockProvider{data: map[string][]core.OHLCV{
		"600001.SH": series("600001.SH", 10, 11, 12, 13),
		"000003.SZ": series("000003.SZ", 13, 12, 11, 10),
	}}
	rec := &recordingNotifier{name: "rec"}
	failing := &recordingNotifier{name: "failing", err: errors.New("down")}
	reg := notifier.NewRegistry()
	require.NoError(t, reg.Register(rec))
	require.NoError(t, reg.Register(failing))

	a := New(testConfig(), WithUniverse(testUniverse()), WithProvider(provider), WithNotifiers(reg))
	a.RegisterStrategy(rising{})

	res, err := a.Screen(context.Background(), jan1.AddDate(0, 0, 3))
	require.NoError(t, err, "notification failures do not fail the run")
	require.Len(t, res.Selected, 1)

	require.Len(t, rec.batches, 1)
	require.Len(t, rec.batches[0], 1)
	assert.Equal(t, "600001.SH", rec.batches[0][0].Symbol)
	assert.Len(t, failing.batches, 1)
}

func TestApp_ScreenSkipsNotifyWithoutSelections(t *testing.T) {
	provider := &mockProvider{data: map[string][]core.OHLCV{
		"000003.SZ": series("000003.SZ", 13, 12, 11, 10),
	}}
	rec := &recordingNotifier{name: "rec"}
	reg := notifier.NewRegistry()
	require.NoError(t, reg.Register(rec))

	a := New(testConfig(), WithUniverse(testUniverse()), WithProvider(provider), WithNotifiers(reg))
	a.RegisterStrategy(rising{})

	_, err := a.Screen(context.Background(), jan1.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Empty(t, rec.batches)
}

func TestApp_ScreenUnknownStrategy(t *testing.T) {
	a := New(testConfig(), WithUniverse(testUniverse()))
	_, err := a.Screen(context.Background(), jan1)
	assert.True(t, errors.Is(err, core.ErrStrategyNotFound))
}

func TestWriteSelections_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSelections(&buf, &ScreenResult{Date: jan1, Universe: 3, Evaluated: 2}))
	assert.Equal(t, "2024-01-01: no symbols selected (2 evaluated of 3)\n", buf.String())
}

func TestApp_BacktestArchivesReport(t *testing.T) {
	cfg := testConfig()
	cfg.Universe.Symbols = []string{"600001.SH"}
	cfg.Backtest.Start = "2024-01-01"
	cfg.Backtest.End = "2024-01-10"

	fs, err := archive.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	provider := &mockProvider{data: map[string][]core.OHLCV{
		"600001.SH": series("600001.SH", 10, 11, 12, 13, 14, 15, 16, 17, 18, 19),
	}}
	a := New(cfg, WithProvider(provider), WithReportStore(archive.NewReportStore(fs, nil)))
	a.RegisterStrategy(rising{})

	report, path, err := a.Backtest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"600001.SH"}, report.Symbols)
	assert.Equal(t, "backtests/"+report.RunID, path)

	loaded, err := a.Reports().Load(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, report.Stats.TotalTrades, loaded.Stats.TotalTrades)
}

func TestApp_BacktestWithoutArchive(t *testing.T) {
	cfg := testConfig()
	cfg.Universe.Symbols = []string{"600001.SH"}
	cfg.Backtest.Start = "2024-01-01"
	cfg.Backtest.End = "2024-01-10"

	a := New(cfg, WithProvider(&mockProvider{data: map[string][]core.OHLCV{
		"600001.SH": series("600001.SH", 10, 11, 12, 13, 14),
	}}))
	a.RegisterStrategy(rising{})

	_, path, err := a.Backtest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestNewFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Data.CacheDir = dir + "/cache"
	cfg.Storage.Signals.Path = dir + "/signals.db"
	cfg.Storage.Archive.Path = dir + "/archive"

	a, err := NewFromConfig(cfg, nil, metrics.NewRegistry())
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.strategies.Get("pullback")
	assert.True(t, ok)
	assert.NotNil(t, a.Reports())
	_, ok = a.collectors.Get("eastmoney")
	assert.True(t, ok)
	_, ok = a.collectors.Get("alpaca")
	assert.False(t, ok, "alpaca needs credentials")
	c, ok := a.collectors.ForMarket(core.MarketUS)
	require.True(t, ok)
	assert.Equal(t, "yahoo", c.Name())
	assert.Nil(t, a.notifiers)
}

func TestNewNotifiers(t *testing.T) {
	reg := newNotifiers(config.NotifyConfig{
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "tok", ChatID: "1"},
		Webhook:  config.WebhookConfig{Enabled: true, URL: "http://example.com/hook"},
	})
	require.Equal(t, 2, reg.Len())
	_, err := reg.Get("telegram")
	assert.NoError(t, err)
	_, err = reg.Get("webhook")
	assert.NoError(t, err)

	assert.Equal(t, 0, newNotifiers(config.NotifyConfig{}).Len())
}
