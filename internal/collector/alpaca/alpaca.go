// Package alpaca collects US equity daily bars from the Alpaca market data API.
package alpaca

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"go.uber.org/zap"

	"github.com/newthinker/screener/internal/collector"
	"github.com/newthinker/screener/internal/core"
)

var _ collector.Collector = (*Alpaca)(nil)

// barsClient is the subset of *marketdata.Client the collector uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Alpaca implements collector.Collector for US equities.
type Alpaca struct {
	client barsClient
	config collector.Config
	logger *zap.Logger
}

// Option configures the collector.
type Option func(*Alpaca)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Alpaca) {
		if l != nil {
			a.logger = l
		}
	}
}

func withClient(c barsClient) Option {
	return func(a *Alpaca) {
		a.client = c
	}
}

// New creates an Alpaca collector. The client is built by Init.
func New(opts ...Option) *Alpaca {
	a := &Alpaca{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Alpaca) Name() string {
	return "alpaca"
}

func (a *Alpaca) SupportedMarkets() []core.Market {
	return []core.Market{core.MarketUS}
}

// Init builds the market data client from the API credentials. An empty
// BaseURL uses the SDK default endpoint.
func (a *Alpaca) Init(cfg collector.Config) error {
	a.config = cfg
	if a.client != nil {
		return nil
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("alpaca api key and secret are required"))
	}
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	a.client = marketdata.NewClient(opts)
	return nil
}

func (a *Alpaca) Start(ctx context.Context) error {
	return nil
}

func (a *Alpaca) Stop() error {
	return nil
}

// FetchHistory returns split and dividend adjusted daily bars.
func (a *Alpaca) FetchHistory(symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	if a.client == nil {
		return nil, core.WrapError(core.ErrCollectorFailed, fmt.Errorf("alpaca collector not initialized"))
	}

	symbol = core.NormalizeSymbol(symbol)
	bars, err := a.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      start,
		End:        end.AddDate(0, 0, 1),
	})
	if err != nil {
		return nil, core.WrapError(core.ErrCollectorFailed, fmt.Errorf("fetching bars for %s: %w", symbol, err))
	}
	if len(bars) == 0 {
		return nil, core.WrapError(core.ErrNoData, fmt.Errorf("no bars for symbol: %s", symbol))
	}

	out := make([]core.OHLCV, 0, len(bars))
	for _, b := range bars {
		out = append(out, core.OHLCV{
			Symbol:   symbol,
			Interval: interval,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   int64(b.Volume),
			Time:     core.Date(b.Timestamp),
		})
	}
	a.logger.Debug("fetched bars", zap.String("symbol", symbol), zap.Int("count", len(out)))
	return out, nil
}
