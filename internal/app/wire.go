package app

import (
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/newthinker/screener/internal/collector/alpaca"
	"github.com/newthinker/screener/internal/collector/eastmoney"
	"github.com/newthinker/screener/internal/collector/yahoo"
	"github.com/newthinker/screener/internal/config"
	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/metrics"
	"github.com/newthinker/screener/internal/notifier"
	"github.com/newthinker/screener/internal/notifier/telegram"
	"github.com/newthinker/screener/internal/notifier/webhook"
	"github.com/newthinker/screener/internal/storage/archive"
	"github.com/newthinker/screener/internal/storage/bars"
	signalstore "github.com/newthinker/screener/internal/storage/signal"
	"github.com/newthinker/screener/internal/strategy/pullback"
)

// NewFromConfig builds an App with collectors, bar cache, stores and the
// pullback strategy wired from cfg. cfg must already be validated.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, reg *metrics.Registry) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []Option{WithLogger(logger), WithMetrics(reg)}
	var closers []*signalstore.SQLiteStore

	em := eastmoney.New(
		eastmoney.WithLogger(logger.Named("eastmoney")),
		eastmoney.WithTransport(metrics.InstrumentTransport("eastmoney", reg, logger, http.DefaultTransport)),
	)
	if err := em.Init(cfg.Data.Eastmoney.Collector()); err != nil {
		return nil, err
	}
	opts = append(opts, WithUniverse(em))

	var al *alpaca.Alpaca
	if cfg.Data.Alpaca.APIKey != "" && cfg.Data.Alpaca.APISecret != "" {
		al = alpaca.New(alpaca.WithLogger(logger.Named("alpaca")))
		if err := al.Init(cfg.Data.Alpaca.Collector()); err != nil {
			return nil, err
		}
	}

	yh := yahoo.New(
		yahoo.WithLogger(logger.Named("yahoo")),
		yahoo.WithTransport(metrics.InstrumentTransport("yahoo", reg, logger, http.DefaultTransport)),
	)
	if err := yh.Init(cfg.Data.Yahoo.Collector()); err != nil {
		return nil, err
	}

	switch cfg.Data.Source {
	case config.SourceCache:
		store := bars.NewParquetStore(cfg.Data.CacheDir)
		opts = append(opts, WithProvider(bars.NewCachedProvider(store, nil, logger)))
	case config.SourceAlpaca:
		if al == nil {
			return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("alpaca credentials required"))
		}
	}

	switch cfg.Storage.Signals.Type {
	case "sqlite":
		s, err := signalstore.NewSQLiteStore(cfg.Storage.Signals.Path)
		if err != nil {
			return nil, err
		}
		closers = append(closers, s)
		opts = append(opts, WithSignalStore(s))
	default:
		opts = append(opts, WithSignalStore(signalstore.NewMemoryStore(10000)))
	}

	var storage archive.Storage
	switch cfg.Storage.Archive.Type {
	case "localfs":
		fs, err := archive.NewLocalFS(cfg.Storage.Archive.Path)
		if err != nil {
			return nil, core.WrapError(core.ErrStorageFailed, err)
		}
		storage = fs
	case "s3":
		s3cfg := cfg.Storage.Archive.S3
		s, err := archive.NewS3(archive.S3Config{
			Bucket:    s3cfg.Bucket,
			Endpoint:  s3cfg.Endpoint,
			Region:    s3cfg.Region,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			Prefix:    s3cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		storage = s
	}
	if storage != nil {
		opts = append(opts, WithReportStore(archive.NewReportStore(storage, logger)))
	}

	if n := newNotifiers(cfg.Notify); n.Len() > 0 {
		opts = append(opts, WithNotifiers(n))
	}

	a := New(cfg, opts...)
	for _, c := range closers {
		a.closers = append(a.closers, c)
	}

	// A-shares from Eastmoney, US equities from Alpaca or else Yahoo, routed
	// by symbol. The registry picks collectors by name, so alpaca wins.
	a.RegisterCollector(em)
	if al != nil {
		a.RegisterCollector(al)
	}
	a.RegisterCollector(yh)
	if cfg.Data.Source != config.SourceCache && cfg.Data.CacheDir != "" {
		store := bars.NewParquetStore(filepath.Clean(cfg.Data.CacheDir))
		a.provider = bars.NewCachedProvider(store, a.collectors, logger)
	}

	a.RegisterStrategy(pullback.New(cfg.PullbackConfig()))
	return a, nil
}

func newNotifiers(cfg config.NotifyConfig) *notifier.Registry {
	reg := notifier.NewRegistry()
	if tg := cfg.Telegram; tg.Enabled {
		t := telegram.New(tg.BotToken, tg.ChatID)
		if tg.APIURL != "" {
			t.WithAPIURL(tg.APIURL)
		}
		reg.Register(t)
	}
	if wh := cfg.Webhook; wh.Enabled {
		reg.Register(webhook.New(wh.URL, wh.Headers))
	}
	return reg
}
