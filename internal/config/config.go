package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/newthinker/screener/internal/backtest"
	"github.com/newthinker/screener/internal/collector"
	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/strategy/pullback"
)

// EnvPrefix prefixes environment overrides, e.g. SCREENER_BACKTEST_STOP_LOSS_PCT.
const EnvPrefix = "SCREENER"

// Data sources.
const (
	SourceEastmoney = "eastmoney"
	SourceAlpaca    = "alpaca"
	SourceCache     = "cache" // offline, Parquet cache only
)

type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Strategy StrategyConfig `mapstructure:"strategy" yaml:"strategy"`
	Backtest BacktestConfig `mapstructure:"backtest" yaml:"backtest"`
	Data     DataConfig     `mapstructure:"data" yaml:"data"`
	Universe UniverseConfig `mapstructure:"universe" yaml:"universe"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Notify   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// StrategyConfig holds the pullback selection windows and thresholds.
// Percentages are whole numbers (3 means 3%).
type StrategyConfig struct {
	Name                string  `mapstructure:"name" yaml:"name"`
	MAShort             int     `mapstructure:"ma_short" yaml:"ma_short"`
	MAMid               int     `mapstructure:"ma_mid" yaml:"ma_mid"`
	MATrend             int     `mapstructure:"ma_trend" yaml:"ma_trend"`
	MAConfirm           int     `mapstructure:"ma_confirm" yaml:"ma_confirm"`
	HighWindow          int     `mapstructure:"high_window" yaml:"high_window"`
	RecentDays          int     `mapstructure:"recent_days" yaml:"recent_days"`
	PullbackLookback    int     `mapstructure:"pullback_lookback" yaml:"pullback_lookback"`
	PullbackMinPct      float64 `mapstructure:"pullback_min_pct" yaml:"pullback_min_pct"`
	PullbackMaxPct      float64 `mapstructure:"pullback_max_pct" yaml:"pullback_max_pct"`
	NewHighTolerancePct float64 `mapstructure:"new_high_tolerance_pct" yaml:"new_high_tolerance_pct"`
	Workers             int     `mapstructure:"workers" yaml:"workers"`
}

// BacktestConfig holds the simulation parameters. Fractions are decimals
// (0.04 means 4%). Dates are YYYY-MM-DD.
type BacktestConfig struct {
	Start               string  `mapstructure:"start" yaml:"start"`
	End                 string  `mapstructure:"end" yaml:"end"`
	InitialCapital      float64 `mapstructure:"initial_capital" yaml:"initial_capital"`
	CommissionRate      float64 `mapstructure:"commission_rate" yaml:"commission_rate"`
	StopLossPct         float64 `mapstructure:"stop_loss_pct" yaml:"stop_loss_pct"`
	MaxPositionFraction float64 `mapstructure:"max_position_fraction" yaml:"max_position_fraction"`
	MaxPositions        int     `mapstructure:"max_positions" yaml:"max_positions"`
	LotSize             int64   `mapstructure:"lot_size" yaml:"lot_size"`
	RebalanceWeekly     bool    `mapstructure:"rebalance_weekly" yaml:"rebalance_weekly"`
	RebalanceWeekday    int     `mapstructure:"rebalance_weekday" yaml:"rebalance_weekday"` // 0=Monday ... 6=Sunday
	EntryTiming         string  `mapstructure:"entry_timing" yaml:"entry_timing"`
	RiskFreeRate        float64 `mapstructure:"risk_free_rate" yaml:"risk_free_rate"`
}

type DataConfig struct {
	Source       string          `mapstructure:"source" yaml:"source"`
	CacheDir     string          `mapstructure:"cache_dir" yaml:"cache_dir"`
	FetchWorkers int             `mapstructure:"fetch_workers" yaml:"fetch_workers"`
	Eastmoney    CollectorConfig `mapstructure:"eastmoney" yaml:"eastmoney"`
	Alpaca       CollectorConfig `mapstructure:"alpaca" yaml:"alpaca"`
	// Yahoo serves US symbols when Alpaca credentials are absent.
	Yahoo CollectorConfig `mapstructure:"yahoo" yaml:"yahoo"`
}

type CollectorConfig struct {
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`
	APISecret string  `mapstructure:"api_secret" yaml:"api_secret"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Retries   int     `mapstructure:"retries" yaml:"retries"`
}

// UniverseConfig selects the symbols to evaluate: an explicit list, or the
// constituents of the top N industry sectors by net inflow.
type UniverseConfig struct {
	Symbols        []string `mapstructure:"symbols" yaml:"symbols"`
	SectorFlowTopN int      `mapstructure:"sector_flow_top_n" yaml:"sector_flow_top_n"`
	ExcludeSpecial bool     `mapstructure:"exclude_special" yaml:"exclude_special"`
}

type StorageConfig struct {
	Signals SignalStorageConfig  `mapstructure:"signals" yaml:"signals"`
	Archive ArchiveStorageConfig `mapstructure:"archive" yaml:"archive"`
}

type SignalStorageConfig struct {
	Type string `mapstructure:"type" yaml:"type"` // "memory" or "sqlite"
	Path string `mapstructure:"path" yaml:"path"` // For sqlite
}

type ArchiveStorageConfig struct {
	Type string   `mapstructure:"type" yaml:"type"` // "none", "localfs" or "s3"
	Path string   `mapstructure:"path" yaml:"path"` // For localfs
	S3   S3Config `mapstructure:"s3" yaml:"s3"`     // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

// MetricsConfig holds metrics configuration. File, when set, receives the
// Prometheus text exposition after each run.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	File    string `mapstructure:"file" yaml:"file"`
}

// NotifyConfig selects where daily selections are pushed.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook" yaml:"webhook"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID   string `mapstructure:"chat_id" yaml:"chat_id"`
	APIURL   string `mapstructure:"api_url" yaml:"api_url"`
}

type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled" yaml:"enabled"`
	URL     string            `mapstructure:"url" yaml:"url"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// Load reads configuration from file over the defaults. An empty path loads
// defaults and environment overrides only. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(Defaults())
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("reading defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("reading config: %w", err))
		}
	}

	// Support environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The Alpaca SDK's own variables are honoured as well.
	_ = v.BindEnv("data.alpaca.api_key", EnvPrefix+"_DATA_ALPACA_API_KEY", "APCA_API_KEY_ID")
	_ = v.BindEnv("data.alpaca.api_secret", EnvPrefix+"_DATA_ALPACA_API_SECRET", "APCA_API_SECRET_KEY")

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if ok && strings.Contains(val, "${") {
			v.Set(key, os.ExpandEnv(val))
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	return &cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	pb := pullback.DefaultConfig()
	bt := backtest.DefaultConfig()
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Strategy: StrategyConfig{
			Name:                pullback.Name,
			MAShort:             pb.MAShort,
			MAMid:               pb.MAMid,
			MATrend:             pb.MATrend,
			MAConfirm:           pb.MAConfirm,
			HighWindow:          pb.HighWindow,
			RecentDays:          pb.RecentDays,
			PullbackLookback:    pb.PullbackLookback,
			PullbackMinPct:      pb.PullbackMinPct,
			PullbackMaxPct:      pb.PullbackMaxPct,
			NewHighTolerancePct: pb.NewHighTolerancePct,
			Workers:             8,
		},
		Backtest: BacktestConfig{
			InitialCapital:      bt.InitialCapital,
			CommissionRate:      bt.CommissionRate,
			StopLossPct:         bt.StopLossPct,
			MaxPositionFraction: bt.MaxPositionFraction,
			MaxPositions:        bt.MaxPositions,
			LotSize:             bt.LotSize,
			RebalanceWeekly:     bt.Rebalance == backtest.RebalanceWeekly,
			RebalanceWeekday:    bt.RebalanceDay,
			EntryTiming:         string(bt.EntryTiming),
			RiskFreeRate:        bt.RiskFreeRate,
		},
		Data: DataConfig{
			Source:       SourceEastmoney,
			CacheDir:     "data",
			FetchWorkers: 4,
			Eastmoney: CollectorConfig{
				RateLimit: 5,
				Retries:   2,
			},
		},
		Universe: UniverseConfig{
			SectorFlowTopN: 5,
			ExcludeSpecial: true,
		},
		Storage: StorageConfig{
			Signals: SignalStorageConfig{
				Type: "sqlite",
				Path: "data/signals.db",
			},
			Archive: ArchiveStorageConfig{
				Type: "localfs",
				Path: "data/archive",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf(format, args...))
	}

	if err := c.Strategy.validate(); err != nil {
		return err
	}

	bt, err := c.BacktestConfig()
	if err != nil {
		return err
	}
	if err := bt.Validate(); err != nil {
		return err
	}

	switch c.Data.Source {
	case SourceEastmoney, SourceCache:
	case SourceAlpaca:
		if c.Data.Alpaca.APIKey == "" || c.Data.Alpaca.APISecret == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("alpaca api_key and api_secret required when source is alpaca"))
		}
	default:
		return invalid("data.source must be eastmoney, alpaca or cache, got %q", c.Data.Source)
	}
	if c.Data.Source == SourceCache && c.Data.CacheDir == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("data.cache_dir required when source is cache"))
	}

	if len(c.Universe.Symbols) == 0 && c.Universe.SectorFlowTopN <= 0 {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("universe needs symbols or a positive sector_flow_top_n"))
	}

	switch c.Storage.Signals.Type {
	case "memory":
	case "sqlite":
		if c.Storage.Signals.Path == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("storage.signals.path required for sqlite"))
		}
	default:
		return invalid("storage.signals.type must be memory or sqlite, got %q", c.Storage.Signals.Type)
	}

	switch c.Storage.Archive.Type {
	case "", "none":
	case "localfs":
		if c.Storage.Archive.Path == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("storage.archive.path required for localfs"))
		}
	case "s3":
		if c.Storage.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("storage.archive.s3.bucket required for s3"))
		}
	default:
		return invalid("storage.archive.type must be none, localfs or s3, got %q", c.Storage.Archive.Type)
	}

	if tg := c.Notify.Telegram; tg.Enabled && (tg.BotToken == "" || tg.ChatID == "") {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("notify.telegram needs bot_token and chat_id"))
	}
	if wh := c.Notify.Webhook; wh.Enabled && wh.URL == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("notify.webhook.url required"))
	}

	return nil
}

func (s StrategyConfig) validate() error {
	invalid := func(format string, args ...any) error {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf(format, args...))
	}

	if s.Name != pullback.Name {
		return invalid("unknown strategy %q", s.Name)
	}
	windows := map[string]int{
		"ma_short":          s.MAShort,
		"ma_mid":            s.MAMid,
		"ma_trend":          s.MATrend,
		"ma_confirm":        s.MAConfirm,
		"high_window":       s.HighWindow,
		"recent_days":       s.RecentDays,
		"pullback_lookback": s.PullbackLookback,
	}
	for _, name := range []string{"ma_short", "ma_mid", "ma_trend", "ma_confirm", "high_window", "recent_days", "pullback_lookback"} {
		if windows[name] < 1 {
			return invalid("%s must be at least 1, got %d", name, windows[name])
		}
	}
	if s.PullbackMinPct < 0 || s.PullbackMaxPct < s.PullbackMinPct {
		return invalid("pullback band [%v, %v] is invalid", s.PullbackMinPct, s.PullbackMaxPct)
	}
	if s.NewHighTolerancePct < 0 {
		return invalid("new_high_tolerance_pct cannot be negative, got %v", s.NewHighTolerancePct)
	}
	return nil
}

// PullbackConfig converts the strategy section.
func (c *Config) PullbackConfig() pullback.Config {
	s := c.Strategy
	return pullback.Config{
		MAShort:             s.MAShort,
		MAMid:               s.MAMid,
		MATrend:             s.MATrend,
		MAConfirm:           s.MAConfirm,
		HighWindow:          s.HighWindow,
		RecentDays:          s.RecentDays,
		PullbackLookback:    s.PullbackLookback,
		PullbackMinPct:      s.PullbackMinPct,
		PullbackMaxPct:      s.PullbackMaxPct,
		NewHighTolerancePct: s.NewHighTolerancePct,
	}
}

// BacktestConfig converts the backtest section, parsing its dates.
func (c *Config) BacktestConfig() (backtest.Config, error) {
	b := c.Backtest
	start, err := parseDate("backtest.start", b.Start)
	if err != nil {
		return backtest.Config{}, err
	}
	end, err := parseDate("backtest.end", b.End)
	if err != nil {
		return backtest.Config{}, err
	}
	rebalance := backtest.RebalanceNone
	if b.RebalanceWeekly {
		rebalance = backtest.RebalanceWeekly
	}
	return backtest.Config{
		Start:               start,
		End:                 end,
		InitialCapital:      b.InitialCapital,
		CommissionRate:      b.CommissionRate,
		StopLossPct:         b.StopLossPct,
		MaxPositionFraction: b.MaxPositionFraction,
		MaxPositions:        b.MaxPositions,
		LotSize:             b.LotSize,
		Rebalance:           rebalance,
		RebalanceDay:        b.RebalanceWeekday,
		EntryTiming:         backtest.EntryTiming(b.EntryTiming),
		RiskFreeRate:        b.RiskFreeRate,
	}, nil
}

// Collector converts a collector section.
func (cc CollectorConfig) Collector() collector.Config {
	return collector.Config{
		Enabled:   true,
		Interval:  "1d",
		APIKey:    cc.APIKey,
		APISecret: cc.APISecret,
		BaseURL:   cc.BaseURL,
		RateLimit: cc.RateLimit,
		Retries:   cc.Retries,
	}
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func parseDate(key, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("%s: %w", key, err))
	}
	return t, nil
}
