package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/screener/internal/backtest"
	"github.com/newthinker/screener/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
strategy:
  ma_short: 10
  pullback_max_pct: 15
backtest:
  start: "2023-01-01"
  end: "2023-12-31"
  stop_loss_pct: 0.05
  entry_timing: same_close
universe:
  symbols: ["600519", "000001.SZ"]
storage:
  archive:
    type: s3
    s3:
      bucket: reports
      access_key: "${TEST_SCREENER_S3_KEY}"
`)
	t.Setenv("TEST_SCREENER_S3_KEY", "AKIA123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Strategy.MAShort)
	assert.Equal(t, 20, cfg.Strategy.MAMid, "unset keys keep defaults")
	assert.Equal(t, 15.0, cfg.Strategy.PullbackMaxPct)
	assert.Equal(t, 0.05, cfg.Backtest.StopLossPct)
	assert.Equal(t, int64(100), cfg.Backtest.LotSize)
	assert.Equal(t, []string{"600519", "000001.SZ"}, cfg.Universe.Symbols)
	assert.Equal(t, "AKIA123", cfg.Storage.Archive.S3.AccessKey)
	require.NoError(t, cfg.Validate())

	bt, err := cfg.BacktestConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), bt.Start)
	assert.Equal(t, backtest.EntrySameClose, bt.EntryTiming)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SCREENER_BACKTEST_MAX_POSITIONS", "3")
	t.Setenv("SCREENER_DATA_SOURCE", "cache")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Backtest.MaxPositions)
	assert.Equal(t, SourceCache, cfg.Data.Source)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "pullback", cfg.Strategy.Name)
	assert.Equal(t, 60, cfg.Strategy.MATrend)
	assert.Equal(t, 0.04, cfg.Backtest.StopLossPct)
	assert.Equal(t, "next_open", cfg.Backtest.EntryTiming)
	assert.False(t, cfg.Backtest.RebalanceWeekly)
	assert.NoError(t, cfg.Validate())
}

func TestPullbackConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Strategy.NewHighTolerancePct = 1.5

	pb := cfg.PullbackConfig()
	assert.Equal(t, 5, pb.MAShort)
	assert.Equal(t, 1.5, pb.NewHighTolerancePct)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr *core.Error
	}{
		{"defaults", func(c *Config) {}, nil},
		{"unknown strategy", func(c *Config) { c.Strategy.Name = "momentum" }, core.ErrConfigInvalid},
		{"zero window", func(c *Config) { c.Strategy.MATrend = 0 }, core.ErrConfigInvalid},
		{"inverted band", func(c *Config) { c.Strategy.PullbackMinPct = 30 }, core.ErrConfigInvalid},
		{"bad date", func(c *Config) { c.Backtest.Start = "2023/01/01" }, core.ErrConfigInvalid},
		{"end before start", func(c *Config) {
			c.Backtest.Start, c.Backtest.End = "2023-06-01", "2023-01-01"
		}, core.ErrConfigInvalid},
		{"negative stop", func(c *Config) { c.Backtest.StopLossPct = -0.1 }, core.ErrConfigInvalid},
		{"bad entry timing", func(c *Config) { c.Backtest.EntryTiming = "whenever" }, core.ErrConfigInvalid},
		{"unknown source", func(c *Config) { c.Data.Source = "bloomberg" }, core.ErrConfigInvalid},
		{"alpaca without keys", func(c *Config) {
			c.Data.Source = SourceAlpaca
			c.Data.Alpaca = CollectorConfig{}
		}, core.ErrConfigMissing},
		{"empty universe", func(c *Config) { c.Universe.SectorFlowTopN = 0 }, core.ErrConfigMissing},
		{"symbols only", func(c *Config) {
			c.Universe.SectorFlowTopN = 0
			c.Universe.Symbols = []string{"600519"}
		}, nil},
		{"sqlite without path", func(c *Config) { c.Storage.Signals.Path = "" }, core.ErrConfigMissing},
		{"unknown archive", func(c *Config) { c.Storage.Archive.Type = "ftp" }, core.ErrConfigInvalid},
		{"no archive", func(c *Config) { c.Storage.Archive.Type = "none" }, nil},
		{"rebalance weekday 7", func(c *Config) {
			c.Backtest.RebalanceWeekly = true
			c.Backtest.RebalanceWeekday = 7
		}, core.ErrConfigInvalid},
		{"zero stop", func(c *Config) { c.Backtest.StopLossPct = 0 }, core.ErrConfigInvalid},
		{"telegram without token", func(c *Config) {
			c.Notify.Telegram = TelegramConfig{Enabled: true, ChatID: "1"}
		}, core.ErrConfigMissing},
		{"webhook without url", func(c *Config) { c.Notify.Webhook.Enabled = true }, core.ErrConfigMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestConfig_YAML(t *testing.T) {
	out, err := Defaults().YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "stop_loss_pct: 0.04")
	assert.Contains(t, string(out), "entry_timing: next_open")
}

func TestLoad_AlpacaEnv(t *testing.T) {
	t.Setenv("APCA_API_KEY_ID", "key")
	t.Setenv("APCA_API_SECRET_KEY", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Data.Alpaca.APIKey)
	assert.Equal(t, "secret", cfg.Data.Alpaca.APISecret)
}

func TestLoad_RebalanceOptions(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		mode    backtest.RebalanceMode
		weekday int
	}{
		{"disabled keeps weekday", "backtest:\n  rebalance_weekly: false\n  rebalance_weekday: 2\n", backtest.RebalanceNone, 2},
		{"weekly on wednesday", "backtest:\n  rebalance_weekly: true\n  rebalance_weekday: 2\n", backtest.RebalanceWeekly, 2},
		{"weekly defaults to monday", "backtest:\n  rebalance_weekly: true\n", backtest.RebalanceWeekly, 0},
		{"unset", "log:\n  level: info\n", backtest.RebalanceNone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			require.NoError(t, err)

			bt, err := cfg.BacktestConfig()
			require.NoError(t, err)
			assert.Equal(t, tt.mode, bt.Rebalance)
			assert.Equal(t, tt.weekday, bt.RebalanceDay)
		})
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	for _, content := range []string{
		"backtest:\n  rebalance: weekly\n",
		"backtest:\n  rebalance_day: 2\n",
		"strategy:\n  ma_long: 120\n",
	} {
		_, err := Load(writeConfig(t, content))
		require.Error(t, err, content)
		assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
	}
}
