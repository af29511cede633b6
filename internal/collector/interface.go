package collector

import (
	"context"
	"time"

	"github.com/newthinker/screener/internal/core"
)

// Config holds collector configuration
type Config struct {
	Enabled   bool
	Markets   []string
	Interval  string
	APIKey    string
	APISecret string
	BaseURL   string
	// RateLimit is the maximum number of requests per second; 0 disables
	// pacing.
	RateLimit float64
	Retries   int
}

// Collector defines the interface for market data collectors
type Collector interface {
	// Metadata
	Name() string
	SupportedMarkets() []core.Market

	// Lifecycle
	Init(cfg Config) error
	Start(ctx context.Context) error
	Stop() error

	// Data fetching
	FetchHistory(symbol string, start, end time.Time, interval string) ([]core.OHLCV, error)
}

// Sector is an industry board ranked by main-force net inflow.
type Sector struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	NetInflow float64 `json:"net_inflow"`
}

// UniverseSource lists securities to screen.
type UniverseSource interface {
	TopInflowSectors(ctx context.Context, n int) ([]Sector, error)
	SectorConstituents(ctx context.Context, sector Sector) ([]core.Security, error)
}
