package collector

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/screener/internal/core"
)

// Registry manages collector plugins
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

// NewRegistry creates a new collector registry
func NewRegistry() *Registry {
	return &Registry{
		collectors: make(map[string]Collector),
	}
}

// Register adds a collector to the registry
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.Name()] = c
}

// Get retrieves a collector by name
func (r *Registry) Get(name string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	return c, ok
}

// GetAll returns all registered collectors ordered by name
func (r *Registry) GetAll() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// ForMarket returns the first collector, by name, that supports market.
func (r *Registry) ForMarket(market core.Market) (Collector, bool) {
	for _, c := range r.GetAll() {
		for _, m := range c.SupportedMarkets() {
			if m == market {
				return c, true
			}
		}
	}
	return nil, false
}

// FetchHistory routes a request to the collector serving the symbol's market.
// It lets a Registry act as the history provider of a backtest.
func (r *Registry) FetchHistory(symbol string, start, end time.Time, interval string) ([]core.OHLCV, error) {
	market := core.MarketOf(symbol)
	c, ok := r.ForMarket(market)
	if !ok {
		return nil, core.WrapError(core.ErrCollectorFailed, fmt.Errorf("no collector for market %s", market))
	}
	return c.FetchHistory(symbol, start, end, interval)
}
