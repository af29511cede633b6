// internal/storage/signal/interface.go
package signal

import (
	"context"
	"time"

	"github.com/newthinker/screener/internal/core"
)

// Store defines the interface for signal persistence.
type Store interface {
	// Save persists a signal and assigns an ID. Saving a signal for a
	// (strategy, symbol, date) already stored replaces it.
	Save(ctx context.Context, signal core.Signal) (string, error)

	// GetByID retrieves a signal by its ID.
	GetByID(ctx context.Context, id string) (*core.Signal, error)

	// List retrieves signals matching the filter, newest date first and by
	// symbol within a date.
	List(ctx context.Context, filter ListFilter) ([]core.Signal, error)

	// Count returns the number of signals matching the filter.
	Count(ctx context.Context, filter ListFilter) (int, error)
}

// ListFilter defines criteria for listing signals. From and To bound the
// signal date inclusively.
type ListFilter struct {
	Symbol       string
	Strategy     string
	SelectedOnly bool
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

func (f ListFilter) matches(sig core.Signal) bool {
	if f.Symbol != "" && sig.Symbol != f.Symbol {
		return false
	}
	if f.Strategy != "" && sig.Strategy != f.Strategy {
		return false
	}
	if f.SelectedOnly && !sig.Selected {
		return false
	}
	if !f.From.IsZero() && sig.Date.Before(core.Date(f.From)) {
		return false
	}
	if !f.To.IsZero() && sig.Date.After(core.Date(f.To)) {
		return false
	}
	return true
}

// page applies offset and limit.
func (f ListFilter) page(signals []core.Signal) []core.Signal {
	if f.Offset >= len(signals) {
		return []core.Signal{}
	}
	if f.Offset > 0 {
		signals = signals[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(signals) {
		signals = signals[:f.Limit]
	}
	return signals
}
