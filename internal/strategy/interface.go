package strategy

import (
	"github.com/newthinker/screener/internal/core"
	"github.com/newthinker/screener/internal/indicator"
)

// DataRequirements specifies what data a strategy needs
type DataRequirements struct {
	// Windows are the indicator windows the strategy reads from a snapshot.
	Windows indicator.Params
	// PriceHistory is the number of trading days needed before the first
	// evaluable day.
	PriceHistory int
}

// Strategy evaluates selection rules against indicator snapshots.
// Implementations must be pure: the same snapshot always yields the same
// signal, and Evaluate may be called concurrently.
type Strategy interface {
	Name() string
	Description() string
	RequiredData() DataRequirements
	Evaluate(symbol string, snap indicator.Snapshot) core.Signal
}
