package strategy

import (
	"sort"
	"time"

	"github.com/newthinker/screener/internal/core"
)

// SignalBook indexes signals by (date, symbol). It is written once by the
// engine and read by the simulator without locking.
type SignalBook struct {
	byDate map[time.Time]map[string]core.Signal
	count  int
}

// NewSignalBook creates an empty book.
func NewSignalBook() *SignalBook {
	return &SignalBook{byDate: make(map[time.Time]map[string]core.Signal)}
}

// Add stores a signal, replacing any earlier one for the same key.
func (b *SignalBook) Add(sig core.Signal) {
	d := core.Date(sig.Date)
	day, ok := b.byDate[d]
	if !ok {
		day = make(map[string]core.Signal)
		b.byDate[d] = day
	}
	if _, exists := day[sig.Symbol]; !exists {
		b.count++
	}
	day[sig.Symbol] = sig
}

// Get returns the signal for a symbol on a date.
func (b *SignalBook) Get(date time.Time, symbol string) (core.Signal, bool) {
	sig, ok := b.byDate[core.Date(date)][symbol]
	return sig, ok
}

// All returns every signal of a date in ascending symbol order.
func (b *SignalBook) All(date time.Time) []core.Signal {
	day := b.byDate[core.Date(date)]
	out := make([]core.Signal, 0, len(day))
	for _, sig := range day {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Selected returns the selected signals of a date in ascending symbol order.
func (b *SignalBook) Selected(date time.Time) []core.Signal {
	day := b.byDate[core.Date(date)]
	out := make([]core.Signal, 0, len(day))
	for _, sig := range day {
		if sig.Selected {
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Dates returns every date holding at least one signal, ascending.
func (b *SignalBook) Dates() []time.Time {
	out := make([]time.Time, 0, len(b.byDate))
	for d := range b.byDate {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Before(out[j])
	})
	return out
}

// Len returns the number of stored signals.
func (b *SignalBook) Len() int {
	return b.count
}

// SelectedCount returns the number of selected signals across all dates.
func (b *SignalBook) SelectedCount() int {
	n := 0
	for _, day := range b.byDate {
		for _, sig := range day {
			if sig.Selected {
				n++
			}
		}
	}
	return n
}
