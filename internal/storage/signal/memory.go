// internal/storage/signal/memory.go
package signal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/newthinker/screener/internal/core"
)

// MemoryStore is an in-memory signal store.
type MemoryStore struct {
	signals []core.Signal
	maxSize int
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store with max capacity.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		signals: make([]core.Signal, 0, maxSize),
		maxSize: maxSize,
	}
}

// Save adds a signal to the store.
func (m *MemoryStore) Save(ctx context.Context, signal core.Signal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	signal.Date = core.Date(signal.Date)
	for i, s := range m.signals {
		if s.Strategy == signal.Strategy && s.Symbol == signal.Symbol && s.Date.Equal(signal.Date) {
			signal.ID = s.ID
			m.signals[i] = signal
			return signal.ID, nil
		}
	}

	signal.ID = uuid.NewString()
	m.signals = append(m.signals, signal)

	// Trim if over capacity (remove oldest)
	if len(m.signals) > m.maxSize {
		m.signals = m.signals[len(m.signals)-m.maxSize:]
	}

	return signal.ID, nil
}

// GetByID retrieves a signal by ID.
func (m *MemoryStore) GetByID(ctx context.Context, id string) (*core.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.signals {
		if m.signals[i].ID == id {
			sig := m.signals[i]
			return &sig, nil
		}
	}
	return nil, core.WrapError(core.ErrNoData, fmt.Errorf("signal %s not found", id))
}

// List returns signals matching the filter.
func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]core.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.Signal
	for _, sig := range m.signals {
		if filter.matches(sig) {
			result = append(result, sig)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].Symbol < result[j].Symbol
	})

	return filter.page(result), nil
}

// Count returns the count of matching signals.
func (m *MemoryStore) Count(ctx context.Context, filter ListFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, sig := range m.signals {
		if filter.matches(sig) {
			count++
		}
	}
	return count, nil
}
