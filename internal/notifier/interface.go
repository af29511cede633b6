package notifier

import (
	"context"

	"github.com/newthinker/screener/internal/core"
)

// Config holds notifier configuration
type Config struct {
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

// Notifier delivers screening selections to an external channel.
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Init initializes the notifier with configuration
	Init(cfg Config) error

	// Send sends a single signal notification
	Send(ctx context.Context, signal core.Signal) error

	// SendBatch sends the selections of one screening run in one message.
	// An empty batch sends nothing.
	SendBatch(ctx context.Context, signals []core.Signal) error
}
