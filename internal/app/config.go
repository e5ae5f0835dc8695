package app

import (
	"errors"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ModsRoot string

	LogFormat  string
	LogLevel   string
	StatusPort int

	// TickInterval paces the update loop; TickCount bounds it. Zero ticks
	// means load the batch and exit, a negative count runs until the
	// context is cancelled.
	TickInterval time.Duration
	TickCount    int

	// Preload eagerly loads every asset right after its mod.
	Preload bool
	// Watch hot-reloads mods on manifest changes and refreshes assets on
	// content changes.
	Watch bool
}

// NewConfig validates a Config and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ModsRoot == "" {
		return nil, errors.New("ModsRoot is a required configuration field and cannot be empty")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	return &cfg, nil
}
