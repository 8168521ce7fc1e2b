package config

import "time"

// SyncerConfig controls the worker that rebuilds when definitions change.
type SyncerConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Interval between fingerprint checks of the definitions directory.
	Interval time.Duration `envconfig:"INTERVAL" default:"30s" validate:"gt=0"`

	// RunOnStart builds once before the first tick.
	RunOnStart bool `envconfig:"RUN_ON_START" default:"true"`
}
