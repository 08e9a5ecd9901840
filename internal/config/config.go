// Package config loads daemon settings from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls the daemon: listen address, persistence, and the
// scheduler's per-frame budgets.
type Config struct {
	Addr             string        `env:"HYDROFLOW_ADDR"           envDefault:":8090"`
	DBPath           string        `env:"HYDROFLOW_DB"             envDefault:""`
	FrameBudget      time.Duration `env:"HYDROFLOW_FRAME_BUDGET"   envDefault:"50ms"`
	MaxTasksPerFrame int           `env:"HYDROFLOW_MAX_TASKS"      envDefault:"10"`
	QueueCapacity    int           `env:"HYDROFLOW_QUEUE_CAPACITY" envDefault:"256"`
	IdleEnabled      bool          `env:"HYDROFLOW_IDLE"           envDefault:"true"`
	Debug            bool          `env:"HYDROFLOW_DEBUG"          envDefault:"false"`
}

// Load parses configuration from the environment, applying defaults
// for unset variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
