package orchestration

import (
	"time"

	"github.com/koscakluka/ema-graph/internal/config"
)

// Config holds the tunables of a System that can come from the environment.
type Config struct {
	MaxContextEvents int           `env:"EMA_MAX_CONTEXT_EVENTS" envDefault:"100"`
	ShutdownGrace    time.Duration `env:"EMA_SHUTDOWN_GRACE" envDefault:"5s"`
}

func DefaultConfig() Config {
	return Config{
		MaxContextEvents: 100,
		ShutdownGrace:    5 * time.Second,
	}
}

// LoadConfig reads the configuration from the environment, falling back to
// the defaults for unset variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
