// Package config loads agent configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vitwit/x402-agent/types"
)

type Config struct {
	// StatePath is where the persisted state document lives.
	StatePath string `env:"X402_AGENT_STATE_PATH" envDefault:"x402-agent.json"`

	LogLevel string `env:"X402_AGENT_LOG_LEVEL" envDefault:"info"`

	// DispatchTimeout bounds every bus operation; callers treat an elapsed
	// timeout as failure and must not retry automatically.
	DispatchTimeout time.Duration `env:"X402_AGENT_DISPATCH_TIMEOUT" envDefault:"10s"`

	// Chain is the active network used when a challenge carries no usable
	// network descriptor.
	Chain string `env:"X402_AGENT_CHAIN" envDefault:"base"`

	EnableMetrics bool `env:"X402_AGENT_ENABLE_METRICS" envDefault:"false"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if !types.Network(cfg.Chain).IsSupported() {
		return Config{}, types.NewAgentError(types.ErrConfigError, "unsupported chain: %s", cfg.Chain)
	}
	return cfg, nil
}
