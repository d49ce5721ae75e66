// Package config layers environment variables, an optional YAML tuning
// file, and the declarative JSON plugin-metadata file into Amadeus's
// runtime configuration.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds Amadeus's environment-sourced settings.
type Env struct {
	DBPath      string `env:"AMADEUS_DB_PATH" envDefault:"amadeus.db"`
	LogLevel    string `env:"AMADEUS_LOG" envDefault:"info"`
	IPCDir      string `env:"AMADEUS_IPC_DIR" envDefault:"/dev/shm"`
	StopTimeout string `env:"AMADEUS_STOP_TIMEOUT" envDefault:"5s"`
}

// LoadEnv binds the process environment into an Env.
func LoadEnv() (Env, error) {
	cfg, err := env.ParseAs[Env]()
	if err != nil {
		return Env{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}
