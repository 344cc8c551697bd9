package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds settings only read from the environment.
type Env struct {
	Debug   bool   `env:"SWCACHE_DEBUG"`
	LogFile string `env:"SWCACHE_LOG_FILE"`

	// ConfigHome overrides the directory searched first for swcache.yml
	ConfigHome    string `env:"SWCACHE_CONFIG_HOME"`
	XDGConfigHome string `env:"XDG_CONFIG_HOME"`
}

// ParseEnv reads Env from the process environment.
func ParseEnv() (Env, error) {
	e, err := env.ParseAs[Env]()
	if err != nil {
		return Env{}, fmt.Errorf("error parsing environment: %w", err)
	}
	e.LogFile = ExpandPath(e.LogFile)
	return e, nil
}
