// Package config assembles the process configuration from defaults and
// BDOSOA_* environment variables. Flags layered on top by main take
// precedence.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/bdosoa/bdosoa/internal/delivery"
	"github.com/bdosoa/bdosoa/internal/engine"
	"github.com/bdosoa/bdosoa/internal/server"
)

// Config is the full process configuration.
type Config struct {
	ListenAddr   string // HTTP listen address. Default :8080.
	DatabaseType string // "postgres" or "sqlite". Default sqlite.
	DatabaseDSN  string // Driver-specific DSN. Default bdosoa.db.
	LogLevel     string // debug, info, warn, error. Default info.

	Engine   engine.Config
	Delivery delivery.Config
	Server   server.Config
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ListenAddr:   ":8080",
		DatabaseType: "sqlite",
		DatabaseDSN:  "bdosoa.db",
		LogLevel:     "info",
		Engine:       engine.DefaultConfig(),
		Delivery:     delivery.DefaultConfig(),
		Server:       server.DefaultConfig(),
	}
}

// FromEnv loads configuration from environment variables.
// BDOSOA_LISTEN_ADDR, BDOSOA_DATABASE_TYPE, BDOSOA_DATABASE_DSN,
// BDOSOA_LOG_LEVEL, BDOSOA_ENGINE_WORKERS, BDOSOA_ENGINE_QUEUE_SIZE,
// BDOSOA_SWEEP_INTERVAL_SECONDS, BDOSOA_DELIVERY_TIMEOUT_SECONDS,
// BDOSOA_SYNC_PAGE_LIMIT
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("BDOSOA_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BDOSOA_DATABASE_TYPE"); v != "" {
		cfg.DatabaseType = v
	}
	if v := os.Getenv("BDOSOA_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("BDOSOA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("BDOSOA_ENGINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.Workers = n
		}
	}
	if v := os.Getenv("BDOSOA_ENGINE_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.QueueSize = n
		}
	}
	if v := os.Getenv("BDOSOA_SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.SweepInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("BDOSOA_DELIVERY_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Delivery.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("BDOSOA_SYNC_PAGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.SyncPageLimit = n
		}
	}

	return cfg
}
