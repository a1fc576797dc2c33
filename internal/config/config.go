// Package config reads server settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`
	DatabaseURL string `env:"DATABASE_URL"`

	StateTTL      time.Duration `env:"STATE_TTL" envDefault:"2h"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"5s"`
	SnapshotEvery int           `env:"SNAPSHOT_EVERY" envDefault:"5"`

	AbandonGrace     time.Duration `env:"ABANDON_GRACE" envDefault:"2m"`
	WatchdogInterval time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"15s"`
	// WatchdogEnabled runs the abandonment sweep inside the API server. Turn
	// it off when cmd/historian runs the sweep on its own.
	WatchdogEnabled bool `env:"WATCHDOG_ENABLED" envDefault:"true"`

	ChatTail    int `env:"CHAT_TAIL" envDefault:"50"`
	HistoryTail int `env:"HISTORY_TAIL" envDefault:"20"`

	TokenExpiry    time.Duration `env:"TOKEN_EXPIRE_TIME" envDefault:"168h"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`

	// Raw Ed25519 key files for signing tokens. Without them each process signs
	// with a fresh key and tokens do not survive a restart.
	JWTPrivateKeyPath string `env:"JWT_PRIVATE_KEY_PATH"`
	JWTPublicKeyPath  string `env:"JWT_PUBLIC_KEY_PATH"`
}

// Load parses the environment into a Config and checks the values that would
// otherwise wedge a game.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the session layer cannot run with.
func (c *Config) Validate() error {
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	if c.StateTTL <= c.LockTTL {
		return fmt.Errorf("STATE_TTL (%s) must exceed LOCK_TTL (%s)", c.StateTTL, c.LockTTL)
	}
	if c.SnapshotEvery < 1 {
		return fmt.Errorf("SNAPSHOT_EVERY must be at least 1")
	}
	if (c.JWTPrivateKeyPath == "") != (c.JWTPublicKeyPath == "") {
		return fmt.Errorf("JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH must be set together")
	}
	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("WATCHDOG_INTERVAL must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// Level resolves LOG_LEVEL, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
