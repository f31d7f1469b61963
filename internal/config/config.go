package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	Env       string `envconfig:"ENV" default:"development"`
	JWTSecret string `envconfig:"JWT_SECRET"`

	RedisURL  string `envconfig:"REDIS_URL" default:"localhost:6379"`
	RedisPass string `envconfig:"REDIS_PASS"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	// LockStoreAddrs lists the independent Redis instances backing the
	// quorum lock. Empty means a single store at RedisURL.
	LockStoreAddrs  []string      `envconfig:"LOCK_STORE_ADDRS"`
	LockTTL         time.Duration `envconfig:"LOCK_TTL" default:"5s"`
	LockRetryCount  int           `envconfig:"LOCK_RETRY_COUNT" default:"10"`
	LockRetryDelay  time.Duration `envconfig:"LOCK_RETRY_DELAY" default:"200ms"`
	LockRetryJitter time.Duration `envconfig:"LOCK_RETRY_JITTER" default:"100ms"`
	LockDriftFactor float64       `envconfig:"LOCK_DRIFT_FACTOR" default:"0.01"`

	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseDSN    string `envconfig:"DATABASE_DSN" default:"wager.sqlite"`

	BalanceCeiling string   `envconfig:"LEDGER_BALANCE_CEILING" default:"1000000000000"`
	Assets         []string `envconfig:"LEDGER_ASSETS"`
	MinClaim       string   `envconfig:"LEDGER_MIN_CLAIM" default:"0"`
}

// Load reads the configuration from the process environment. Callers that
// want .env support load it with godotenv before calling Load.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver: %s", c.DatabaseDriver)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock ttl must be positive, got %s", c.LockTTL)
	}
	if c.LockRetryCount < 0 {
		return fmt.Errorf("lock retry count must not be negative, got %d", c.LockRetryCount)
	}
	if c.LockDriftFactor < 0 || c.LockDriftFactor >= 1 {
		return fmt.Errorf("lock drift factor must be in [0, 1), got %f", c.LockDriftFactor)
	}
	if _, err := c.Ceiling(); err != nil {
		return err
	}
	if _, err := c.MinimumClaim(); err != nil {
		return err
	}
	return nil
}

// LockStores returns the addresses of the lock stores, falling back to the
// main Redis instance.
func (c *Config) LockStores() []string {
	var addrs []string
	for _, addr := range c.LockStoreAddrs {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		return []string{c.RedisURL}
	}
	return addrs
}

func (c *Config) Ceiling() (decimal.Decimal, error) {
	ceiling, err := decimal.NewFromString(c.BalanceCeiling)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance ceiling %q: %w", c.BalanceCeiling, err)
	}
	if !ceiling.IsPositive() {
		return decimal.Zero, fmt.Errorf("balance ceiling must be positive, got %s", ceiling)
	}
	return ceiling, nil
}

func (c *Config) MinimumClaim() (decimal.Decimal, error) {
	minClaim, err := decimal.NewFromString(c.MinClaim)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid minimum claim %q: %w", c.MinClaim, err)
	}
	if minClaim.IsNegative() {
		return decimal.Zero, fmt.Errorf("minimum claim must not be negative, got %s", minClaim)
	}
	return minClaim, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
