// Package worker provides the process shell that feeds runs to the workflow
// executor: configuration, store lifecycle, and a signal-driven consume loop.
package worker

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Driver names accepted by Config.Driver.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config holds worker process settings.
//
// Settings load from an optional YAML file, then environment variables
// (FLOWSTATE_*) override file values. All fields have working defaults except
// DSN for the mysql driver.
type Config struct {
	// Name identifies this worker in logs.
	Name string `yaml:"name"`

	// Driver selects the checkpoint store backend: "sqlite" or "mysql".
	Driver string `yaml:"driver"`

	// DSN is the store connection string: a file path for sqlite, a
	// go-sql-driver DSN (with parseTime=true) for mysql.
	DSN string `yaml:"dsn"`

	// PoolSize bounds concurrent in-flight store operations (mysql only).
	PoolSize int `yaml:"pool_size"`

	// MaxSteps bounds the total steps per run. Zero disables the guard.
	MaxSteps int `yaml:"max_steps"`

	// Concurrency is the number of runs this worker drives at once.
	Concurrency int `yaml:"concurrency"`

	// PollInterval is the idle delay between source polls.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// LoadConfig builds a Config from an optional YAML file at path (skipped when
// path is empty) with FLOWSTATE_* environment overrides applied on top.
//
// Environment variables: FLOWSTATE_WORKER_NAME, FLOWSTATE_DRIVER,
// FLOWSTATE_DSN, FLOWSTATE_POOL_SIZE, FLOWSTATE_MAX_STEPS,
// FLOWSTATE_CONCURRENCY, FLOWSTATE_POLL_INTERVAL, FLOWSTATE_DEBUG.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		Name:         "flowstate-worker",
		Driver:       DriverSQLite,
		DSN:          "./flowstate.db",
		PoolSize:     5,
		MaxSteps:     1000,
		Concurrency:  1,
		PollInterval: time.Second,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FLOWSTATE_WORKER_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("FLOWSTATE_DRIVER"); v != "" {
		c.Driver = v
	}
	if v := os.Getenv("FLOWSTATE_DSN"); v != "" {
		c.DSN = v
	}
	if v := os.Getenv("FLOWSTATE_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FLOWSTATE_POOL_SIZE %q: %w", v, err)
		}
		c.PoolSize = n
	}
	if v := os.Getenv("FLOWSTATE_MAX_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FLOWSTATE_MAX_STEPS %q: %w", v, err)
		}
		c.MaxSteps = n
	}
	if v := os.Getenv("FLOWSTATE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FLOWSTATE_CONCURRENCY %q: %w", v, err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv("FLOWSTATE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FLOWSTATE_POLL_INTERVAL %q: %w", v, err)
		}
		c.PollInterval = d
	}
	if v := os.Getenv("FLOWSTATE_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FLOWSTATE_DEBUG %q: %w", v, err)
		}
		c.Debug = b
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverSQLite, DriverMySQL:
	default:
		return fmt.Errorf("unknown driver %q (want %q or %q)", c.Driver, DriverSQLite, DriverMySQL)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return nil
}

// RedactedDSN returns the DSN with any credential section removed, safe for
// logging.
func (c *Config) RedactedDSN() string {
	if i := strings.LastIndex(c.DSN, "@"); i >= 0 {
		return "***@" + c.DSN[i+1:]
	}
	return c.DSN
}
