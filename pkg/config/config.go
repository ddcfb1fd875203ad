// Package config holds the settings that drive a test environment: how the
// service under test is launched, when it counts as ready, and which
// database engine backs it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/mattn/go-shellwords"
)

// Readiness policy names.
const (
	PolicyDelay  = "delay"
	PolicyOutput = "output"
	PolicyNone   = "none"
)

// Database engine names.
const (
	EngineMongod    = "mongod"
	EngineContainer = "container"
)

// Duration is a time.Duration that decodes from strings such as "3s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete environment configuration.
type Config struct {
	// LogLevel is the logrus level for orchestrator logs.
	LogLevel string `toml:"log_level"`
	// LogFormat is either "text" or "json".
	LogFormat string `toml:"log_format"`
	// Echo forwards service and database output to the operator.
	Echo bool `toml:"echo"`
	// Service describes the process under test.
	Service ServiceConfig `toml:"service"`
	// Database describes the database sandbox.
	Database DatabaseConfig `toml:"database"`
}

// ServiceConfig describes how to launch the service under test.
type ServiceConfig struct {
	Command         string            `toml:"command"`
	Dir             string            `toml:"dir"`
	ThreadCount     int               `toml:"thread_count"`
	Env             map[string]string `toml:"env"`
	BufferSize      string            `toml:"buffer_size"`
	ShutdownTimeout Duration          `toml:"shutdown_timeout"`
	Readiness       ReadinessConfig   `toml:"readiness"`
}

// ReadinessConfig selects when a freshly started service is considered up.
type ReadinessConfig struct {
	Policy   string   `toml:"policy"`
	Delay    Duration `toml:"delay"`
	Pattern  string   `toml:"pattern"`
	Interval Duration `toml:"interval"`
	Timeout  Duration `toml:"timeout"`
}

// DatabaseConfig describes the throwaway database.
type DatabaseConfig struct {
	Engine       string   `toml:"engine"`
	Binary       string   `toml:"binary"`
	Image        string   `toml:"image"`
	Name         string   `toml:"name"`
	StartTimeout Duration `toml:"start_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Echo:      true,
		Service: ServiceConfig{
			Command:         "go run .",
			ThreadCount:     2,
			BufferSize:      "4MiB",
			ShutdownTimeout: Duration{10 * time.Second},
			Readiness: ReadinessConfig{
				Policy:   PolicyDelay,
				Delay:    Duration{3 * time.Second},
				Pattern:  "listening on",
				Interval: Duration{100 * time.Millisecond},
				Timeout:  Duration{20 * time.Second},
			},
		},
		Database: DatabaseConfig{
			Engine:       EngineMongod,
			Binary:       "mongod",
			Image:        "mongo:7",
			Name:         "mongo-web-api",
			StartTimeout: Duration{60 * time.Second},
		},
	}
}

// Load reads the configuration at path on top of the defaults, applies
// TESTENV_* environment overrides and validates the result. An empty path
// skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("unable to read configuration %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) error {
		if v, ok := lookup(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
		return nil
	}

	str("TESTENV_LOG_LEVEL", &c.LogLevel)
	str("TESTENV_LOG_FORMAT", &c.LogFormat)
	str("TESTENV_SERVICE_COMMAND", &c.Service.Command)
	str("TESTENV_SERVICE_DIR", &c.Service.Dir)
	str("TESTENV_BUFFER_SIZE", &c.Service.BufferSize)
	str("TESTENV_READINESS", &c.Service.Readiness.Policy)
	str("TESTENV_READINESS_PATTERN", &c.Service.Readiness.Pattern)
	str("TESTENV_DB_ENGINE", &c.Database.Engine)
	str("TESTENV_MONGOD_BINARY", &c.Database.Binary)
	str("TESTENV_MONGO_IMAGE", &c.Database.Image)
	str("TESTENV_DB_NAME", &c.Database.Name)

	if v, ok := lookup("TESTENV_ECHO"); ok && v != "" {
		echo, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TESTENV_ECHO: %w", err)
		}
		c.Echo = echo
	}
	if v, ok := lookup("TESTENV_THREAD_COUNT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TESTENV_THREAD_COUNT: %w", err)
		}
		c.Service.ThreadCount = n
	}
	return errors.Join(
		dur("TESTENV_READINESS_DELAY", &c.Service.Readiness.Delay),
		dur("TESTENV_READINESS_TIMEOUT", &c.Service.Readiness.Timeout),
		dur("TESTENV_SHUTDOWN_TIMEOUT", &c.Service.ShutdownTimeout),
		dur("TESTENV_DB_START_TIMEOUT", &c.Database.StartTimeout),
	)
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.ServiceArgv(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.BufferBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Service.ThreadCount < 1 {
		errs = append(errs, fmt.Errorf("thread_count must be positive, got %d", c.Service.ThreadCount))
	}
	if c.Service.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.Service.ShutdownTimeout.Duration))
	}
	if c.Database.StartTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("database start_timeout must be positive, got %s", c.Database.StartTimeout.Duration))
	}
	r := c.Service.Readiness
	switch r.Policy {
	case PolicyDelay:
		if r.Delay.Duration < 0 {
			errs = append(errs, errors.New("readiness delay must not be negative"))
		}
	case PolicyOutput:
		if r.Pattern == "" {
			errs = append(errs, errors.New("readiness pattern must be set for the output policy"))
		}
		if r.Interval.Duration <= 0 || r.Timeout.Duration <= 0 {
			errs = append(errs, errors.New("readiness interval and timeout must be positive"))
		}
	case PolicyNone:
	default:
		errs = append(errs, fmt.Errorf("unknown readiness policy %q", r.Policy))
	}
	switch c.Database.Engine {
	case EngineMongod, EngineContainer:
	default:
		errs = append(errs, fmt.Errorf("unknown database engine %q", c.Database.Engine))
	}
	if c.Database.Name == "" {
		errs = append(errs, errors.New("database name must be set"))
	}
	return errors.Join(errs...)
}

// ServiceArgv splits the service command into a program and its arguments.
func (c Config) ServiceArgv() ([]string, error) {
	argv, err := shellwords.Parse(c.Service.Command)
	if err != nil {
		return nil, fmt.Errorf("invalid service command %q: %w", c.Service.Command, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("service command is empty")
	}
	return argv, nil
}

// BufferBytes returns the output buffer capacity in bytes.
func (c Config) BufferBytes() (int, error) {
	if strings.TrimSpace(c.Service.BufferSize) == "" {
		return 0, nil
	}
	size, err := units.RAMInBytes(c.Service.BufferSize)
	if err != nil {
		return 0, fmt.Errorf("invalid buffer_size %q: %w", c.Service.BufferSize, err)
	}
	return int(size), nil
}
