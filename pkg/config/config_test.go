package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, PolicyDelay, cfg.Service.Readiness.Policy)
	assert.Equal(t, 3*time.Second, cfg.Service.Readiness.Delay.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Service.Readiness.Interval.Duration)
	assert.Equal(t, 20*time.Second, cfg.Service.Readiness.Timeout.Duration)
	assert.Equal(t, 2, cfg.Service.ThreadCount)

	argv, err := cfg.ServiceArgv()
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "run", "."}, argv)

	size, err := cfg.BufferBytes()
	require.NoError(t, err)
	assert.Equal(t, 4*1024*1024, size)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testenv.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"
echo = false

[service]
command = "./bin/api --verbose 'two words'"
thread_count = 4
buffer_size = "64KiB"

[service.env]
JWT_SECRET = "s3cret"

[service.readiness]
policy = "output"
pattern = "Server is ready"
timeout = "5s"

[database]
engine = "container"
image = "mongo:6"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Echo)
	assert.Equal(t, 4, cfg.Service.ThreadCount)
	assert.Equal(t, "s3cret", cfg.Service.Env["JWT_SECRET"])
	assert.Equal(t, PolicyOutput, cfg.Service.Readiness.Policy)
	assert.Equal(t, "Server is ready", cfg.Service.Readiness.Pattern)
	assert.Equal(t, 5*time.Second, cfg.Service.Readiness.Timeout.Duration)
	// Untouched keys keep their defaults.
	assert.Equal(t, 100*time.Millisecond, cfg.Service.Readiness.Interval.Duration)
	assert.Equal(t, EngineContainer, cfg.Database.Engine)
	assert.Equal(t, "mongo:6", cfg.Database.Image)

	argv, err := cfg.ServiceArgv()
	require.NoError(t, err)
	assert.Equal(t, []string{"./bin/api", "--verbose", "two words"}, argv)

	size, err := cfg.BufferBytes()
	require.NoError(t, err)
	assert.Equal(t, 64*1024, size)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testenv.toml")
	require.NoError(t, os.WriteFile(path, []byte("[service.readiness]\ndelay = \"soon\"\n"), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "soon")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(lookupFrom(map[string]string{
		"TESTENV_SERVICE_COMMAND":   "go run ./cmd/api",
		"TESTENV_READINESS":         "output",
		"TESTENV_READINESS_TIMEOUT": "45s",
		"TESTENV_THREAD_COUNT":      "8",
		"TESTENV_ECHO":              "false",
		"TESTENV_DB_ENGINE":         "container",
		"TESTENV_LOG_LEVEL":         "",
	}))
	require.NoError(t, err)
	assert.Equal(t, "go run ./cmd/api", cfg.Service.Command)
	assert.Equal(t, PolicyOutput, cfg.Service.Readiness.Policy)
	assert.Equal(t, 45*time.Second, cfg.Service.Readiness.Timeout.Duration)
	assert.Equal(t, 8, cfg.Service.ThreadCount)
	assert.False(t, cfg.Echo)
	assert.Equal(t, EngineContainer, cfg.Database.Engine)
	// Empty values do not override.
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestApplyEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "thread count", env: map[string]string{"TESTENV_THREAD_COUNT": "many"}},
		{name: "echo", env: map[string]string{"TESTENV_ECHO": "loud"}},
		{name: "timeout", env: map[string]string{"TESTENV_READINESS_TIMEOUT": "forever"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.Error(t, cfg.applyEnv(lookupFrom(tt.env)))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty command", mutate: func(c *Config) { c.Service.Command = "" }, wantErr: "service command is empty"},
		{name: "unbalanced quote", mutate: func(c *Config) { c.Service.Command = `go run "unterminated` }, wantErr: "invalid service command"},
		{name: "bad buffer", mutate: func(c *Config) { c.Service.BufferSize = "lots" }, wantErr: "invalid buffer_size"},
		{name: "zero threads", mutate: func(c *Config) { c.Service.ThreadCount = 0 }, wantErr: "thread_count"},
		{name: "unknown policy", mutate: func(c *Config) { c.Service.Readiness.Policy = "vibes" }, wantErr: "unknown readiness policy"},
		{name: "output without pattern", mutate: func(c *Config) {
			c.Service.Readiness.Policy = PolicyOutput
			c.Service.Readiness.Pattern = ""
		}, wantErr: "pattern"},
		{name: "output zero timeout", mutate: func(c *Config) {
			c.Service.Readiness.Policy = PolicyOutput
			c.Service.Readiness.Timeout = Duration{}
		}, wantErr: "interval and timeout"},
		{name: "unknown engine", mutate: func(c *Config) { c.Database.Engine = "sqlite" }, wantErr: "unknown database engine"},
		{name: "no db name", mutate: func(c *Config) { c.Database.Name = "" }, wantErr: "database name"},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Service.ShutdownTimeout = Duration{} }, wantErr: "shutdown_timeout must be positive"},
		{name: "negative shutdown timeout", mutate: func(c *Config) { c.Service.ShutdownTimeout = Duration{-time.Second} }, wantErr: "shutdown_timeout must be positive"},
		{name: "zero start timeout", mutate: func(c *Config) { c.Database.StartTimeout = Duration{} }, wantErr: "start_timeout must be positive"},
		{name: "none policy", mutate: func(c *Config) { c.Service.Readiness.Policy = PolicyNone }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}
