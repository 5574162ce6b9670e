package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/ledgerfeed/service/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, DefaultXRPNodes, cfg.XRPNodes)
	assert.Equal(t, cluster.SelectOrdered, cfg.XRPSelection)
	assert.Equal(t, 10*time.Second, cfg.XRPAttemptTimeout)
	assert.Equal(t, 200, cfg.XRPPageLimit)
	assert.Equal(t, 30*time.Second, cfg.DefaultPollInterval)
	assert.Equal(t, 10*time.Second, cfg.MinPollInterval)
	assert.Equal(t, 10, cfg.PollMaxPages)
	assert.Equal(t, "ledgerfeed-address-polling", cfg.TemporalTaskQueue)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_PrefixedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGERFEED_DATABASE_URL", "postgres://prefixed/db")
	t.Setenv("LEDGERFEED_XRP_NODES", "https://a.example:51234, https://b.example")
	t.Setenv("LEDGERFEED_XRP_SELECTION", "round_robin")
	t.Setenv("LEDGERFEED_XRP_ATTEMPT_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://prefixed/db", cfg.DatabaseURL)
	assert.Equal(t, []string{"https://a.example:51234", "https://b.example"}, cfg.XRPNodes)
	assert.Equal(t, cluster.SelectRoundRobin, cfg.XRPSelection)
	assert.Equal(t, 3*time.Second, cfg.XRPAttemptTimeout)
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("LEDGERFEED_DATABASE_URL", "postgres://prefixed/db")
	t.Setenv("DATABASE_URL", "postgres://plain/db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://prefixed/db", cfg.DatabaseURL)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ledgerfeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://file/db
xrp:
  nodes:
    - https://s1.ripple.com:51234/
    - http://localhost:5005
  selection: random
  page_limit: 50
poll:
  default_interval: 1m
`), 0o600))

	// Environment still overrides the file.
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LEDGERFEED_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://file/db", cfg.DatabaseURL)
	assert.Equal(t, []string{"https://s1.ripple.com:51234/", "http://localhost:5005"}, cfg.XRPNodes)
	assert.Equal(t, cluster.SelectRandom, cfg.XRPSelection)
	assert.Equal(t, 50, cfg.XRPPageLimit)
	assert.Equal(t, time.Minute, cfg.DefaultPollInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFile_Missing(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "invalid poll interval",
			env:     map[string]string{"DEFAULT_POLL_INTERVAL": "invalid"},
			wantErr: "invalid duration",
		},
		{
			name:    "min interval greater than default",
			env:     map[string]string{"DEFAULT_POLL_INTERVAL": "10s", "MIN_POLL_INTERVAL": "30s"},
			wantErr: "cannot be greater than",
		},
		{
			name:    "unknown selection",
			env:     map[string]string{"XRP_NODE_SELECTION": "fastest"},
			wantErr: "unknown node selection policy",
		},
		{
			name:    "node without scheme",
			env:     map[string]string{"XRP_NODES": "s1.ripple.com:51234"},
			wantErr: "invalid node URL",
		},
		{
			name:    "page limit not a number",
			env:     map[string]string{"XRP_PAGE_LIMIT": "lots"},
			wantErr: "XRP_PAGE_LIMIT: invalid integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("DATABASE_URL", "postgres://localhost/test")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("XRP_NODE_SELECTION", "fastest")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "unknown node selection policy")
}

func validConfig() *Config {
	return &Config{
		DatabaseURL:         "postgres://localhost/test",
		XRPNodes:            []string{"https://s1.ripple.com:51234/"},
		XRPSelection:        cluster.SelectOrdered,
		XRPPageLimit:        200,
		TemporalHost:        "localhost:7233",
		TemporalNamespace:   "default",
		TemporalTaskQueue:   "test-queue",
		DefaultPollInterval: 30 * time.Second,
		MinPollInterval:     10 * time.Second,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "missing database url", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "DatabaseURL is required"},
		{name: "no nodes", mutate: func(c *Config) { c.XRPNodes = nil }, wantErr: "XRPNodes is required"},
		{name: "bad selection", mutate: func(c *Config) { c.XRPSelection = "health" }, wantErr: "unknown node selection policy"},
		{name: "zero page limit", mutate: func(c *Config) { c.XRPPageLimit = 0 }, wantErr: "XRPPageLimit must be positive"},
		{name: "inverted intervals", mutate: func(c *Config) { c.MinPollInterval = time.Hour }, wantErr: "cannot be greater than"},
		{name: "too short interval", mutate: func(c *Config) {
			c.DefaultPollInterval = 500 * time.Millisecond
			c.MinPollInterval = 100 * time.Millisecond
		}, wantErr: "at least 1 second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	clearEnv(t)

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// clearEnv blanks every variable the loader reads for the duration of t.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvPrefix+"_CONFIG", "")
	for key, alias := range envAliases {
		t.Setenv(alias, "")
		t.Setenv(EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), "")
	}
}
