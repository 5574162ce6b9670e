package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/ledgerfeed/service/cluster"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every configuration key in the environment, with dots
// replaced by underscores: xrp.nodes is read from LEDGERFEED_XRP_NODES.
const EnvPrefix = "LEDGERFEED"

// DefaultXRPNodes are the public rippled JSON-RPC endpoints used when none
// are configured.
var DefaultXRPNodes = []string{
	"https://s1.ripple.com:51234/",
	"https://s2.ripple.com:51234/",
	"https://xrplcluster.com/",
}

// Config holds all application configuration.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	LogLevel    string
	MetricsAddr string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// XRP Ledger configuration
	XRPNodes          []string
	XRPSelection      cluster.Selection
	XRPAttemptTimeout time.Duration
	XRPPageLimit      int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Polling configuration
	DefaultPollInterval time.Duration
	MinPollInterval     time.Duration
	PollMaxPages        int
}

// plain environment names accepted alongside the prefixed ones.
var envAliases = map[string]string{
	"server.addr":           "SERVER_ADDR",
	"log.level":             "LOG_LEVEL",
	"metrics.addr":          "METRICS_ADDR",
	"database.url":          "DATABASE_URL",
	"nats.url":              "NATS_URL",
	"xrp.nodes":             "XRP_NODES",
	"xrp.selection":         "XRP_NODE_SELECTION",
	"xrp.attempt_timeout":   "XRP_ATTEMPT_TIMEOUT",
	"xrp.page_limit":        "XRP_PAGE_LIMIT",
	"temporal.host":         "TEMPORAL_HOST",
	"temporal.namespace":    "TEMPORAL_NAMESPACE",
	"temporal.task_queue":   "TEMPORAL_TASK_QUEUE",
	"poll.default_interval": "DEFAULT_POLL_INTERVAL",
	"poll.min_interval":     "MIN_POLL_INTERVAL",
	"poll.max_pages":        "POLL_MAX_PAGES",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("xrp.nodes", DefaultXRPNodes)
	v.SetDefault("xrp.selection", string(cluster.SelectOrdered))
	v.SetDefault("xrp.attempt_timeout", "10s")
	v.SetDefault("xrp.page_limit", 200)

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "ledgerfeed-address-polling")

	v.SetDefault("poll.default_interval", "30s")
	v.SetDefault("poll.min_interval", "10s")
	v.SetDefault("poll.max_pages", 10)
}

// newViper builds the layered source: defaults, then the optional file,
// then environment variables.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, alias); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return v, nil
}

// Load reads configuration from the file named by LEDGERFEED_CONFIG (if any)
// and the environment, and validates all required fields.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvPrefix + "_CONFIG"))
}

// LoadFile is like Load with an explicit config file path. An empty path
// reads only defaults and the environment.
func LoadFile(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = v.GetString("server.addr")
	cfg.LogLevel = v.GetString("log.level")
	cfg.MetricsAddr = v.GetString("metrics.addr")

	// Database configuration
	cfg.DatabaseURL = v.GetString("database.url")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = v.GetString("nats.url")

	// XRP Ledger configuration
	cfg.XRPNodes = splitList(v.GetStringSlice("xrp.nodes"))
	if len(cfg.XRPNodes) == 0 {
		errs = append(errs, fmt.Errorf("XRP_NODES requires at least one node URL"))
	}
	for _, node := range cfg.XRPNodes {
		if u, err := url.Parse(node); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("XRP_NODES: invalid node URL %q", node))
		}
	}

	selection, err := cluster.ParseSelection(v.GetString("xrp.selection"))
	if err != nil {
		errs = append(errs, fmt.Errorf("XRP_NODE_SELECTION: %w", err))
	} else {
		cfg.XRPSelection = selection
	}

	if cfg.XRPAttemptTimeout, err = parseDuration(v, "xrp.attempt_timeout"); err != nil {
		errs = append(errs, err)
	}
	if cfg.XRPPageLimit, err = parseInt(v, "xrp.page_limit"); err != nil {
		errs = append(errs, err)
	}

	// Temporal configuration
	cfg.TemporalHost = v.GetString("temporal.host")
	cfg.TemporalNamespace = v.GetString("temporal.namespace")
	cfg.TemporalTaskQueue = v.GetString("temporal.task_queue")

	// Polling configuration
	if cfg.DefaultPollInterval, err = parseDuration(v, "poll.default_interval"); err != nil {
		errs = append(errs, err)
	}
	if cfg.MinPollInterval, err = parseDuration(v, "poll.min_interval"); err != nil {
		errs = append(errs, err)
	}
	if cfg.PollMaxPages, err = parseInt(v, "poll.max_pages"); err != nil {
		errs = append(errs, err)
	}

	// Validate intervals
	if cfg.MinPollInterval > cfg.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MIN_POLL_INTERVAL (%v) cannot be greater than DEFAULT_POLL_INTERVAL (%v)",
			cfg.MinPollInterval, cfg.DefaultPollInterval))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if len(c.XRPNodes) == 0 {
		errs = append(errs, fmt.Errorf("XRPNodes is required"))
	}

	if err := c.XRPSelection.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.XRPPageLimit < 1 {
		errs = append(errs, fmt.Errorf("XRPPageLimit must be positive"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinPollInterval > c.DefaultPollInterval {
		errs = append(errs, fmt.Errorf("MinPollInterval cannot be greater than DefaultPollInterval"))
	}

	if c.DefaultPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("DefaultPollInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// splitList flattens comma-separated entries, so XRP_NODES="a,b" and a
// YAML list both work.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseDuration parses a duration-valued key.
func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	value := v.GetString(key)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", envAliases[key], value, err)
	}
	return duration, nil
}

// parseInt parses an integer-valued key.
func parseInt(v *viper.Viper, key string) (int, error) {
	value := v.GetString(key)
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", envAliases[key], value, err)
	}
	return result, nil
}
