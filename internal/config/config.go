// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys double as environment variable names.
const (
	KeyDatabaseURL      = "database_url"
	KeyHost             = "host"
	KeyProbeInterval    = "probe_interval"
	KeyProbeTimeout     = "probe_timeout"
	KeyProbeConcurrency = "probe_concurrency"
	KeyProbeSkipOverlap = "probe_skip_overlap"
	KeyDBMaxConns       = "db_max_conns"
	KeyDBBusyTimeout    = "db_busy_timeout"
	KeyLogLevel         = "log_level"
	KeyLogDir           = "log_dir"
	KeyTrustedProxies   = "trusted_proxies"
	KeyAllowedOrigins   = "allowed_origins"
)

// MinProbeInterval is the shortest accepted probe interval.
const MinProbeInterval = time.Second

type Config struct {
	DatabaseURL string
	Host        string

	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	ProbeConcurrency int
	// ProbeSkipOverlap drops a tick when the previous one is still running.
	ProbeSkipOverlap bool

	DBMaxConns    int
	DBBusyTimeout time.Duration

	LogLevel string
	LogDir   string

	// TrustedProxies lists the addresses or CIDR ranges whose
	// X-Forwarded-For header is believed. Empty means none.
	TrustedProxies []string
	// AllowedOrigins lists the Origin host patterns accepted on the live
	// feed in addition to same-origin requests.
	AllowedOrigins []string
}

// NewViper returns a viper instance with defaults set and environment lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDatabaseURL, "updown.db")
	v.SetDefault(KeyHost, "127.0.0.1:9001")
	v.SetDefault(KeyProbeInterval, 300*time.Second)
	v.SetDefault(KeyProbeTimeout, 10*time.Second)
	v.SetDefault(KeyProbeConcurrency, 16)
	v.SetDefault(KeyProbeSkipOverlap, false)
	v.SetDefault(KeyDBMaxConns, 5)
	v.SetDefault(KeyDBBusyTimeout, 30*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogDir, "")
	v.SetDefault(KeyTrustedProxies, "")
	v.SetDefault(KeyAllowedOrigins, "")
	v.AutomaticEnv()
	return v
}

// Load reads and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DatabaseURL:      strings.TrimSpace(v.GetString(KeyDatabaseURL)),
		Host:             strings.TrimSpace(v.GetString(KeyHost)),
		ProbeInterval:    seconds(v, KeyProbeInterval),
		ProbeTimeout:     seconds(v, KeyProbeTimeout),
		ProbeConcurrency: v.GetInt(KeyProbeConcurrency),
		ProbeSkipOverlap: v.GetBool(KeyProbeSkipOverlap),
		DBMaxConns:       v.GetInt(KeyDBMaxConns),
		DBBusyTimeout:    seconds(v, KeyDBBusyTimeout),
		LogLevel:         v.GetString(KeyLogLevel),
		LogDir:           v.GetString(KeyLogDir),
		TrustedProxies:   list(v, KeyTrustedProxies),
		AllowedOrigins:   list(v, KeyAllowedOrigins),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seconds reads key as a duration. A bare integer such as "300" counts
// seconds, not nanoseconds.
func seconds(v *viper.Viper, key string) time.Duration {
	if n, err := strconv.ParseInt(strings.TrimSpace(v.GetString(key)), 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	return v.GetDuration(key)
}

// list splits a comma separated value, dropping blanks.
func list(v *viper.Viper, key string) []string {
	var out []string
	for _, s := range strings.Split(v.GetString(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database url is required"))
	}
	if c.ProbeInterval < MinProbeInterval {
		errs = append(errs, fmt.Errorf("probe interval must be at least %s, got %s", MinProbeInterval, c.ProbeInterval))
	}
	if c.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("probe timeout must be positive, got %s", c.ProbeTimeout))
	}
	if c.ProbeConcurrency < 1 {
		errs = append(errs, fmt.Errorf("probe concurrency must be at least 1, got %d", c.ProbeConcurrency))
	}
	if c.DBMaxConns < 1 {
		errs = append(errs, fmt.Errorf("db max conns must be at least 1, got %d", c.DBMaxConns))
	}
	if c.DBBusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("db busy timeout must not be negative, got %s", c.DBBusyTimeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
