// Package config resolves the server's runtime configuration from, in
// increasing precedence: built-in defaults, a .env file, an optional YAML
// config file, and CLI flags (spec SPEC_FULL.md §1.1).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the server's complete runtime configuration.
type Config struct {
	Host                 string        `yaml:"host"`
	Port                 int           `yaml:"port"`
	LongPollTimeout       time.Duration `yaml:"long_poll_timeout"`
	SSEReconnectInterval  time.Duration `yaml:"sse_reconnect_interval"`
	ShutdownGrace         time.Duration `yaml:"shutdown_grace"`
	MetricsEnabled        bool          `yaml:"metrics_enabled"`
	Compress              bool          `yaml:"-"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Host:                 "0.0.0.0",
		Port:                 8080,
		LongPollTimeout:      30 * time.Second,
		SSEReconnectInterval: 60 * time.Second,
		ShutdownGrace:        10 * time.Second,
		MetricsEnabled:       true,
		Compress:             true,
	}
}

// fileConfig mirrors Config's fields but with duration fields expressed as
// plain seconds, since time.Duration doesn't round-trip through YAML's
// native scalar types without a custom unmarshaler.
type fileConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	LongPollTimeoutSeconds  int64  `yaml:"long_poll_timeout_seconds"`
	SSEReconnectSeconds     int64  `yaml:"sse_reconnect_interval_seconds"`
	ShutdownGraceSeconds    int64  `yaml:"shutdown_grace_seconds"`
	MetricsEnabled          *bool  `yaml:"metrics_enabled"`
}

// LoadYAML overlays a YAML config file's values onto cfg. A missing or
// unreadable file at path is an error, since callers only pass a path when
// one was explicitly configured.
func LoadYAML(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fc.Host != "" {
		cfg.Host = fc.Host
	}
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.LongPollTimeoutSeconds != 0 {
		cfg.LongPollTimeout = time.Duration(fc.LongPollTimeoutSeconds) * time.Second
	}
	if fc.SSEReconnectSeconds != 0 {
		cfg.SSEReconnectInterval = time.Duration(fc.SSEReconnectSeconds) * time.Second
	}
	if fc.ShutdownGraceSeconds != 0 {
		cfg.ShutdownGrace = time.Duration(fc.ShutdownGraceSeconds) * time.Second
	}
	if fc.MetricsEnabled != nil {
		cfg.MetricsEnabled = *fc.MetricsEnabled
	}
	return nil
}

// LoadDotEnv overlays DSTREAMD_* environment variables, loading dotenvPath
// into the process environment first if it exists. A missing dotenv file is
// not an error - most deployments simply won't have one.
func LoadDotEnv(cfg *Config, dotenvPath string) error {
	if _, err := os.Stat(dotenvPath); err == nil {
		if err := godotenv.Load(dotenvPath); err != nil {
			return fmt.Errorf("loading %s: %w", dotenvPath, err)
		}
	}

	if v := os.Getenv("DSTREAMD_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("DSTREAMD_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DSTREAMD_PORT: %w", err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("DSTREAMD_LONG_POLL_TIMEOUT_SECONDS"); v != "" {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("DSTREAMD_LONG_POLL_TIMEOUT_SECONDS: %w", err)
		}
		cfg.LongPollTimeout = time.Duration(s) * time.Second
	}
	if v := os.Getenv("DSTREAMD_METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DSTREAMD_METRICS_ENABLED: %w", err)
		}
		cfg.MetricsEnabled = b
	}
	return nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
