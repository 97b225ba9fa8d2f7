// Package config loads testtrace configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all testtrace configuration.
type Config struct {
	// Export settings.
	OTLPEndpoint string // Empty disables network export.
	OTLPInsecure bool
	ServiceName  string
	BatchTimeout time.Duration

	// Flush barrier.
	FlushTimeout time.Duration

	// Suite naming.
	RootDir string // Suite names are relative to it.

	// Server mode.
	ListenAddr   string
	MaxBodyBytes int64 // Largest accepted /events request body.

	LogLevel string
}

// Load reads configuration from environment variables with defaults. Every
// malformed value is reported, not only the first.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}

	cfg := Config{
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "testtrace"),
		RootDir:      envStr("TESTTRACE_ROOT_DIR", wd),
		ListenAddr:   envStr("TESTTRACE_LISTEN_ADDR", ":9876"),
		LogLevel:     strings.ToLower(envStr("TESTTRACE_LOG_LEVEL", "info")),
	}
	cfg.OTLPInsecure, err = envBool("TESTTRACE_OTLP_INSECURE", true)
	collect(err)
	cfg.FlushTimeout, err = envDuration("TESTTRACE_FLUSH_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.BatchTimeout, err = envDuration("TESTTRACE_BATCH_TIMEOUT", 5*time.Second)
	collect(err)
	maxBody, err := envInt("TESTTRACE_MAX_BODY_BYTES", 32<<20)
	collect(err)
	cfg.MaxBodyBytes = int64(maxBody)

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that values are usable.
func (c Config) Validate() error {
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("config: TESTTRACE_FLUSH_TIMEOUT must be positive")
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("config: TESTTRACE_BATCH_TIMEOUT must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: TESTTRACE_MAX_BODY_BYTES must be positive")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns LogLevel as a slog.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: TESTTRACE_LOG_LEVEL=%q is not a valid level", c.LogLevel)
	}
	return l, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
