package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
	"go.uber.org/zap/zapcore"
)

// Environment variables that override file values. They share the MINICARS_
// prefix with the variables the backend itself reads.
const (
	EnvMode        = "MINICARS_MODE"
	EnvBackendHost = "MINICARS_BACKEND_HOST"
	EnvBackendPort = "MINICARS_BACKEND_PORT"
	EnvLogLevel    = "MINICARS_LOG_LEVEL"
	EnvLogDir      = "MINICARS_LOG_DIR"
	EnvEnableAPI   = "MINICARS_ENABLE_API"
)

// ApplyEnv overlays values found through lookup onto the configuration.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	if value, ok := lookup(EnvMode); ok && strings.TrimSpace(value) != "" {
		mode, err := ParseMode(value)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMode, err)
		}
		c.Mode = mode
	}
	if value, ok := lookup(EnvBackendHost); ok && strings.TrimSpace(value) != "" {
		c.Backend.Host = strings.TrimSpace(value)
	}
	if value, ok := lookup(EnvBackendPort); ok && strings.TrimSpace(value) != "" {
		port, err := parsePort(value)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBackendPort, err)
		}
		c.Backend.Port = port
	}
	if value, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = strings.TrimSpace(value)
	}
	if value, ok := lookup(EnvLogDir); ok && strings.TrimSpace(value) != "" {
		c.Logging.Dir = strings.TrimSpace(value)
	}
	if value, ok := lookup(EnvEnableAPI); ok && strings.TrimSpace(value) != "" {
		if enabled, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			c.API.Enabled = enabled
		}
	}
	return nil
}

func parsePort(raw string) (int, error) {
	port, err := nat.ParsePort(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", raw, err)
	}
	if port == 0 {
		return 0, fmt.Errorf("invalid port %q: must be in range 1-65535", raw)
	}
	return port, nil
}

// Validate enforces configuration invariants.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("%s: must be %q or %q", fieldPath("mode"), ModeDevelopment, ModeProduction)
	}

	b := c.Backend
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("%s: must be in range 1-65535", fieldPath("backend", "port"))
	}
	if strings.ContainsAny(b.Host, " /") {
		return fmt.Errorf("%s: invalid host %q", fieldPath("backend", "host"), b.Host)
	}
	if !strings.Contains(b.App, ":") {
		return fmt.Errorf("%s: must be in module:attribute form", fieldPath("backend", "app"))
	}
	for i, marker := range b.Markers {
		if strings.TrimSpace(marker) == "" {
			return fmt.Errorf("%s: must not be empty", fieldPath("backend", fmt.Sprintf("markers[%d]", i)))
		}
	}
	for i, name := range b.Interpreters {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s: must not be empty", fieldPath("backend", fmt.Sprintf("interpreters[%d]", i)))
		}
	}

	if c.Health.Attempts < 1 {
		return fmt.Errorf("%s: must be at least 1", fieldPath("health", "attempts"))
	}
	if c.Health.Interval.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("health", "interval"))
	}
	if c.Health.Timeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("health", "timeout"))
	}
	if c.Shutdown.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("shutdown", "requestTimeout"))
	}
	if c.Shutdown.GracePeriod.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("shutdown", "gracePeriod"))
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%s: %w", fieldPath("logging", "level"), err)
	}
	switch c.Logging.Format {
	case "auto", "json", "console":
	default:
		return fmt.Errorf("%s: must be one of auto, json, console", fieldPath("logging", "format"))
	}

	if _, _, err := net.SplitHostPort(c.API.Addr); err != nil {
		return fmt.Errorf("%s: %w", fieldPath("api", "addr"), err)
	}
	return nil
}
