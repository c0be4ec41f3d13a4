package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "minicars.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "backend.env")
	if err := os.WriteFile(envFile, []byte("TOKEN=${FILE_SECRET}\nexport MODE='quoted'\n# comment\nPLAIN=value # trailing\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("FILE_SECRET", "alpha")
	t.Setenv("BACKEND_HOST", "0.0.0.0")

	path := filepath.Join(dir, "minicars.yaml")
	manifest := []byte(`mode: dev
backend:
  host: ${BACKEND_HOST}
  port: 8100
  markers: [minicars_backend/__init__.py, main.py]
  interpreters: [python3.11]
  env:
    PLAIN: inline
  envFromFile: backend.env
health:
  attempts: 3
  interval: 50ms
shutdown:
  gracePeriod: 0s
`)
	if err := os.WriteFile(path, manifest, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Mode != ModeDevelopment {
		t.Fatalf("mode alias not normalised: got %q", cfg.Mode)
	}
	if got, want := cfg.Backend.Host, "0.0.0.0"; got != want {
		t.Fatalf("host mismatch: got %q want %q", got, want)
	}
	if got, want := cfg.Backend.Port, 8100; got != want {
		t.Fatalf("port mismatch: got %d want %d", got, want)
	}
	if got, want := strings.Join(cfg.Backend.Markers, ","), "minicars_backend/__init__.py,main.py"; got != want {
		t.Fatalf("markers mismatch: got %q want %q", got, want)
	}
	if got, want := cfg.Backend.EnvFromFile, envFile; got != want {
		t.Fatalf("envFromFile not resolved: got %q want %q", got, want)
	}
	env := cfg.Backend.ResolvedEnv
	if env["TOKEN"] != "alpha" || env["MODE"] != "quoted" {
		t.Fatalf("env file values not loaded: %v", env)
	}
	if env["PLAIN"] != "inline" {
		t.Fatalf("inline env should override file env, got %q", env["PLAIN"])
	}
	if got, want := cfg.Health.Attempts, 3; got != want {
		t.Fatalf("attempts mismatch: got %d want %d", got, want)
	}
	if got, want := cfg.Health.Interval.Duration, 50*time.Millisecond; got != want {
		t.Fatalf("interval mismatch: got %v want %v", got, want)
	}
	if got, want := cfg.Health.Timeout.Duration, DefaultProbeTimeout; got != want {
		t.Fatalf("timeout default mismatch: got %v want %v", got, want)
	}
	if cfg.Shutdown.GracePeriod.Duration != 0 {
		t.Fatalf("explicit zero grace period should be kept, got %v", cfg.Shutdown.GracePeriod.Duration)
	}
	if got, want := cfg.Shutdown.RequestTimeout.Duration, DefaultStopTimeout; got != want {
		t.Fatalf("request timeout default mismatch: got %v want %v", got, want)
	}
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Mode != ModeProduction {
		t.Fatalf("expected production default, got %q", cfg.Mode)
	}
	if cfg.Backend.Port != DefaultPort || cfg.Backend.Host != DefaultHost {
		t.Fatalf("unexpected backend defaults: %+v", cfg.Backend)
	}
	if cfg.Backend.OverrideEnv != DefaultOverrideEnv {
		t.Fatalf("unexpected override env: %q", cfg.Backend.OverrideEnv)
	}
	if len(cfg.Backend.Interpreters) == 0 {
		t.Fatalf("expected default interpreters")
	}
	if cfg.Health.Attempts != DefaultAttempts || cfg.Health.Interval.Duration != DefaultInterval {
		t.Fatalf("unexpected health defaults: %+v", cfg.Health)
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	t.Setenv(EnvBackendPort, "8123")
	t.Setenv(EnvMode, "development")

	cfg, err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOptional returned error: %v", err)
	}
	if cfg.Backend.Port != 8123 {
		t.Fatalf("env port override not applied: %d", cfg.Backend.Port)
	}
	if cfg.Mode != ModeDevelopment {
		t.Fatalf("env mode override not applied: %q", cfg.Mode)
	}
}

func TestLoadOptionalSurfacesMissingEnvFile(t *testing.T) {
	path := writeConfig(t, "backend:\n  envFromFile: missing.env\n")

	_, err := LoadOptional(path)
	if err == nil {
		t.Fatalf("expected missing env file to fail")
	}
	if !strings.Contains(err.Error(), "backend.envFromFile") {
		t.Fatalf("expected field path in error, got %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "backend:\n  prot: 8000\n")

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected unknown field to fail")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected schema failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "backend") {
		t.Fatalf("expected location in schema error, got %v", err)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeConfig(t, "health:\n  interval: soon\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected invalid duration to fail")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvBackendHost: "192.168.1.5",
		EnvBackendPort: "9001",
		EnvLogLevel:    "debug",
		EnvEnableAPI:   "true",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv returned error: %v", err)
	}
	if cfg.Backend.Host != "192.168.1.5" || cfg.Backend.Port != 9001 {
		t.Fatalf("backend overrides not applied: %+v", cfg.Backend)
	}
	if cfg.Logging.Level != "debug" || !cfg.API.Enabled {
		t.Fatalf("logging/api overrides not applied: %+v %+v", cfg.Logging, cfg.API)
	}
}

func TestApplyEnvRejectsBadPort(t *testing.T) {
	tests := map[string]string{
		"not a number": "eighty",
		"zero":         "0",
		"too large":    "70000",
	}
	for name, value := range tests {
		value := value
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(func(key string) (string, bool) {
				if key == EnvBackendPort {
					return value, true
				}
				return "", false
			})
			if err == nil {
				t.Fatalf("expected port %q to be rejected", value)
			}
			if !strings.Contains(err.Error(), EnvBackendPort) {
				t.Fatalf("expected variable name in error, got %v", err)
			}
		})
	}
}
