package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses duration strings such as "500ms" or "2s".
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Mode selects which backend locations are considered and which runtime
// marker is handed to the backend process.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// ParseMode normalises a user supplied mode name. Short aliases "dev" and
// "prod" are accepted.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "development":
		return ModeDevelopment, nil
	case "prod", "production":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("unknown mode %q", value)
	}
}

// EnvMarker is the value exported to the backend in MINICARS_ENV.
func (m Mode) EnvMarker() string {
	if m == ModeProduction {
		return "production"
	}
	return "dev"
}

// Config mirrors the minicars.yaml document structure.
type Config struct {
	Mode     Mode         `yaml:"mode"`
	Backend  BackendSpec  `yaml:"backend"`
	Paths    PathsSpec    `yaml:"paths"`
	Health   HealthSpec   `yaml:"health"`
	Shutdown ShutdownSpec `yaml:"shutdown"`
	Logging  LoggingSpec  `yaml:"logging"`
	API      APISpec      `yaml:"api"`
}

// BackendSpec describes how the backend is located and launched.
type BackendSpec struct {
	Host         string            `yaml:"host"`
	Port         int               `yaml:"port"`
	App          string            `yaml:"app"`
	OverrideEnv  string            `yaml:"overrideEnv"`
	Markers      []string          `yaml:"markers"`
	Interpreters []string          `yaml:"interpreters"`
	Env          map[string]string `yaml:"env"`
	EnvFromFile  string            `yaml:"envFromFile"`

	// ResolvedEnv is Env merged over the contents of EnvFromFile.
	ResolvedEnv map[string]string `yaml:"-"`
}

// PathsSpec holds the locations a host shell can supply to the resolver.
type PathsSpec struct {
	Resources string `yaml:"resources"`
	BuildRoot string `yaml:"buildRoot"`
}

// HealthSpec configures the readiness poll performed after spawning.
type HealthSpec struct {
	Attempts int      `yaml:"attempts"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// ShutdownSpec configures the stop sequence.
type ShutdownSpec struct {
	RequestTimeout Duration `yaml:"requestTimeout"`
	GracePeriod    Duration `yaml:"gracePeriod"`
}

// LoggingSpec configures the supervisor's own log output.
type LoggingSpec struct {
	Level  string `yaml:"level"`
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

// APISpec configures the local control API.
type APISpec struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 8000
	DefaultApp          = "minicars_backend.api:app"
	DefaultOverrideEnv  = "MINICARS_BACKEND_DIR"
	DefaultMarker       = "minicars_backend/api.py"
	DefaultAttempts     = 15
	DefaultInterval     = 500 * time.Millisecond
	DefaultProbeTimeout = 500 * time.Millisecond
	DefaultStopTimeout  = 2 * time.Second
	DefaultGracePeriod  = 2 * time.Second
	DefaultAPIAddr      = "127.0.0.1:7664"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "auto"
)

// Default returns a configuration populated with every default value.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// DefaultInterpreters lists interpreter command names tried in order when the
// configuration does not name any.
func DefaultInterpreters() []string {
	if runtime.GOOS == "windows" {
		return []string{"python", "py"}
	}
	return []string{"python3", "python"}
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeProduction
	}
	b := &c.Backend
	if strings.TrimSpace(b.Host) == "" {
		b.Host = DefaultHost
	}
	if b.Port == 0 {
		b.Port = DefaultPort
	}
	if strings.TrimSpace(b.App) == "" {
		b.App = DefaultApp
	}
	if strings.TrimSpace(b.OverrideEnv) == "" {
		b.OverrideEnv = DefaultOverrideEnv
	}
	if len(b.Markers) == 0 {
		b.Markers = []string{DefaultMarker}
	}
	if len(b.Interpreters) == 0 {
		b.Interpreters = DefaultInterpreters()
	}
	if c.Health.Attempts == 0 {
		c.Health.Attempts = DefaultAttempts
	}
	if !c.Health.Interval.IsSet() {
		c.Health.Interval = Duration{Duration: DefaultInterval}
	}
	if !c.Health.Timeout.IsSet() {
		c.Health.Timeout = Duration{Duration: DefaultProbeTimeout}
	}
	if !c.Shutdown.RequestTimeout.IsSet() {
		c.Shutdown.RequestTimeout = Duration{Duration: DefaultStopTimeout}
	}
	if !c.Shutdown.GracePeriod.IsSet() {
		c.Shutdown.GracePeriod = Duration{Duration: DefaultGracePeriod}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
}

// BaseURL returns the URL the supervisor uses to reach the backend.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://localhost:%d", c.Backend.Port)
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}
