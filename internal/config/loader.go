package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file consulted when none is given.
const DefaultPath = "minicars.yaml"

// Load reads a configuration document from the provided path, applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	return parse(absPath, data)
}

// LoadOptional behaves like Load but falls back to defaults when the file does
// not exist. Environment overrides still apply.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return Load(path)
	}
	cfg := &Config{}
	if err := finish(cfg, ""); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(absPath string, data []byte) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	var raw map[string]any
	if err := yaml.Unmarshal(expanded, &raw); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	if raw != nil {
		if err := checkSchema(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", absPath, err)
		}
	}

	decoder := yaml.NewDecoder(bytes.NewReader(expanded))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	if err := finish(&cfg, filepath.Dir(absPath)); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &cfg, nil
}

func finish(cfg *Config, baseDir string) error {
	if err := cfg.resolveEnv(baseDir); err != nil {
		return err
	}
	if cfg.Mode != "" {
		mode, err := ParseMode(string(cfg.Mode))
		if err != nil {
			return fmt.Errorf("%s: %w", fieldPath("mode"), err)
		}
		cfg.Mode = mode
	}
	cfg.ApplyDefaults()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	return cfg.Validate()
}

func (c *Config) resolveEnv(baseDir string) error {
	var fileEnv map[string]string
	if c.Backend.EnvFromFile != "" {
		path := c.Backend.EnvFromFile
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Clean(filepath.Join(baseDir, path))
		}
		c.Backend.EnvFromFile = path

		var err error
		fileEnv, err = loadEnvFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", fieldPath("backend", "envFromFile"), err)
		}
	}

	if len(fileEnv) == 0 && len(c.Backend.Env) == 0 {
		c.Backend.ResolvedEnv = nil
		return nil
	}
	merged := make(map[string]string, len(fileEnv)+len(c.Backend.Env))
	for k, v := range fileEnv {
		merged[k] = v
	}
	for k, v := range c.Backend.Env {
		merged[k] = v
	}
	c.Backend.ResolvedEnv = merged
	return nil
}

func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	values := make(map[string]string)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "export "))
		sep := strings.IndexRune(raw, '=')
		if sep <= 0 {
			return nil, fmt.Errorf("load env file %q: invalid line %d", path, lineNo)
		}
		key := strings.TrimSpace(raw[:sep])
		value := strings.TrimSpace(raw[sep+1:])
		switch {
		case strings.HasPrefix(value, "\""):
			unquoted, err := strconv.Unquote(value)
			if err != nil {
				return nil, fmt.Errorf("load env file %q: parse value for %s on line %d: %w", path, key, lineNo, err)
			}
			value = unquoted
		case strings.HasPrefix(value, "'"):
			if len(value) < 2 || value[len(value)-1] != '\'' {
				return nil, fmt.Errorf("load env file %q: unmatched quote on line %d", path, lineNo)
			}
			value = value[1 : len(value)-1]
		default:
			if comment := strings.IndexRune(value, '#'); comment >= 0 {
				value = strings.TrimSpace(value[:comment])
			}
		}
		values[key] = os.ExpandEnv(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("load env file %q: %w", path, err)
	}
	return values, nil
}
