package config

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshal(t *testing.T) {
	cases := []struct {
		input string
		want  time.Duration
		err   string
	}{
		{input: "500ms", want: 500 * time.Millisecond},
		{input: "2s", want: 2 * time.Second},
		{input: "1m30s", want: 90 * time.Second},
		{input: "soon", err: "invalid duration"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tc.input))
			if tc.err != "" {
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("expected error containing %q, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("UnmarshalText(%q) returned error: %v", tc.input, err)
			}
			if d.Duration != tc.want || !d.IsSet() {
				t.Fatalf("UnmarshalText(%q)=%v, want %v", tc.input, d.Duration, tc.want)
			}
		})
	}
}

func TestExplicitZeroDurationIsKept(t *testing.T) {
	var cfg Config
	if err := yaml.Unmarshal([]byte("shutdown:\n  gracePeriod: 0s\n"), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cfg.ApplyDefaults()
	if cfg.Shutdown.GracePeriod.Duration != 0 {
		t.Fatalf("explicit zero grace period replaced by %v", cfg.Shutdown.GracePeriod.Duration)
	}
	if cfg.Shutdown.RequestTimeout.Duration != DefaultStopTimeout {
		t.Fatalf("expected default request timeout, got %v", cfg.Shutdown.RequestTimeout.Duration)
	}
}

func TestDurationMarshalsAsString(t *testing.T) {
	data, err := yaml.Marshal(Default().Health)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "interval: 500ms") {
		t.Fatalf("expected human readable interval, got:\n%s", data)
	}
}

func TestDefaultInterpreters(t *testing.T) {
	got := DefaultInterpreters()
	want := "python3"
	if runtime.GOOS == "windows" {
		want = "python"
	}
	if len(got) == 0 || got[0] != want {
		t.Fatalf("DefaultInterpreters()=%v, want %q first", got, want)
	}
}

func TestBaseURLUsesLocalhost(t *testing.T) {
	cfg := Default()
	cfg.Backend.Host = "0.0.0.0"
	cfg.Backend.Port = 8123
	if got := cfg.BaseURL(); got != "http://localhost:8123" {
		t.Fatalf("BaseURL()=%q", got)
	}
}
