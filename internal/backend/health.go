package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Paintersrp/minicars/internal/config"
	"github.com/Paintersrp/minicars/internal/metrics"
	"github.com/Paintersrp/minicars/internal/probe"
)

// HealthChecker polls the backend's /health endpoint until it answers 2xx or
// the attempt budget runs out.
type HealthChecker struct {
	// Host used in the health URL. Defaults to "localhost".
	Host   string
	Policy probe.Policy
	Client *http.Client
	// Sleep waits between attempts. Defaults to probe.SleepWithContext.
	Sleep  func(context.Context, time.Duration) error
	Logger *zap.Logger
}

// NewHealthChecker builds a checker from cfg.
func NewHealthChecker(cfg *config.Config) *HealthChecker {
	return &HealthChecker{
		Host: "localhost",
		Policy: probe.Policy{
			Attempts: cfg.Health.Attempts,
			Interval: cfg.Health.Interval.Duration,
			Timeout:  cfg.Health.Timeout.Duration,
		},
		Client: &http.Client{},
		Logger: zap.NewNop(),
	}
}

// URL returns the health endpoint for port.
func (h *HealthChecker) URL(port int) string {
	host := h.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d/health", host, port)
}

// WaitUntilReady sleeps one interval before each attempt and returns true on
// the first 2xx answer. It returns false once every attempt has failed or ctx
// is done.
func (h *HealthChecker) WaitUntilReady(ctx context.Context, port int) bool {
	logger := h.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prober := probe.NewHTTP(h.Client, h.URL(port))
	prober.OnBody = func(body []byte) {
		if !gjson.ValidBytes(body) {
			return
		}
		logger.Debug("backend health payload",
			zap.String("status", gjson.GetBytes(body, "status").String()),
			zap.String("service", gjson.GetBytes(body, "service").String()))
	}

	result := probe.Poll(ctx, prober, h.Policy, probe.Options{
		Sleep: h.Sleep,
		OnAttempt: func(a probe.Attempt) {
			metrics.ObserveProbeLatency(a.Latency)
			if a.Err != nil {
				logger.Debug("backend health attempt failed",
					zap.Int("attempt", a.Number),
					zap.Duration("latency", a.Latency),
					zap.Error(a.Err))
			}
		},
	})

	if result.Ready {
		logger.Info("backend healthy",
			zap.String("url", prober.URL()),
			zap.Int("attempts", result.Attempts),
			zap.Duration("elapsed", result.Elapsed))
		return true
	}
	logger.Warn("backend health check exhausted",
		zap.String("url", prober.URL()),
		zap.Int("attempts", result.Attempts),
		zap.Duration("elapsed", result.Elapsed),
		zap.Error(result.LastErr))
	return false
}
