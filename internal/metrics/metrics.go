package metrics

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	backendReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "minicars",
		Name:      "backend_ready",
		Help:      "Readiness state of the supervised backend (1=ready, 0=not ready).",
	})

	backendSpawns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "minicars",
		Name:      "backend_spawns_total",
		Help:      "Total number of backend processes spawned.",
	})

	startFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minicars",
		Name:      "backend_start_failures_total",
		Help:      "Failed start attempts grouped by error code.",
	}, []string{"code"})

	backendStops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "minicars",
		Name:      "backend_stops_total",
		Help:      "Stop sequences run, labelled by whether the graceful shutdown request was accepted.",
	}, []string{"graceful"})

	probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "minicars",
		Name:      "health_probe_latency_seconds",
		Help:      "Latency of backend health probe requests in seconds.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "minicars",
		Name:      "build_info",
		Help:      "Build metadata for the running minicars binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(backendReady, backendSpawns, startFailures, backendStops, probeLatency, buildInfo)
}

// Registry returns the Prometheus registry containing all minicars metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetBackendReady records the readiness state of the backend.
func SetBackendReady(ready bool) {
	value := 0.0
	if ready {
		value = 1.0
	}
	backendReady.Set(value)
}

// IncrementSpawns counts a successful process spawn.
func IncrementSpawns() {
	backendSpawns.Inc()
}

// IncrementStartFailure counts a failed start attempt under the error code.
func IncrementStartFailure(code string) {
	if code == "" {
		code = "unknown"
	}
	startFailures.WithLabelValues(code).Inc()
}

// IncrementStops counts a completed stop sequence.
func IncrementStops(graceful bool) {
	backendStops.WithLabelValues(strconv.FormatBool(graceful)).Inc()
}

// ObserveProbeLatency records the latency of a health probe.
func ObserveProbeLatency(d time.Duration) {
	probeLatency.Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
