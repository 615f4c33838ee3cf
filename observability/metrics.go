package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics tracks JSON-RPC traffic per module and method.
type RPCMetrics struct {
	calls     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcMetrics     *RPCMetrics
)

func rpcCounter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "rpc",
		Name:      name,
		Help:      help,
	}, labels)
}

// ModuleMetrics returns the process-wide RPC metrics, registering them with
// the default registry on first use.
func ModuleMetrics() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		m := &RPCMetrics{
			calls:     rpcCounter("requests_total", "JSON-RPC calls by module, method and outcome.", "module", "method", "outcome"),
			failures:  rpcCounter("errors_total", "JSON-RPC failures by module, method and error code.", "module", "method", "code"),
			throttles: rpcCounter("throttles_total", "Requests rejected by a throttling policy.", "module", "reason"),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "market",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "JSON-RPC handler latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
		}
		prometheus.MustRegister(m.calls, m.failures, m.latency, m.throttles)
		rpcMetrics = m
	})
	return rpcMetrics
}

func orUnknown(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Observe records one call. code is the JSON-RPC error code, zero on success.
func (m *RPCMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	module, method = orUnknown(module, "unknown"), orUnknown(method, "unknown")
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.failures.WithLabelValues(module, method, strconv.Itoa(code)).Inc()
	}
	m.calls.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rejected request. reason should be a stable value
// such as "rate_limit".
func (m *RPCMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(orUnknown(module, "unknown"), orUnknown(reason, "unspecified")).Inc()
}
