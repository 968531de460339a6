package observability

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	verifierOnce     sync.Once
	verifierRegistry *VerifierMetrics
)

// HTTP returns the lazily-initialised registry recording API request activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "oraclecheck",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "oraclecheck",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "oraclecheck",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "oraclecheck",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = label(route)
	method = label(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the route and reason.
func (m *httpMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(label(route), reason).Inc()
}

// VerifierMetrics bundles collectors for verification runs and the chain
// reads they issue.
type VerifierMetrics struct {
	checks     *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	superseded prometheus.Counter
	rpcBatches *prometheus.CounterVec
	rpcCalls   *prometheus.HistogramVec
	syncs      *prometheus.CounterVec
	queries    prometheus.Counter
}

// Verifier returns the metrics registry for the verification engine.
func Verifier() *VerifierMetrics {
	verifierOnce.Do(func() {
		verifierRegistry = &VerifierMetrics{
			checks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "oraclecheck",
				Subsystem: "verifier",
				Name:      "checks_total",
				Help:      "Completed checks segmented by check and verdict.",
			}, []string{"check", "verdict"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "oraclecheck",
				Subsystem: "verifier",
				Name:      "check_duration_seconds",
				Help:      "Latency distribution of individual checks.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"check"}),
			superseded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "oraclecheck",
				Subsystem: "verifier",
				Name:      "superseded_runs_total",
				Help:      "Runs cancelled because a newer submission arrived for the same session.",
			}),
			rpcBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "oraclecheck",
				Subsystem: "rpc",
				Name:      "batch_calls_total",
				Help:      "eth_call batches segmented by chain and outcome.",
			}, []string{"chain_id", "outcome"}),
			rpcCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "oraclecheck",
				Subsystem: "rpc",
				Name:      "batch_size",
				Help:      "Number of eth_calls per batch.",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
			}, []string{"chain_id"}),
			syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "oraclecheck",
				Subsystem: "deployments",
				Name:      "indexed_total",
				Help:      "Deployments added to the index segmented by chain.",
			}, []string{"chain_id"}),
			queries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "oraclecheck",
				Subsystem: "metering",
				Name:      "queries_total",
				Help:      "Metered verification queries.",
			}),
		}
		prometheus.MustRegister(
			verifierRegistry.checks,
			verifierRegistry.duration,
			verifierRegistry.superseded,
			verifierRegistry.rpcBatches,
			verifierRegistry.rpcCalls,
			verifierRegistry.syncs,
			verifierRegistry.queries,
		)
	})
	return verifierRegistry
}

// RecordCheck records a completed check.
func (m *VerifierMetrics) RecordCheck(check, verdict string, d time.Duration) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(label(check), label(verdict)).Inc()
	m.duration.WithLabelValues(label(check)).Observe(d.Seconds())
}

// RecordSuperseded counts a run abandoned in favour of a newer one.
func (m *VerifierMetrics) RecordSuperseded() {
	if m == nil {
		return
	}
	m.superseded.Inc()
}

// RecordRPCBatch records one eth_call batch.
func (m *VerifierMetrics) RecordRPCBatch(chainID uint64, calls int, err error) {
	if m == nil {
		return
	}
	chain := strconv.FormatUint(chainID, 10)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.rpcBatches.WithLabelValues(chain, outcome).Inc()
	m.rpcCalls.WithLabelValues(chain).Observe(float64(calls))
}

// RecordIndexed adds newly indexed deployments for a chain.
func (m *VerifierMetrics) RecordIndexed(chainID uint64, added int) {
	if m == nil || added <= 0 {
		return
	}
	m.syncs.WithLabelValues(strconv.FormatUint(chainID, 10)).Add(float64(added))
}

// RecordQuery counts a metered query.
func (m *VerifierMetrics) RecordQuery() {
	if m == nil {
		return
	}
	m.queries.Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
