package observability

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// EscrowMetrics tracks escrow operations and the balances the escrow holds.
type EscrowMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	phase      prometheus.Gauge
	heldValue  prometheus.Gauge
	heldTokens prometheus.Gauge
	tranches   *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// RPC returns the lazily-initialised registry used to record JSON-RPC activity.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and HTTP status.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of a JSON-RPC request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *rpcMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	method = normalizeLabel(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(method, strconv.Itoa(status)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied reason.
func (m *rpcMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(reason)).Inc()
}

// Escrow returns the escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Escrow operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrow",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Time spent executing and committing escrow operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			phase: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "engine",
				Name:      "phase",
				Help:      "Current escrow phase (0 offer decision, 1 awaiting payment, 2 awaiting delivery, 3 vesting).",
			}),
			heldValue: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "engine",
				Name:      "held_value",
				Help:      "Native value currently held by the escrow, in base units.",
			}),
			heldTokens: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrow",
				Subsystem: "engine",
				Name:      "held_tokens",
				Help:      "Token balance currently held by the escrow, in base units.",
			}),
			tranches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "engine",
				Name:      "tranches_claimed_total",
				Help:      "Vesting tranches released to the buyer.",
			}, []string{"tranche"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.duration,
			escrowRegistry.phase,
			escrowRegistry.heldValue,
			escrowRegistry.heldTokens,
			escrowRegistry.tranches,
		)
	})
	return escrowRegistry
}

// RecordOperation records one escrow operation. Failed operations are labelled
// with the supplied outcome, typically the error class.
func (m *EscrowMetrics) RecordOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation)
	m.operations.WithLabelValues(operation, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPhase publishes the current escrow phase.
func (m *EscrowMetrics) SetPhase(phase uint8) {
	if m == nil {
		return
	}
	m.phase.Set(float64(phase))
}

// SetHoldings publishes the value and token balances held by the escrow.
func (m *EscrowMetrics) SetHoldings(value, tokens *big.Int) {
	if m == nil {
		return
	}
	m.heldValue.Set(bigToFloat(value))
	m.heldTokens.Set(bigToFloat(tokens))
}

// RecordTranche increments the claimed tranche counter.
func (m *EscrowMetrics) RecordTranche(tranche string) {
	if m == nil {
		return
	}
	m.tranches.WithLabelValues(normalizeLabel(tranche)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
