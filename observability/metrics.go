package observability

import (
	"fmt"
	"math"
	"math/big"
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

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// HTTP returns the lazily-initialised registry recording API gateway activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"reason"}),
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

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards remain consistent.
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// LedgerMetrics wraps collectors tracking the lending ledger.
type LedgerMetrics struct {
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	oracleFailures *prometheus.CounterVec
	oraclePrice    prometheus.Gauge
	oracleAge      prometheus.Gauge
	pool           *prometheus.GaugeVec
	paused         prometheus.Gauge
}

// Ledger exposes the metrics registry for the lending ledger.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation, asset and outcome.",
			}, []string{"operation", "asset", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ledger",
				Subsystem: "lending",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including oracle round-trips.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ledger",
				Subsystem: "oracle",
				Name:      "failures_total",
				Help:      "Count of rejected oracle reads segmented by reason.",
			}, []string{"reason"}),
			oraclePrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ledger",
				Subsystem: "oracle",
				Name:      "price_usd",
				Help:      "Last accepted native asset price in USD.",
			}),
			oracleAge: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ledger",
				Subsystem: "oracle",
				Name:      "price_age_seconds",
				Help:      "Age of the last accepted oracle round at read time.",
			}),
			pool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ledger",
				Subsystem: "pool",
				Name:      "totals",
				Help:      "Pool counters in base units segmented by asset and bucket.",
			}, []string{"asset", "bucket"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ledger",
				Subsystem: "lending",
				Name:      "paused",
				Help:      "Set to 1 while mutating operations are paused.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.oracleFailures,
			ledgerRegistry.oraclePrice,
			ledgerRegistry.oracleAge,
			ledgerRegistry.pool,
			ledgerRegistry.paused,
		)
	})
	return ledgerRegistry
}

// ObserveOperation records a ledger operation. Outcome should be "success" or
// a stable error class such as "insufficient_collateral".
func (m *LedgerMetrics) ObserveOperation(operation, asset, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "success"
	}
	m.operations.WithLabelValues(op, labelAsset(asset), outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordOracleFailure increments the oracle failure counter.
func (m *LedgerMetrics) RecordOracleFailure(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.oracleFailures.WithLabelValues(reason).Inc()
}

// RecordOraclePrice stores the accepted price scaled by 10^decimals.
func (m *LedgerMetrics) RecordOraclePrice(price *big.Int, decimals int, age time.Duration) {
	if m == nil {
		return
	}
	value := bigToFloat(price)
	if decimals > 0 {
		value /= math.Pow10(decimals)
	}
	m.oraclePrice.Set(value)
	seconds := age.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.oracleAge.Set(seconds)
}

// RecordPool updates the pool gauges for an asset.
func (m *LedgerMetrics) RecordPool(asset string, deposited, borrowed, collateral *big.Int) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	m.pool.WithLabelValues(label, "deposited").Set(bigToFloat(deposited))
	m.pool.WithLabelValues(label, "borrowed").Set(bigToFloat(borrowed))
	m.pool.WithLabelValues(label, "collateral").Set(bigToFloat(collateral))
}

// SetPause toggles the paused gauge.
func (m *LedgerMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "NONE"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
