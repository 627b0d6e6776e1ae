package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	protocolMetricsOnce sync.Once
	protocolRegistry    *ProtocolMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording API
// activity per module and method.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "floorlend",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "floorlend",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "floorlend",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "floorlend",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// ProtocolMetrics tracks committed operations and the pricing and lending
// aggregates they leave behind.
type ProtocolMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	floorPrice  prometheus.Gauge
	spotPrice   prometheus.Gauge
	feeBps      prometheus.Gauge
	reserves    *prometheus.GaugeVec
	vault       *prometheus.GaugeVec
	borrowRate  prometheus.Gauge
	recoveries  *prometheus.CounterVec
	shortfall   prometheus.Counter
	feesBurned  prometheus.Counter
	collections prometheus.Counter
}

// Protocol returns the lazily-initialised protocol metrics registry.
func Protocol() *ProtocolMetrics {
	protocolMetricsOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "floorlend",
				Subsystem: "protocol",
				Name:      "operations_total",
				Help:      "Protocol operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "floorlend",
				Subsystem: "protocol",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for protocol operations including persistence.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			floorPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "floorlend",
				Subsystem: "pool",
				Name:      "floor_price",
				Help:      "Current floor price in quote units per collateral unit.",
			}),
			spotPrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "floorlend",
				Subsystem: "pool",
				Name:      "spot_price",
				Help:      "Current pool spot price in quote units per collateral unit.",
			}),
			feeBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "floorlend",
				Subsystem: "pool",
				Name:      "fee_bps",
				Help:      "Current swap fee in basis points.",
			}),
			reserves: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "floorlend",
				Subsystem: "pool",
				Name:      "reserves",
				Help:      "Pool reserves by side in whole units.",
			}, []string{"side"}),
			vault: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "floorlend",
				Subsystem: "vault",
				Name:      "aggregates",
				Help:      "Vault aggregates in whole units.",
			}, []string{"field"}),
			borrowRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "floorlend",
				Subsystem: "vault",
				Name:      "borrow_rate",
				Help:      "Annual borrow rate as a fraction.",
			}),
			recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "floorlend",
				Subsystem: "ledger",
				Name:      "recoveries_total",
				Help:      "Recoveries segmented by outcome (covered, shortfall, burned).",
			}, []string{"outcome"}),
			shortfall: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "floorlend",
				Subsystem: "ledger",
				Name:      "shortfall_total",
				Help:      "Cumulative debt written off by recoveries in whole units.",
			}),
			feesBurned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "floorlend",
				Subsystem: "pool",
				Name:      "fees_burned_total",
				Help:      "Cumulative collateral burned by fee collection in whole units.",
			}),
			collections: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "floorlend",
				Subsystem: "pool",
				Name:      "fee_collections_total",
				Help:      "Number of fee collection runs.",
			}),
		}
		prometheus.MustRegister(
			protocolRegistry.operations,
			protocolRegistry.latency,
			protocolRegistry.floorPrice,
			protocolRegistry.spotPrice,
			protocolRegistry.feeBps,
			protocolRegistry.reserves,
			protocolRegistry.vault,
			protocolRegistry.borrowRate,
			protocolRegistry.recoveries,
			protocolRegistry.shortfall,
			protocolRegistry.feesBurned,
			protocolRegistry.collections,
		)
	})
	return protocolRegistry
}

// ObserveOperation records one protocol operation.
func (m *ProtocolMetrics) ObserveOperation(op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op = labelOp(op)
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// PoolSnapshot carries the pool figures published after each operation.
type PoolSnapshot struct {
	FloorPrice   *uint256.Int
	SpotPrice    *uint256.Int
	FeeBps       uint64
	ReserveFloor *uint256.Int
	ReserveQuote *uint256.Int
}

// RecordPool publishes pool gauges. Amounts are 1e18-scaled.
func (m *ProtocolMetrics) RecordPool(s PoolSnapshot) {
	if m == nil {
		return
	}
	m.floorPrice.Set(unitsToFloat(s.FloorPrice))
	m.spotPrice.Set(unitsToFloat(s.SpotPrice))
	m.feeBps.Set(float64(s.FeeBps))
	m.reserves.WithLabelValues("floor").Set(unitsToFloat(s.ReserveFloor))
	m.reserves.WithLabelValues("quote").Set(unitsToFloat(s.ReserveQuote))
}

// RecordVault publishes vault gauges. Amounts are 1e18-scaled.
func (m *ProtocolMetrics) RecordVault(totalAssets, totalBorrows, rate *uint256.Int) {
	if m == nil {
		return
	}
	m.vault.WithLabelValues("total_assets").Set(unitsToFloat(totalAssets))
	m.vault.WithLabelValues("total_borrows").Set(unitsToFloat(totalBorrows))
	m.borrowRate.Set(unitsToFloat(rate))
}

// RecordRecovery counts a recovery and any written-off shortfall.
func (m *ProtocolMetrics) RecordRecovery(burned bool, shortfall *uint256.Int) {
	if m == nil {
		return
	}
	switch {
	case burned:
		m.recoveries.WithLabelValues("burned").Inc()
	case shortfall != nil && !shortfall.IsZero():
		m.recoveries.WithLabelValues("shortfall").Inc()
	default:
		m.recoveries.WithLabelValues("covered").Inc()
	}
	m.shortfall.Add(unitsToFloat(shortfall))
}

// RecordCollection counts a fee collection run and the collateral it burned.
func (m *ProtocolMetrics) RecordCollection(burned *uint256.Int) {
	if m == nil {
		return
	}
	m.collections.Inc()
	m.feesBurned.Add(unitsToFloat(burned))
}

func labelOp(op string) string {
	trimmed := strings.TrimSpace(op)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

var unitScale = new(big.Float).SetFloat64(1e18)

// unitsToFloat converts a 1e18-scaled amount to a float in whole units.
func unitsToFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	scaled := new(big.Float).Quo(new(big.Float).SetInt(value.ToBig()), unitScale)
	floatVal, acc := scaled.Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
