// Package metrics exposes the engine's prometheus collectors: one custom
// Registry (not the global default) carrying strategy PnL/equity gauges,
// win/loss counters, compose-call latency, and decision-cycle duration.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the custom prometheus registry for this engine's metrics.
	Registry = prometheus.NewRegistry()

	mu sync.RWMutex

	// ============================================
	// Strategy performance
	// ============================================

	StrategyPnLTotal = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "strategy",
			Name:      "pnl_total",
			Help:      "Total realized P&L in quote currency",
		},
		[]string{"strategy_id", "exchange", "model"},
	)

	StrategyPnLPercent = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "strategy",
			Name:      "pnl_percent",
			Help:      "Realized + unrealized P&L as a fraction of initial capital",
		},
		[]string{"strategy_id", "exchange", "model"},
	)

	StrategyEquityTotal = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "strategy",
			Name:      "equity_total",
			Help:      "Current total portfolio value",
		},
		[]string{"strategy_id"},
	)

	StrategyUnrealizedPnL = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "strategy",
			Name:      "unrealized_pnl",
			Help:      "Unrealized P&L across open positions",
		},
		[]string{"strategy_id"},
	)

	// ============================================
	// Win/loss statistics
	// ============================================

	StrategyTradesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeengine",
			Subsystem: "strategy",
			Name:      "trades_total",
			Help:      "Total number of closed trades",
		},
		[]string{"strategy_id", "result"}, // result: "win", "loss"
	)

	StrategyRejectedInstructionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeengine",
			Subsystem: "strategy",
			Name:      "rejected_instructions_total",
			Help:      "Total instructions rejected or errored at the execution gateway",
		},
		[]string{"strategy_id", "exchange"},
	)

	// ============================================
	// Position metrics
	// ============================================

	StrategyPositionsCount = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "strategy",
			Name:      "positions_count",
			Help:      "Number of open positions",
		},
		[]string{"strategy_id"},
	)

	PositionUnrealizedPnL = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "position",
			Name:      "unrealized_pnl",
			Help:      "Unrealized P&L per position",
		},
		[]string{"strategy_id", "symbol", "side"},
	)

	// ============================================
	// Compose / decision-cycle metrics
	// ============================================

	ComposeDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradeengine",
			Subsystem: "compose",
			Name:      "duration_seconds",
			Help:      "Compose call duration (LLM or grid)",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"strategy_id", "model"},
	)

	ComposeCallsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeengine",
			Subsystem: "compose",
			Name:      "calls_total",
			Help:      "Total number of compose calls",
		},
		[]string{"strategy_id", "model"},
	)

	ComposeErrorsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tradeengine",
			Subsystem: "compose",
			Name:      "errors_total",
			Help:      "Total number of compose calls that degraded to an empty plan",
		},
		[]string{"strategy_id", "model"},
	)

	CycleDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tradeengine",
			Subsystem: "strategy",
			Name:      "cycle_duration_seconds",
			Help:      "Decision-cycle duration",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"strategy_id"},
	)

	StrategyRunning = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "strategy",
			Name:      "running",
			Help:      "Whether the strategy is running (1) or stopped (0)",
		},
		[]string{"strategy_id"},
	)

	ActiveStrategiesCount = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tradeengine",
			Subsystem: "system",
			Name:      "active_strategies_count",
			Help:      "Number of currently running strategies",
		},
	)
)

// UpdateStrategyMetrics updates the summary-level gauges for one strategy.
func UpdateStrategyMetrics(strategyID, exchange, model string, pnlTotal, pnlPercent, equity, unrealizedPnL float64) {
	mu.Lock()
	defer mu.Unlock()

	StrategyPnLTotal.WithLabelValues(strategyID, exchange, model).Set(pnlTotal)
	StrategyPnLPercent.WithLabelValues(strategyID, exchange, model).Set(pnlPercent)
	StrategyEquityTotal.WithLabelValues(strategyID).Set(equity)
	StrategyUnrealizedPnL.WithLabelValues(strategyID).Set(unrealizedPnL)
}

// RecordTrade increments the win/loss counter for a closed trade.
func RecordTrade(strategyID string, realizedPnL float64) {
	result := "loss"
	if realizedPnL >= 0 {
		result = "win"
	}
	StrategyTradesTotal.WithLabelValues(strategyID, result).Inc()
}

// RecordRejectedInstruction increments the rejected/errored instruction
// counter, the metric a venue-health dashboard alerts on.
func RecordRejectedInstruction(strategyID, exchange string) {
	StrategyRejectedInstructionsTotal.WithLabelValues(strategyID, exchange).Inc()
}

// UpdatePositionMetrics updates per-position gauges.
func UpdatePositionMetrics(strategyID, symbol, side string, unrealizedPnL float64) {
	mu.Lock()
	defer mu.Unlock()
	PositionUnrealizedPnL.WithLabelValues(strategyID, symbol, side).Set(unrealizedPnL)
}

// ClearPositionMetrics removes gauges for a closed position so it stops
// appearing in /metrics output.
func ClearPositionMetrics(strategyID, symbol, side string) {
	mu.Lock()
	defer mu.Unlock()
	PositionUnrealizedPnL.DeleteLabelValues(strategyID, symbol, side)
}

// SetPositionsCount sets the open-position gauge for a strategy.
func SetPositionsCount(strategyID string, count int) {
	StrategyPositionsCount.WithLabelValues(strategyID).Set(float64(count))
}

// RecordCompose records a compose call's duration and outcome.
func RecordCompose(strategyID, model string, durationSeconds float64, degraded bool) {
	ComposeDuration.WithLabelValues(strategyID, model).Observe(durationSeconds)
	ComposeCallsTotal.WithLabelValues(strategyID, model).Inc()
	if degraded {
		ComposeErrorsTotal.WithLabelValues(strategyID, model).Inc()
	}
}

// RecordCycleDuration records one decision cycle's wall-clock duration.
func RecordCycleDuration(strategyID string, durationSeconds float64) {
	CycleDuration.WithLabelValues(strategyID).Observe(durationSeconds)
}

// SetStrategyRunning sets the running gauge for a strategy.
func SetStrategyRunning(strategyID string, running bool) {
	val := 0.0
	if running {
		val = 1.0
	}
	StrategyRunning.WithLabelValues(strategyID).Set(val)
}

// Init registers the standard Go/process collectors alongside the custom
// metrics above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
