package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Simulation outcome labels (bounded set)
	OutcomeCompleted = "completed"
	OutcomeErrored   = "errored"

	// Order side labels (bounded set)
	SideBuy  = "buy"
	SideSell = "sell"

	// Market data error categories (bounded set)
	MarketErrorTimeout    = "timeout"
	MarketErrorRateLimit  = "rate_limit"
	MarketErrorAuth       = "authentication"
	MarketErrorNetwork    = "network"
	MarketErrorInvalidReq = "invalid_request"
	MarketErrorServer     = "server_error"
	MarketErrorOther      = "other"
)

// NormalizeMarketError maps arbitrary provider errors to a bounded label set
func NormalizeMarketError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return MarketErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return MarketErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return MarketErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return MarketErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return MarketErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return MarketErrorServer
	default:
		return MarketErrorOther
	}
}

// Bot engine metrics
var (
	// Ticks processed per bot mode
	TicksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genetick_ticks_processed_total",
		Help: "Total number of price ticks evaluated, by bot mode",
	}, []string{"mode"})

	// Orders placed per side
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genetick_orders_placed_total",
		Help: "Total number of orders placed, by side",
	}, []string{"side"})

	// Fatal state errors raised by the bot FSM
	StateErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genetick_state_errors_total",
		Help: "Total number of fatal bot state transitions",
	})

	// Active bot instances
	ActiveInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "genetick_active_instances",
		Help: "Number of bot instances currently running",
	})
)

// Backtest metrics
var (
	BacktestsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genetick_backtests_total",
		Help: "Total number of backtest simulations, by outcome",
	}, []string{"outcome"})

	BacktestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "genetick_backtest_duration_seconds",
		Help:    "Wall-clock duration of backtest simulations",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	PriceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genetick_price_cache_hits_total",
		Help: "Total number of price range requests served from the time-series cache",
	})

	PriceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genetick_price_cache_misses_total",
		Help: "Total number of price range requests that fell through to the provider",
	})
)

// Market data metrics
var (
	MarketRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genetick_market_requests_total",
		Help: "Total number of market data provider requests, by exchange",
	}, []string{"exchange"})

	MarketErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genetick_market_errors_total",
		Help: "Total number of market data provider errors, by exchange and category",
	}, []string{"exchange", "category"})
)

// Message bus metrics
var (
	BusMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genetick_bus_messages_published_total",
		Help: "Total number of worker messages published, by event",
	}, []string{"event"})

	BusMessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genetick_bus_messages_handled_total",
		Help: "Total number of worker messages handled, by event and outcome",
	}, []string{"event", "outcome"})
)

// Genotype metrics
var (
	MutationSetsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genetick_mutation_sets_total",
		Help: "Total number of mutation sets created, by classification",
	}, []string{"type"})

	ChildInstancesForked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genetick_child_instances_forked_total",
		Help: "Total number of child bot instances created by forking",
	})
)

// RecordBacktest records a completed simulation with its outcome and duration
func RecordBacktest(outcome string, seconds float64) {
	BacktestsRun.WithLabelValues(outcome).Inc()
	BacktestDuration.Observe(seconds)
}

// RecordOrder records a placed order by side
func RecordOrder(buy bool) {
	if buy {
		OrdersPlaced.WithLabelValues(SideBuy).Inc()
	} else {
		OrdersPlaced.WithLabelValues(SideSell).Inc()
	}
}

// RecordMarketRequest records a provider call and its error, if any
func RecordMarketRequest(exchange string, err error) {
	MarketRequests.WithLabelValues(exchange).Inc()
	if err != nil {
		MarketErrors.WithLabelValues(exchange, NormalizeMarketError(err)).Inc()
	}
}
