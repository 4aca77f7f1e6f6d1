// Package metrics exposes grid bot state in the Prometheus text format at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_orders_total",
			Help: "Order lifecycle events by side and status",
		},
		[]string{"side", "status"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_level_transitions_total",
			Help: "Level state transitions",
		},
		[]string{"from", "to"},
	)

	reconciled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_reconciled",
		Help: "1 when ledger shares match the broker position",
	})

	assumedShares = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_assumed_shares",
		Help: "Shares the ledger believes are held",
	})

	actualShares = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_actual_shares",
		Help: "Shares reported by the broker",
	})

	lastPrice = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_price",
		Help: "Last fetched instrument price",
	})

	paused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_paused",
		Help: "1 while the operator pause flag is set",
	})

	seasonResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridbot_season_resets_total",
		Help: "Seasons completed by anchor closure",
	})

	bankedPL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_banked_pl_usd",
		Help: "Realized P/L of the last completed season",
	})

	tickErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridbot_tick_errors_total",
			Help: "Ticks cut short by step",
		},
		[]string{"step"},
	)

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridbot_tick_duration_seconds",
		Help:    "Control loop tick duration",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gridbot_gateway_breaker_state",
			Help: "Gateway circuit breaker state (0: Closed, 1: Half-Open, 2: Open)",
		},
		[]string{"name"},
	)
)

func RecordOrder(side, status string) {
	ordersTotal.WithLabelValues(side, status).Inc()
}

func RecordTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

func SetReconciliation(ok bool, assumed, actual int64) {
	if ok {
		reconciled.Set(1)
	} else {
		reconciled.Set(0)
	}
	assumedShares.Set(float64(assumed))
	actualShares.Set(float64(actual))
}

func SetPrice(p float64) {
	lastPrice.Set(p)
}

func SetPaused(v bool) {
	if v {
		paused.Set(1)
	} else {
		paused.Set(0)
	}
}

func RecordSeasonReset(pl float64) {
	seasonResets.Inc()
	bankedPL.Set(pl)
}

func RecordTickError(step string) {
	tickErrors.WithLabelValues(step).Inc()
}

func ObserveTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
