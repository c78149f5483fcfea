// Package observability wires the engine's structured logger and
// Prometheus collectors together so every component logs and counts the
// same way.
package observability

import (
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. level accepts zerolog's level
// names; anything unrecognized falls back to info.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Metrics holds every collector the engine exports. Counter semantics
// mirror EngineStatus: tradesExecuted <= signals <= evaluations.
type Metrics struct {
	Evaluations    prometheus.Counter
	Signals        prometheus.Counter
	TradesExecuted prometheus.Counter
	OpenPositions  prometheus.Gauge
	StreamLagMs    *prometheus.GaugeVec
	Regime         *prometheus.GaugeVec
	BreakerLatched prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers the engine's collectors on a fresh
// registry, keeping the exported surface independent of any default
// global registry state.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine", Name: "evaluations_total",
			Help: "Evaluation ticks run across all symbols.",
		}),
		Signals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine", Name: "signals_total",
			Help: "Evaluations that produced a BUY or SELL signal.",
		}),
		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "engine", Name: "trades_executed_total",
			Help: "Simulated fills committed to the ledger.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine", Name: "open_positions",
			Help: "Open lots across all symbols.",
		}),
		StreamLagMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "engine", Name: "stream_lag_ms",
			Help: "Milliseconds between candle close and local receipt.",
		}, []string{"symbol"}),
		Regime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "engine", Name: "regime",
			Help: "Current regime per symbol, one-hot by label.",
		}, []string{"symbol", "regime"}),
		BreakerLatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine", Name: "circuit_breaker_latched",
			Help: "1 while the circuit breaker is latched.",
		}),
		registry: reg,
	}
	reg.MustRegister(m.Evaluations, m.Signals, m.TradesExecuted, m.OpenPositions, m.StreamLagMs, m.Regime, m.BreakerLatched)
	return m
}

// SetRegime flips the one-hot regime gauge for a symbol.
func (m *Metrics) SetRegime(symbol, regime string) {
	for _, r := range []string{"TRENDING_UP", "TRENDING_DOWN", "RANGING", "CHOP", "HIGH_VOLATILITY"} {
		v := 0.0
		if r == regime {
			v = 1
		}
		m.Regime.WithLabelValues(symbol, r).Set(v)
	}
}

// Handler serves the registry on /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
