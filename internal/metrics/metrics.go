package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure reasons recorded on failures_total.
const (
	ReasonStartup = "startup"
	ReasonTimeout = "timeout"
	ReasonCrash   = "crash"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	sessionStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "session",
			Name:      "starts_total",
			Help:      "Number of preview sessions that reached the running state.",
		}, []string{"key"},
	)
	sessionStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "session",
			Name:      "stops_total",
			Help:      "Number of preview sessions stopped on request.",
		}, []string{"key"},
	)
	sessionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "session",
			Name:      "failures_total",
			Help:      "Number of sessions that failed, by reason (startup, timeout, crash).",
		}, []string{"key", "reason"},
	)
	readinessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "previewd",
			Subsystem: "session",
			Name:      "readiness_duration_seconds",
			Help:      "Time from spawn until the tool announced its endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"key"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "previewd",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently in the running state.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "previewd",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between session states.",
		}, []string{"key", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "previewd",
			Subsystem: "session",
			Name:      "current_state",
			Help:      "Current state of sessions (1 = active state, 0 = inactive).",
		}, []string{"key", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{sessionStarts, sessionStops, sessionFailures, readinessDuration, activeSessions, stateTransitions, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// Already registered is fine (double Register with default registry).
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route and server.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until Register
// has been called.

func IncStart(key string) {
	if regOK.Load() {
		sessionStarts.WithLabelValues(key).Inc()
	}
}

func IncStop(key string) {
	if regOK.Load() {
		sessionStops.WithLabelValues(key).Inc()
	}
}

func IncFailure(key, reason string) {
	if regOK.Load() {
		sessionFailures.WithLabelValues(key, reason).Inc()
	}
}

func ObserveReadiness(key string, seconds float64) {
	if regOK.Load() {
		readinessDuration.WithLabelValues(key).Observe(seconds)
	}
}

func SetActiveSessions(n int) {
	if regOK.Load() {
		activeSessions.Set(float64(n))
	}
}

func RecordStateTransition(key, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(key, from, to).Inc()
	}
}

func SetCurrentState(key, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(key, state).Set(value)
	}
}
