package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	appStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpsman",
			Subsystem: "application",
			Name:      "starts_total",
			Help:      "Number of successful application starts.",
		}, []string{"name"},
	)
	appStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpsman",
			Subsystem: "application",
			Name:      "stops_total",
			Help:      "Number of application stops (graceful or kill).",
		}, []string{"name"},
	)
	appFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpsman",
			Subsystem: "application",
			Name:      "failures_total",
			Help:      "Number of failed lifecycle operations by operation.",
		}, []string{"name", "op"},
	)
	appsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vpsman",
			Subsystem: "application",
			Name:      "running",
			Help:      "Applications currently recorded as running.",
		},
	)
	portAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpsman",
			Subsystem: "port",
			Name:      "allocations_total",
			Help:      "Port allocation attempts by result (ok, exhausted, error).",
		}, []string{"result"},
	)
	proxyTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpsman",
			Subsystem: "proxy",
			Name:      "transitions_total",
			Help:      "Proxy config state transitions by operation and outcome.",
		}, []string{"op", "step", "result"},
	)
	imports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vpsman",
			Subsystem: "reconcile",
			Name:      "imported_total",
			Help:      "Records created or updated by reconciliation imports.",
		}, []string{"kind", "action"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vpsman",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Duration of external commands (nginx, netstat, systemctl).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{appStarts, appStops, appFailures, appsRunning, portAllocations, proxyTransitions, imports, commandDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		appStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		appStops.WithLabelValues(name).Inc()
	}
}

func IncFailure(name, op string) {
	if regOK.Load() {
		appFailures.WithLabelValues(name, op).Inc()
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		appsRunning.Set(float64(n))
	}
}

func IncAllocation(result string) {
	if regOK.Load() {
		portAllocations.WithLabelValues(result).Inc()
	}
}

func IncProxyTransition(op, step string, ok bool) {
	if regOK.Load() {
		proxyTransitions.WithLabelValues(op, step, result(ok)).Inc()
	}
}

func AddImported(kind, action string, n int) {
	if regOK.Load() && n > 0 {
		imports.WithLabelValues(kind, action).Add(float64(n))
	}
}

func ObserveCommand(name string, seconds float64, err error) {
	if regOK.Load() {
		commandDuration.WithLabelValues(name, result(err == nil)).Observe(seconds)
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
