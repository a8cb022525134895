// Package monitor exposes the supervisor's Prometheus metrics.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotswap"

// Metrics holds the collectors for one supervisor. Each instance registers
// into its own registry, so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	// CyclesTotal counts finished upgrade cycles, partitioned by outcome.
	CyclesTotal *prometheus.CounterVec
	// CycleDuration tracks the time from trigger to the end of the cycle.
	CycleDuration prometheus.Histogram
	// BuildDuration tracks build orchestrator runs, partitioned by result.
	BuildDuration *prometheus.HistogramVec
	// TriggersTotal counts triggers, partitioned by source and whether they
	// started a cycle.
	TriggersTotal *prometheus.CounterVec
	// Phase is 1 for the coordinator's current phase and 0 for the others.
	Phase *prometheus.GaugeVec
	// ServingRole is 1 for the role holding the port.
	ServingRole *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of finished upgrade cycles",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time taken by an upgrade cycle",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		BuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Time taken by the build toolchain",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Total number of upgrade triggers received",
		}, []string{"source", "accepted"}),
		Phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "Current upgrade coordinator phase",
		}, []string{"phase"}),
		ServingRole: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "serving_role",
			Help:      "Server role currently holding the port",
		}, []string{"role"}),
	}

	m.registry.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.BuildDuration,
		m.TriggersTotal,
		m.Phase,
		m.ServingRole,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the collectors are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// ObserveBuild records a build run.
func (m *Metrics) ObserveBuild(ok bool, d time.Duration) {
	result := "success"
	if !ok {
		result = "failure"
	}
	m.BuildDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveTrigger records a trigger and whether it started a cycle.
func (m *Metrics) ObserveTrigger(source string, accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	m.TriggersTotal.WithLabelValues(source, label).Inc()
}

// SetPhase marks phase as current among all known phases.
func (m *Metrics) SetPhase(phase string, all []string) {
	setOne(m.Phase, phase, all)
}

// SetRole marks role as the one holding the port among all known roles.
func (m *Metrics) SetRole(role string, all []string) {
	setOne(m.ServingRole, role, all)
}

func setOne(g *prometheus.GaugeVec, current string, all []string) {
	for _, v := range all {
		if v == current {
			g.WithLabelValues(v).Set(1)
		} else {
			g.WithLabelValues(v).Set(0)
		}
	}
}
