// Package metrics exposes Prometheus collectors for matching runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/kalambet/dailymatch/internal/match"
)

// Manager owns a private registry and the collectors registered on it.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	poolSize       prometheus.Histogram
	oracleAttempts *prometheus.CounterVec
	repairs        *prometheus.CounterVec
	shortfalls     *prometheus.CounterVec
	degraded       prometheus.Counter
	breakerState   *prometheus.GaugeVec
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace overrides the metric namespace (default "dailymatch").
func WithNamespace(ns string) Option {
	return func(m *Manager) { m.namespace = ns }
}

// WithRegistry registers collectors on r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// NewManager creates the collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{namespace: "dailymatch"}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)
	m.runs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_total",
		Help:      "Matching runs by cohort and outcome code.",
	}, []string{"cohort", "outcome"})
	m.runDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of matching runs.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"outcome"})
	m.poolSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "pool_size",
		Help:      "Eligible participants per run.",
		Buckets:   []float64{4, 5, 10, 20, 50, 100, 200},
	})
	m.oracleAttempts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "oracle",
		Name:      "attempts_total",
		Help:      "Oracle calls by result.",
	}, []string{"result"})
	m.repairs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "repairs_total",
		Help:      "Changes the repairer applied to oracle proposals, by kind.",
	}, []string{"kind"})
	m.shortfalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "gender_shortfalls_total",
		Help:      "Clusters published below the gender-balance target.",
	}, []string{"structural"})
	m.degraded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "degraded_runs_total",
		Help:      "Runs published with a single undersized cluster.",
	})
	m.breakerState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "oracle",
		Name:      "circuit_state",
		Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
	}, []string{"name"})
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// RunFinished counts a run. outcome is "success" or an error code.
func (m *Manager) RunFinished(cohortID, outcome string, d time.Duration) {
	m.runs.WithLabelValues(cohortID, outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Manager) PoolSelected(n int) {
	m.poolSize.Observe(float64(n))
}

func (m *Manager) OracleAttempt(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.oracleAttempts.WithLabelValues(result).Inc()
}

// Partition records the repairs and shortfalls of a published partition.
func (m *Manager) Partition(r match.Report) {
	for _, rep := range r.Repairs {
		m.repairs.WithLabelValues(rep.Kind).Inc()
	}
	for _, s := range r.Shortfalls {
		m.shortfalls.WithLabelValues(strconv.FormatBool(s.Structural)).Inc()
	}
	if r.Degraded {
		m.degraded.Inc()
	}
}

// BreakerStateChanged matches the oracle's state listener signature.
func (m *Manager) BreakerStateChanged(name string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}
