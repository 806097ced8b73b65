// Package metrics exposes pipeline counters for checks, deploys and expiry.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline records deployment pipeline events.
type Pipeline interface {
	ObserveCheck(domain, status string, duration time.Duration)
	IncPluginRun(plugin, outcome string)
	IncDeployResult(mode, outcome string)
	IncExpired(outcome string)
	ObserveSweep(duration time.Duration)
}

// Noop implements Pipeline without emitting anything.
type Noop struct{}

func (Noop) ObserveCheck(string, string, time.Duration) {}
func (Noop) IncPluginRun(string, string)                {}
func (Noop) IncDeployResult(string, string)             {}
func (Noop) IncExpired(string)                          {}
func (Noop) ObserveSweep(time.Duration)                 {}

var checkBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// Prom implements Pipeline backed by Prometheus collectors.
type Prom struct {
	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	pluginRuns    *prometheus.CounterVec
	deployResults *prometheus.CounterVec
	expirations   *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// NewProm registers pipeline collectors on reg, reusing collectors that are
// already registered under the same name.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "check_results_total",
			Help:      "Check outcomes by domain and status",
		}, []string{"domain", "status"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "check_duration_seconds",
			Help:      "Latency of individual check evaluators",
			Buckets:   checkBuckets,
		}, []string{"domain"}),
		pluginRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "plugin_runs_total",
			Help:      "Plugin invocations by outcome",
		}, []string{"plugin", "outcome"}),
		deployResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "deploy_results_total",
			Help:      "Deploy attempts by mode and outcome",
		}, []string{"mode", "outcome"}),
		expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "expirations_total",
			Help:      "Demo deployments reclaimed by the scheduler",
		}, []string{"outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps",
			Buckets:   checkBuckets,
		}),
	}
	p.checks = register(reg, p.checks)
	p.checkDuration = register(reg, p.checkDuration)
	p.pluginRuns = register(reg, p.pluginRuns)
	p.deployResults = register(reg, p.deployResults)
	p.expirations = register(reg, p.expirations)
	p.sweepDuration = register(reg, p.sweepDuration)
	return p
}

// register adds c to reg or returns the collector already registered in its place.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (p *Prom) ObserveCheck(domain, status string, duration time.Duration) {
	p.checks.WithLabelValues(domain, status).Inc()
	p.checkDuration.WithLabelValues(domain).Observe(duration.Seconds())
}

func (p *Prom) IncPluginRun(plugin, outcome string) {
	p.pluginRuns.WithLabelValues(plugin, outcome).Inc()
}

func (p *Prom) IncDeployResult(mode, outcome string) {
	p.deployResults.WithLabelValues(mode, outcome).Inc()
}

func (p *Prom) IncExpired(outcome string) {
	p.expirations.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveSweep(duration time.Duration) {
	p.sweepDuration.Observe(duration.Seconds())
}
