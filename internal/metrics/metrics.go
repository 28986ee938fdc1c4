// Package metrics exposes the server's Prometheus metrics. The server does
// not listen on the network; the registry is written to a node_exporter
// textfile at shutdown.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Request outcomes recorded by RequestsTotal.
const (
	OutcomeDispatched = "dispatched"
	OutcomeRejected   = "rejected"
	OutcomeSentinel   = "sentinel"
	OutcomeEOF        = "eof"
	OutcomeInterrupt  = "interrupted"
)

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	activeWorkers  prometheus.Gauge
	requestsTotal  *prometheus.CounterVec
	workerDuration *prometheus.HistogramVec
	cpuUserSeconds prometheus.Gauge
	budgetExceeded prometheus.Counter
}

// NewMetrics creates and registers every collector, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fibserver_active_workers",
			Help: "Number of dispatched workers that have not finished yet.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fibserver_requests_total",
			Help: "Frames read from the channel, by outcome.",
		}, []string{"outcome"}),
		workerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fibserver_worker_duration_seconds",
			Help:    "Wall time spent computing one Fibonacci number.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"status"}),
		cpuUserSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fibserver_cpu_user_seconds",
			Help: "User CPU time consumed by the server process at the last report.",
		}),
		budgetExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fibserver_cpu_budget_exceeded_total",
			Help: "Times the CPU-limit notification was handled.",
		}),
	}
	m.registry.MustRegister(
		m.activeWorkers,
		m.requestsTotal,
		m.workerDuration,
		m.cpuUserSeconds,
		m.budgetExceeded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// IncrementActiveWorkers records a dispatched worker.
func (m *Metrics) IncrementActiveWorkers() { m.activeWorkers.Inc() }

// DecrementActiveWorkers records a finished worker.
func (m *Metrics) DecrementActiveWorkers() { m.activeWorkers.Dec() }

// ObserveRequest counts one frame outcome.
func (m *Metrics) ObserveRequest(outcome string) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWorker records the duration of one computation.
func (m *Metrics) ObserveWorker(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.workerDuration.WithLabelValues(status).Observe(d.Seconds())
}

// SetCPUUsed records the latest user CPU figure.
func (m *Metrics) SetCPUUsed(d time.Duration) { m.cpuUserSeconds.Set(d.Seconds()) }

// IncrementBudgetExceeded records a handled CPU-limit notification.
func (m *Metrics) IncrementBudgetExceeded() { m.budgetExceeded.Inc() }

// WriteTextfile writes the registry in the Prometheus text format to path,
// atomically, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
