// Package telemetry exposes the profiler's own health as Prometheus metrics:
// how many samples were lost to each anomaly class and how reports fared.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "callprof"

	resultWritten = "written"
	resultFailed  = "failed"
)

// Metrics holds the profiler's self-observability instruments.
type Metrics struct {
	StackDesyncs     prometheus.Counter
	OrphanLeaves     prometheus.Counter
	AllocRegressions prometheus.Counter
	Reports          *prometheus.CounterVec
	ReportRows       prometheus.Gauge
	LiveCollectors   prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := newMetrics()
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NilMetrics returns working instruments that are not registered anywhere.
func NilMetrics() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		StackDesyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stack_desync_total",
			Help:      "Leave events whose method did not match the top-of-stack frame.",
		}),
		OrphanLeaves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_leave_total",
			Help:      "Leave events observed on an empty call stack.",
		}),
		AllocRegressions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alloc_regression_total",
			Help:      "Calls whose allocation counter went backwards and was clamped to zero.",
		}),
		Reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Reports produced, by sink result.",
		}, []string{"result"}),
		ReportRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_rows",
			Help:      "Rows in the most recent report.",
		}),
		LiveCollectors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_collectors",
			Help:      "Per-thread collectors currently registered.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StackDesyncs, m.OrphanLeaves, m.AllocRegressions,
		m.Reports, m.ReportRows, m.LiveCollectors,
	}
}

// StackDesync implements collector.Anomalies.
func (m *Metrics) StackDesync() { m.StackDesyncs.Inc() }

// OrphanLeave implements collector.Anomalies.
func (m *Metrics) OrphanLeave() { m.OrphanLeaves.Inc() }

// AllocRegression implements collector.Anomalies.
func (m *Metrics) AllocRegression() { m.AllocRegressions.Inc() }

// ReportWritten records a report and its row count.
func (m *Metrics) ReportWritten(rows int) {
	m.Reports.WithLabelValues(resultWritten).Inc()
	m.ReportRows.Set(float64(rows))
}

// ReportFailed records a report whose sink could not be written.
func (m *Metrics) ReportFailed(rows int) {
	m.Reports.WithLabelValues(resultFailed).Inc()
	m.ReportRows.Set(float64(rows))
}

// CollectorRegistered implements registry.Observer.
func (m *Metrics) CollectorRegistered() { m.LiveCollectors.Inc() }

// CollectorUnregistered implements registry.Observer.
func (m *Metrics) CollectorUnregistered() { m.LiveCollectors.Dec() }
