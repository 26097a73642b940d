// Package cloudmetrics reports anonymous accounting metrics from a
// self-hosted deployment to the hosted control plane. It is fully
// optional and never blocks request handling.
package cloudmetrics

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	usageUnits      *prometheus.CounterVec
	retentionPurges prometheus.Counter
	engineErrors    *prometheus.CounterVec
	principalsTotal prometheus.Gauge
	memoryBytes     prometheus.Gauge
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		usageUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotaguard_cloud_usage_units_total",
			Help: "Quota units consumed, by decision outcome.",
		}, []string{"outcome"}),
		retentionPurges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotaguard_cloud_retention_purges_total",
			Help: "Principals archived and purged.",
		}),
		engineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotaguard_cloud_engine_errors_total",
			Help: "Internal errors by operation.",
		}, []string{"operation"}),
		principalsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotaguard_cloud_principals_total",
			Help: "Live principal rows.",
		}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotaguard_cloud_memory_bytes",
			Help: "Process memory obtained from the OS.",
		}),
	}

	registry.MustRegister(
		m.usageUnits,
		m.retentionPurges,
		m.engineErrors,
		m.principalsTotal,
		m.memoryBytes,
	)
	return m
}
