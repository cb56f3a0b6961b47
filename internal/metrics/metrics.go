// Copyright (C) 2026 Collabora Ltd. Licensed under LGPL-2.1 (https://www.gnu.org/licenses/lgpl-2.1.txt)

// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's instruments, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// BackgroundBandwidth is the rate currently requested for the
	// background class, in bytes/s.
	BackgroundBandwidth prometheus.Gauge
	// BufferPercent is the last reported stream buffer fill, 0-100.
	BufferPercent prometheus.Gauge
	// InPanic is 1 while the controller considers the buffer unhealthy.
	InPanic prometheus.Gauge
	// QdiscBytes tracks the sampled byte counters per traffic class.
	QdiscBytes *prometheus.GaugeVec

	// Installs counts full topology installs.
	Installs prometheus.Counter
	// Updates counts in-place class rate changes.
	Updates prometheus.Counter
	// Teardowns counts transitions back to the idle state.
	Teardowns prometheus.Counter
	// RejectedCalls counts RPC calls refused with a validation error.
	RejectedCalls prometheus.Counter
}

// New creates and registers the daemon's metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		BackgroundBandwidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcmmd",
			Name:      "background_bandwidth_bytes_per_second",
			Help:      "Rate currently requested for the background class.",
		}),
		BufferPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcmmd",
			Name:      "buffer_fill_percent",
			Help:      "Last reported stream buffer fill percentage.",
		}),
		InPanic: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tcmmd",
			Name:      "in_panic",
			Help:      "1 while the stream buffer is considered unhealthy.",
		}),
		QdiscBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tcmmd",
			Name:      "qdisc_bytes_total",
			Help:      "Sampled qdisc byte counters per traffic class.",
		}, []string{"class"}),
		Installs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcmmd",
			Name:      "installs_total",
			Help:      "Full traffic control topology installs.",
		}),
		Updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcmmd",
			Name:      "updates_total",
			Help:      "In-place class rate updates.",
		}),
		Teardowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcmmd",
			Name:      "teardowns_total",
			Help:      "Transitions back to the idle state.",
		}),
		RejectedCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tcmmd",
			Name:      "rejected_calls_total",
			Help:      "RPC calls refused with a validation error.",
		}),
	}

	reg.MustRegister(m.BackgroundBandwidth, m.BufferPercent, m.InPanic,
		m.QdiscBytes, m.Installs, m.Updates, m.Teardowns, m.RejectedCalls)
	return m
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
