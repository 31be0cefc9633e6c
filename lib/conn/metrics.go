/*
Copyright 2026 The QuicFuscate Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package conn

import "github.com/prometheus/client_golang/prometheus"

// metrics is one connection's diagnostic surface (spec §7/§9:
// "diagnostics: streams open, bytes in flight, BBR mode, MTU current
// size, probes outstanding"). Each Conn owns its own prometheus
// registry rather than registering into the global default one, so
// that opening more than one connection in the same process never
// panics on a duplicate metric registration.
type metrics struct {
	registry *prometheus.Registry

	streamsOpen       prometheus.Gauge
	bytesInFlight     prometheus.Gauge
	bbrMode           *prometheus.GaugeVec
	mtuCurrent        prometheus.Gauge
	probesOutstanding prometheus.Gauge
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
	fecRecoveries     prometheus.Counter
	migrations        prometheus.Counter
}

func newMetrics(connID string) *metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"connection_id": connID}

	m := &metrics{
		registry: reg,
		streamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "quicsand",
			Name:        "streams_open",
			Help:        "Number of streams opened on this connection; not decremented when a stream closes.",
			ConstLabels: labels,
		}),
		bytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "quicsand",
			Name:        "bytes_in_flight",
			Help:        "Bytes sent but not yet acknowledged.",
			ConstLabels: labels,
		}),
		bbrMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "quicsand",
			Name:        "bbr_mode",
			Help:        "1 for the BBRv2 state currently active, 0 for the others.",
			ConstLabels: labels,
		}, []string{"state"}),
		mtuCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "quicsand",
			Name:        "mtu_current_bytes",
			Help:        "Currently validated path MTU.",
			ConstLabels: labels,
		}),
		probesOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "quicsand",
			Name:        "mtu_probes_outstanding",
			Help:        "Number of MTU probes awaiting a response.",
			ConstLabels: labels,
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "quicsand",
			Name:        "bytes_sent_total",
			Help:        "Total bytes sent on the wire.",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "quicsand",
			Name:        "bytes_received_total",
			Help:        "Total bytes received from the wire.",
			ConstLabels: labels,
		}),
		fecRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "quicsand",
			Name:        "fec_recoveries_total",
			Help:        "Packets reconstructed by the FEC coder.",
			ConstLabels: labels,
		}),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "quicsand",
			Name:        "migrations_total",
			Help:        "Successful connection migrations.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(m.streamsOpen, m.bytesInFlight, m.bbrMode, m.mtuCurrent,
		m.probesOutstanding, m.bytesSent, m.bytesReceived, m.fecRecoveries, m.migrations)
	return m
}

func (m *metrics) setBBRMode(current string, all []string) {
	for _, s := range all {
		if s == current {
			m.bbrMode.WithLabelValues(s).Set(1)
		} else {
			m.bbrMode.WithLabelValues(s).Set(0)
		}
	}
}

// Registry exposes the connection's private prometheus registry so the
// caller can scrape or federate it into a process-wide one.
func (c *Conn) Registry() *prometheus.Registry { return c.metrics.registry }
