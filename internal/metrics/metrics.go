// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package metrics counts transceiver presence polls and OIR events.
//
// A nil *Metrics is valid and counts nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oir"

type Metrics struct {
	Registry *prometheus.Registry

	polls     prometheus.Counter
	events    *prometheus.CounterVec
	overrides *prometheus.CounterVec
	present   *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Presence register snapshots taken.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Transceiver insert and remove events.",
		}, []string{"event"}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reset_overrides_total",
			Help:      "QSFP reset register states that overrode raw presence.",
		}, []string{"state"}),
		present: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "port_present",
			Help:      "1 if a transceiver is present in the port.",
		}, []string{"port"}),
	}
	m.Registry.MustRegister(
		m.polls,
		m.events,
		m.overrides,
		m.present,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Poll() {
	if m != nil {
		m.polls.Inc()
	}
}

// Event records a presence change of the 1-based port.
func (m *Metrics) Event(port int, present bool) {
	if m == nil {
		return
	}
	if present {
		m.events.WithLabelValues("insert").Inc()
	} else {
		m.events.WithLabelValues("remove").Inc()
	}
	m.Present(port, present)
}

// Override records a reset register state that replaced raw presence,
// one of "requested", "in_progress" or "complete".
func (m *Metrics) Override(state string) {
	if m != nil {
		m.overrides.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) Present(port int, present bool) {
	if m == nil {
		return
	}
	v := float64(0)
	if present {
		v = 1
	}
	m.present.WithLabelValues(strconv.Itoa(port)).Set(v)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
