// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package eventbus

import "github.com/prometheus/client_golang/prometheus"

// EventsPublished counts publishes per event name.
// Use RegisterMetrics to register this with a Prometheus registry.
var EventsPublished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pluginhost_events_published_total",
		Help: "Total number of events published on the bus",
	},
	[]string{"event"},
)

// CallbackFailures counts contained callback failures by source and plugin.
// The timer service records into the same vector.
var CallbackFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pluginhost_callback_failures_total",
		Help: "Total number of plugin callbacks that returned an error or panicked",
	},
	[]string{"source", "plugin"},
)

// RegisterMetrics registers event bus metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EventsPublished)
	reg.MustRegister(CallbackFailures)
}

// RecordPublish increments the publish counter for event.
func RecordPublish(event string) {
	EventsPublished.WithLabelValues(event).Inc()
}

// RecordCallbackFailure increments the failure counter.
func RecordCallbackFailure(source, plugin string) {
	CallbackFailures.WithLabelValues(source, plugin).Inc()
}
