// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package timer

import "github.com/prometheus/client_golang/prometheus"

// TimersFired counts timer firings.
var TimersFired = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "pluginhost_timers_fired_total",
	Help: "Total number of timer callbacks fired",
})

// TimersActive reports currently scheduled timers.
var TimersActive = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "pluginhost_timers_active",
	Help: "Number of scheduled timers",
})

// RegisterMetrics registers timer metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(TimersFired)
	reg.MustRegister(TimersActive)
}
