// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/pluginhost/pkg/errutil"
)

// PluginsLoaded tracks the number of loaded plugins.
var PluginsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "pluginhost_plugins_loaded",
	Help: "Number of plugins currently loaded",
})

// LoadFailures counts plugins that could not be loaded, by error code.
var LoadFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pluginhost_plugin_load_failures_total",
		Help: "Total number of plugins rejected or failed during load",
	},
	[]string{"code"},
)

// RegisterMetrics registers host metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PluginsLoaded)
	reg.MustRegister(LoadFailures)
}

func recordLoadFailure(err error) {
	code := errutil.Code(err)
	if code == "" {
		code = "UNKNOWN"
	}
	LoadFailures.WithLabelValues(code).Inc()
}
