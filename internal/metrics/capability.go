// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	capabilitySupported = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clipanim_capability_supported",
		Help: "Whether a probed capability is available (1) or not (0)",
	}, []string{"feature"})

	capabilityProbeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipanim_capability_probe_total",
		Help: "Capability resolutions by source (memory, store, probe)",
	}, []string{"source"})
)

// SetCapability publishes one capability flag.
func SetCapability(feature string, supported bool) {
	v := 0.0
	if supported {
		v = 1
	}
	capabilitySupported.WithLabelValues(normalizeLabel(feature)).Set(v)
}

// RecordCapabilityResolution counts where a capability snapshot came from.
func RecordCapabilityResolution(source string) {
	switch source {
	case "memory", "store", "probe":
	default:
		source = "unknown"
	}
	capabilityProbeTotal.WithLabelValues(source).Inc()
}
