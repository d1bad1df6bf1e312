// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clipanim_module_provider_health",
		Help: "Current health score (0-100) of a module provider",
	}, []string{"provider"})

	moduleFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipanim_module_fetch_total",
		Help: "Module fetch attempts by provider and outcome",
	}, []string{"provider", "outcome"})

	moduleFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipanim_module_fetch_duration_seconds",
		Help:    "Duration of module fetch attempts by provider",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

// SetProviderHealth publishes a provider health score.
func SetProviderHealth(provider string, score int) {
	providerHealth.WithLabelValues(normalizeLabel(provider)).Set(float64(score))
}

// ObserveModuleFetch records a single provider attempt. Outcome is one of
// "success", "cache", "timeout", "http_error", "integrity", "too_large", "error".
func ObserveModuleFetch(provider, outcome string, d time.Duration) {
	p := normalizeLabel(provider)
	moduleFetchTotal.WithLabelValues(p, normalizeLabel(outcome)).Inc()
	if outcome != "cache" {
		moduleFetchDuration.WithLabelValues(p).Observe(d.Seconds())
	}
}
