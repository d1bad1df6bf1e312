// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package diagnostics

import (
	"context"
	"time"

	"github.com/ManuGH/clipanim/internal/capability"
	"github.com/ManuGH/clipanim/internal/encode"
	"github.com/ManuGH/clipanim/internal/modload"
)

// CapabilityChecker reports the published capability snapshot. It never
// triggers a probe.
type CapabilityChecker struct {
	probe *capability.Probe
}

func NewCapabilityChecker(probe *capability.Probe) *CapabilityChecker {
	return &CapabilityChecker{probe: probe}
}

// Check:
//   - degraded: no snapshot yet, no native decode, or no decodable codec
//   - ok: native decode with at least one codec
func (c *CapabilityChecker) Check(context.Context) SubsystemHealth {
	h := SubsystemHealth{
		Subsystem:   SubsystemCapabilities,
		MeasuredAt:  time.Now(),
		Source:      SourceCache,
		Criticality: Optional,
	}
	caps, ok := c.probe.Snapshot()
	if !ok {
		return fail(h, Degraded, ErrProbePending)
	}
	details := CapabilityDetails{Capabilities: caps, Codecs: []string{}}
	for _, codec := range capability.Codecs {
		if caps.Decodes(codec) {
			details.Codecs = append(details.Codecs, codec)
		}
	}
	h.Details = details

	switch {
	case !caps.NativeDecode:
		return fail(h, Degraded, ErrNoNativeDecode)
	case len(details.Codecs) == 0:
		return fail(h, Degraded, ErrNoCodecs)
	}
	h.Status = OK
	return h
}

// EncoderChecker reports which encoder adapters are usable.
type EncoderChecker struct {
	factory *encode.Factory
}

func NewEncoderChecker(factory *encode.Factory) *EncoderChecker {
	return &EncoderChecker{factory: factory}
}

// Check:
//   - unavailable: no adapter of either kind
//   - degraded: frame adapters or transcoder missing
func (c *EncoderChecker) Check(ctx context.Context) SubsystemHealth {
	h := SubsystemHealth{
		Subsystem:   SubsystemEncoders,
		MeasuredAt:  time.Now(),
		Source:      SourceProbe,
		Criticality: Critical,
	}
	var details EncoderDetails
	var frame, transcode int
	for _, a := range c.factory.Adapters() {
		ok := a.Available(ctx)
		details.Adapters = append(details.Adapters, EncoderHealth{Name: a.Name(), Kind: string(a.Kind()), Available: ok})
		if !ok {
			continue
		}
		if a.Kind() == encode.KindTranscode {
			transcode++
		} else {
			frame++
		}
	}
	h.Details = details

	switch {
	case frame == 0 && transcode == 0:
		return fail(h, Unavailable, ErrNoFrameEncoder)
	case transcode == 0:
		return fail(h, Degraded, ErrNoTranscoder)
	case frame == 0:
		return fail(h, Degraded, ErrNoFrameEncoder)
	}
	h.Status = OK
	return h
}

// ProviderChecker reports module provider health scores.
type ProviderChecker struct {
	registry *modload.Registry
}

func NewProviderChecker(registry *modload.Registry) *ProviderChecker {
	return &ProviderChecker{registry: registry}
}

// Check derives status from the health scores of enabled providers:
//   - unavailable: every enabled provider at 0
//   - degraded: none enabled, or any enabled provider below 50
func (c *ProviderChecker) Check(context.Context) SubsystemHealth {
	h := SubsystemHealth{
		Subsystem:   SubsystemModules,
		MeasuredAt:  time.Now(),
		Source:      SourceDerived,
		Criticality: Optional,
	}
	details := ProviderList(c.registry)
	h.Details = details

	enabled, dead, weak := 0, 0, 0
	for _, p := range details.Providers {
		if !p.Enabled {
			continue
		}
		enabled++
		if p.Health == 0 {
			dead++
		}
		if p.Health < 50 {
			weak++
		}
	}
	switch {
	case enabled == 0:
		return fail(h, Degraded, ErrNoProviders)
	case dead == enabled:
		return fail(h, Unavailable, ErrProvidersUnhealthy)
	case weak > 0:
		return fail(h, Degraded, ErrProvidersDegraded)
	}
	h.Status = OK
	return h
}

// ProviderList returns every provider with its rank in the current attempt order.
func ProviderList(reg *modload.Registry) ModuleDetails {
	rank := make(map[string]int)
	for i, p := range reg.Ranked() {
		rank[p.Name] = i + 1
	}
	out := ModuleDetails{Providers: []ProviderHealth{}}
	for _, p := range reg.All() {
		out.Providers = append(out.Providers, providerHealth(p, rank[p.Name]))
	}
	return out
}
