// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package modload

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/metrics"
)

const (
	MaxHealth = 100

	DefaultSuccessStep = 5
	DefaultFailureStep = 15
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHealthSteps sets the success increment and failure decrement.
// Non-positive values keep the defaults.
func WithHealthSteps(success, failure int) RegistryOption {
	return func(r *Registry) {
		if success > 0 {
			r.successStep = success
		}
		if failure > 0 {
			r.failureStep = failure
		}
	}
}

// Registry is the process-wide provider health table. It is created once at
// startup and shared by every Loader; scores are never persisted.
type Registry struct {
	mu          sync.Mutex
	providers   map[string]*Provider
	successStep int
	failureStep int
	logger      zerolog.Logger
}

// NewRegistry registers providers at full health.
func NewRegistry(providers []Provider, opts ...RegistryOption) *Registry {
	r := &Registry{
		providers:   make(map[string]*Provider, len(providers)),
		successStep: DefaultSuccessStep,
		failureStep: DefaultFailureStep,
		logger:      xglog.WithComponent("modload"),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, p := range providers {
		p := p
		p.Health = MaxHealth
		r.providers[p.Name] = &p
		metrics.SetProviderHealth(p.Name, p.Health)
	}
	return r
}

// Reconfigure applies new provider settings and steps. Known providers keep
// their current health; new ones start at full health and removed ones are
// dropped.
func (r *Registry) Reconfigure(providers []Provider, opts ...RegistryOption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, opt := range opts {
		opt(r)
	}
	next := make(map[string]*Provider, len(providers))
	for _, p := range providers {
		p := p
		p.Health = MaxHealth
		if old, ok := r.providers[p.Name]; ok {
			p.Health = old.Health
		}
		next[p.Name] = &p
		metrics.SetProviderHealth(p.Name, p.Health)
	}
	r.providers = next
}

// Ranked returns the enabled providers ordered by health descending, then
// static priority ascending.
func (r *Registry) Ranked() []Provider {
	r.mu.Lock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Enabled {
			out = append(out, *p)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Health != out[j].Health {
			return out[i].Health > out[j].Health
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// All returns every provider, enabled or not, sorted by name.
func (r *Registry) All() []Provider {
	r.mu.Lock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, *p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Health returns the current score of a provider.
func (r *Registry) Health(name string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	if !ok {
		return 0, false
	}
	return p.Health, true
}

// RecordSuccess raises the provider's score by the success step, capped at MaxHealth.
func (r *Registry) RecordSuccess(name string) { r.adjust(name, true) }

// RecordFailure lowers the provider's score by the failure step, floored at 0.
func (r *Registry) RecordFailure(name string) { r.adjust(name, false) }

func (r *Registry) adjust(name string, success bool) {
	r.mu.Lock()
	p, ok := r.providers[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	before := p.Health
	if success {
		p.Health = min(MaxHealth, p.Health+r.successStep)
	} else {
		p.Health = max(0, p.Health-r.failureStep)
	}
	after := p.Health
	r.mu.Unlock()

	metrics.SetProviderHealth(name, after)
	if before != after {
		r.logger.Debug().
			Str(xglog.FieldEvent, "modload.health_changed").
			Str(xglog.FieldProvider, name).
			Int("from", before).
			Int(xglog.FieldHealth, after).
			Msg("provider health changed")
	}
}
