// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package diagnostics

import (
	"time"

	"github.com/ManuGH/clipanim/internal/capability"
	"github.com/ManuGH/clipanim/internal/modload"
)

// HealthStatus represents the health state of a subsystem.
type HealthStatus int

const (
	Unknown HealthStatus = iota
	OK
	Degraded
	Unavailable
)

func (h HealthStatus) String() string {
	switch h {
	case OK:
		return "ok"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (h HealthStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// Criticality defines whether a subsystem is critical or optional.
type Criticality int

const (
	Critical Criticality = iota
	Optional
)

func (c Criticality) String() string {
	if c == Critical {
		return "critical"
	}
	return "optional"
}

func (c Criticality) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// Source indicates how the health status was determined.
type Source string

const (
	SourceProbe   Source = "probe"   // Active check
	SourceCache   Source = "cache"   // Last published snapshot
	SourceDerived Source = "derived" // Computed from other state
)

// Subsystem identifies which component is being reported on.
type Subsystem string

const (
	SubsystemCapabilities Subsystem = "capabilities"
	SubsystemEncoders     Subsystem = "encoders"
	SubsystemModules      Subsystem = "modules"
)

// SubsystemHealth is the health state of a single subsystem.
type SubsystemHealth struct {
	Subsystem    Subsystem    `json:"subsystem"`
	Status       HealthStatus `json:"status"`
	MeasuredAt   time.Time    `json:"measured_at"`
	Source       Source       `json:"source"`
	Criticality  Criticality  `json:"criticality"`
	LastOK       *time.Time   `json:"last_ok,omitempty"`
	ErrorCode    string       `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Details      any          `json:"details,omitempty"`
}

// Report is the /healthz body.
type Report struct {
	MeasuredAt         time.Time                     `json:"measured_at"`
	OverallStatus      HealthStatus                  `json:"overall_status"`
	Subsystems         map[Subsystem]SubsystemHealth `json:"subsystems"`
	DegradationSummary []DegradationItem             `json:"degradation_summary,omitempty"`
}

// DegradationItem provides actionable information about a degraded subsystem.
type DegradationItem struct {
	Subsystem        Subsystem    `json:"subsystem"`
	Status           HealthStatus `json:"status"`
	Since            time.Time    `json:"since"`
	ErrorCode        string       `json:"error_code"`
	SuggestedActions []string     `json:"suggested_actions,omitempty"`
}

// CapabilityDetails is attached to the capabilities subsystem.
type CapabilityDetails struct {
	Capabilities capability.Capabilities `json:"capabilities"`
	Codecs       []string                `json:"codecs"`
}

// EncoderHealth is one adapter as seen by the factory.
type EncoderHealth struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Available bool   `json:"available"`
}

// EncoderDetails is attached to the encoders subsystem.
type EncoderDetails struct {
	Adapters []EncoderHealth `json:"adapters"`
}

// ProviderHealth is one module provider with its current score.
type ProviderHealth struct {
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
	Health   int    `json:"health"`
	Rank     int    `json:"rank,omitempty"`
}

// ModuleDetails is attached to the modules subsystem.
type ModuleDetails struct {
	Providers []ProviderHealth `json:"providers"`
}

func providerHealth(p modload.Provider, rank int) ProviderHealth {
	return ProviderHealth{
		Name:     p.Name,
		BaseURL:  p.BaseURL,
		Priority: p.Priority,
		Enabled:  p.Enabled,
		Health:   p.Health,
		Rank:     rank,
	}
}
