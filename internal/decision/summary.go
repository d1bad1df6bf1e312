// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decision

import "github.com/rs/zerolog"

type OutputSummary struct {
	Pipeline string
	Family   string
	Reason   string
}

// Summary renders out with stable label values; a rejection has pipeline "rejected".
func (out Output) Summary() OutputSummary {
	pipeline := string(out.Pipeline)
	if pipeline == "" {
		pipeline = "rejected"
	}
	family := string(out.Family)
	if family == "" {
		family = string(FamilyUnknown)
	}
	return OutputSummary{
		Pipeline: pipeline,
		Family:   family,
		Reason:   string(out.Reason),
	}
}

// MarshalZerologObject lets the summary be logged with Object().
func (s OutputSummary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("pipeline", s.Pipeline).Str("family", s.Family).Str("reason", s.Reason)
}
