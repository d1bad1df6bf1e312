// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package diagnostics reports host and subsystem health over a small debug
// HTTP surface.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker defines the interface for subsystem health checks.
type HealthChecker interface {
	Check(ctx context.Context) SubsystemHealth
}

// ComputeOverallStatus calculates overall health.
//
// Logic:
//   - A critical subsystem unavailable → unavailable
//   - Any subsystem degraded/unavailable → degraded
//   - Otherwise ok
func ComputeOverallStatus(subsystems map[Subsystem]SubsystemHealth) HealthStatus {
	if len(subsystems) == 0 {
		return Unknown
	}
	overall := OK
	for _, health := range subsystems {
		switch health.Status {
		case Unavailable:
			if health.Criticality == Critical {
				return Unavailable
			}
			overall = Degraded
		case Degraded:
			overall = Degraded
		}
	}
	return overall
}

// BuildDegradationSummary creates actionable items for failed subsystems.
func BuildDegradationSummary(subsystems map[Subsystem]SubsystemHealth) []DegradationItem {
	var items []DegradationItem
	for _, health := range subsystems {
		if health.Status != Degraded && health.Status != Unavailable {
			continue
		}
		item := DegradationItem{
			Subsystem:        health.Subsystem,
			Status:           health.Status,
			ErrorCode:        health.ErrorCode,
			Since:            health.MeasuredAt,
			SuggestedActions: SuggestedActions[health.ErrorCode],
		}
		if health.LastOK != nil {
			item.Since = *health.LastOK
		}
		items = append(items, item)
	}
	return items
}

// Collect runs every checker concurrently and assembles a report. lkg may be nil.
func Collect(ctx context.Context, checkers []HealthChecker, lkg *LKGCache) Report {
	var (
		mu         sync.Mutex
		subsystems = make(map[Subsystem]SubsystemHealth, len(checkers))
	)
	var g errgroup.Group
	for _, c := range checkers {
		g.Go(func() error {
			h := c.Check(ctx)
			if lkg != nil {
				lkg.Observe(&h)
			}
			mu.Lock()
			subsystems[h.Subsystem] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		MeasuredAt:         time.Now(),
		OverallStatus:      ComputeOverallStatus(subsystems),
		Subsystems:         subsystems,
		DegradationSummary: BuildDegradationSummary(subsystems),
	}
}

func fail(h SubsystemHealth, status HealthStatus, code string) SubsystemHealth {
	h.Status = status
	h.ErrorCode = code
	h.ErrorMessage = ErrorMessages[code]
	return h
}
