// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package jobs owns run contexts: the single cancellation primitive of a conversion.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/metrics"
)

var (
	// ErrCancelled is returned from every suspension point once a run is no longer active.
	ErrCancelled = errors.New("conversion cancelled")
	// ErrSuperseded is the cancellation cause when a newer run claims the same slot.
	ErrSuperseded = errors.New("superseded by a newer job")
)

// DefaultSlot is used when the caller does not name a slot.
const DefaultSlot = "default"

// RunContext identifies one conversion attempt. It turns inactive when the
// parent context ends, when it is cancelled, or when a newer run claims its slot.
type RunContext struct {
	OperationID string
	Slot        string
	StartedAt   time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// Context returns the run's context, annotated with job and operation ids for logging.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// IsActive reports whether the run may still make progress.
func (rc *RunContext) IsActive() bool { return rc.ctx.Err() == nil }

// Check returns nil while the run is active and an ErrCancelled-wrapping error afterwards.
func (rc *RunContext) Check() error {
	if rc.ctx.Err() == nil {
		return nil
	}
	return cancelError(context.Cause(rc.ctx))
}

// Cancel deactivates the run.
func (rc *RunContext) Cancel() { rc.cancel(ErrCancelled) }

// Cause returns why the run stopped, or nil while active.
func (rc *RunContext) Cause() error { return context.Cause(rc.ctx) }

func cancelError(cause error) error {
	if cause == nil || errors.Is(cause, ErrCancelled) {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// CheckContext is Check for code that only holds a context.
func CheckContext(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return cancelError(context.Cause(ctx))
}

// IsCancelled reports whether err represents a job abort rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Slots hands out run contexts. At most one run per slot is active; Begin
// preempts the previous holder, there is no queueing.
type Slots struct {
	mu     sync.Mutex
	active map[string]*RunContext
}

// NewSlots returns an empty slot table.
func NewSlots() *Slots {
	return &Slots{active: make(map[string]*RunContext)}
}

// Begin creates a new active run in slot, deactivating any prior holder.
func (s *Slots) Begin(parent context.Context, slot string) *RunContext {
	if slot == "" {
		slot = DefaultSlot
	}
	opID := uuid.NewString()

	ctx := xglog.ContextWithJobID(parent, slot)
	ctx = xglog.ContextWithOperationID(ctx, opID)
	ctx, cancel := context.WithCancelCause(ctx)

	rc := &RunContext{
		OperationID: opID,
		Slot:        slot,
		StartedAt:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	s.mu.Lock()
	prev := s.active[slot]
	s.active[slot] = rc
	s.mu.Unlock()

	if prev != nil && prev.IsActive() {
		prev.cancel(ErrSuperseded)
		metrics.IncJobsSuperseded()
		logger := xglog.WithComponentFromContext(ctx, "jobs")
		logger.Info().
			Str(xglog.FieldEvent, "jobs.superseded").
			Str("previous_operation_id", prev.OperationID).
			Msg("superseded previous run")
	}
	return rc
}

// End releases rc. The slot is cleared only if rc still owns it.
func (s *Slots) End(rc *RunContext) {
	if rc == nil {
		return
	}
	s.mu.Lock()
	if s.active[rc.Slot] == rc {
		delete(s.active, rc.Slot)
	}
	s.mu.Unlock()
	rc.cancel(context.Canceled)
}

// Active returns the current holder of slot.
func (s *Slots) Active(slot string) (*RunContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.active[slot]
	return rc, ok
}
