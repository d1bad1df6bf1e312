// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package progress emits throttled, monotonic progress updates for a job.
package progress

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum spacing between delivered percent updates.
const DefaultInterval = 100 * time.Millisecond

// Update is delivered to the sink. Percent is in [0, 100].
type Update struct {
	Percent float64
	Stage   string
	Message string
}

// Sink receives updates. It is called synchronously and must not call back into the Reporter.
type Sink func(Update)

// Option configures a Reporter.
type Option func(*Reporter)

// WithInterval sets the throttle interval. Zero disables throttling.
func WithInterval(d time.Duration) Option {
	return func(r *Reporter) { r.interval = d }
}

// WithActive installs the run's liveness predicate. Nothing is delivered once it returns false.
func WithActive(isActive func() bool) Option {
	return func(r *Reporter) { r.isActive = isActive }
}

// Reporter maps stage-relative progress onto a single 0..100 scale.
type Reporter struct {
	mu       sync.Mutex
	sink     Sink
	isActive func() bool
	interval time.Duration
	limiter  *rate.Sometimes

	stage     string
	from, to  float64
	percent   float64
	delivered float64
	done      bool
}

// New returns a Reporter. A nil sink yields a Reporter that only tracks state.
func New(sink Sink, opts ...Option) *Reporter {
	r := &Reporter{
		sink:      sink,
		interval:  DefaultInterval,
		to:        100,
		delivered: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.limiter = &rate.Sometimes{First: 1, Interval: r.interval}
	return r
}

// Stage starts a named stage spanning [from, to] of the overall percentage.
func (r *Reporter) Stage(name string, from, to float64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	from, to = clamp(from), clamp(to)
	if to < from {
		to = from
	}
	r.stage, r.from, r.to = name, from, to
	r.advance(from)
	r.emit(Update{Percent: r.percent, Stage: name}, true)
}

// Report records current/total progress within the current stage.
func (r *Reporter) Report(current, total int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	frac := 1.0
	if total > 0 {
		frac = float64(current) / float64(total)
	}
	if math.IsNaN(frac) || frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	r.advance(r.from + (r.to-r.from)*frac)
	r.emit(Update{Percent: r.percent, Stage: r.stage}, r.percent >= 100)
}

// Status delivers a free-form message. Messages are not throttled.
func (r *Reporter) Status(msg string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active() || r.sink == nil {
		return
	}
	r.sink(Update{Percent: r.percent, Stage: r.stage, Message: msg})
}

// Complete forces 100%.
func (r *Reporter) Complete() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance(100)
	r.emit(Update{Percent: 100, Stage: r.stage}, true)
}

// Percent returns the latest recorded (not necessarily delivered) percentage.
func (r *Reporter) Percent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percent
}

func (r *Reporter) advance(p float64) {
	p = clamp(p)
	if p > r.percent {
		r.percent = p
	}
}

func (r *Reporter) active() bool {
	return r.isActive == nil || r.isActive()
}

// emit must be called with r.mu held. Forced updates bypass the throttle.
func (r *Reporter) emit(u Update, force bool) {
	if r.sink == nil || r.done || !r.active() {
		return
	}
	if u.Percent < r.delivered || (u.Percent == r.delivered && !force) {
		return
	}
	deliver := func() {
		r.delivered = u.Percent
		r.done = u.Percent >= 100
		r.sink(u)
	}
	if force || r.interval <= 0 {
		deliver()
		return
	}
	r.limiter.Do(deliver)
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
