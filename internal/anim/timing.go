// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package anim

import "math"

const (
	// MinFrameMs is the shortest frame most decoders honour.
	MinFrameMs = 8
	// MaxFrameMs is the largest value a 24-bit duration field holds.
	MaxFrameMs = 0xFFFFFF
	// DefaultDownsampleThreshold is the source/target rate ratio above which
	// timestamp deltas are replaced by uniform spacing.
	DefaultDownsampleThreshold = 1.05
)

// TimingOptions tunes ReconcileDurations.
type TimingOptions struct {
	TargetFPS float64
	// SourceFPS is the frame rate of the stream the frames were sampled
	// from. Zero derives it from the timestamps.
	SourceFPS float64
	// TotalMs is the declared animation length, used when timestamps are unusable.
	TotalMs             int
	MinFrameMs          int
	DownsampleThreshold float64
}

func (o TimingOptions) withDefaults() TimingOptions {
	if o.TargetFPS <= 0 {
		o.TargetFPS = 10
	}
	if o.MinFrameMs <= 0 {
		o.MinFrameMs = MinFrameMs
	}
	if o.DownsampleThreshold <= 0 {
		o.DownsampleThreshold = DefaultDownsampleThreshold
	}
	return o
}

// ReconcileDurations produces exactly n per-frame durations in milliseconds,
// each within [MinFrameMs, MaxFrameMs], whose sum approximates the intended
// animation length. timestampsUS are presentation times of the n frames.
func ReconcileDurations(timestampsUS []int64, n int, opts TimingOptions) []int {
	if n <= 0 {
		return nil
	}
	opts = opts.withDefaults()
	floor := opts.MinFrameMs

	var out []int
	switch {
	case len(timestampsUS) == n && n >= 2 && increasing(timestampsUS):
		sourceFPS := opts.SourceFPS
		if sourceFPS <= 0 {
			span := float64(timestampsUS[n-1]-timestampsUS[0]) / 1e6
			sourceFPS = float64(n-1) / span
		}
		if sourceFPS/opts.TargetFPS > opts.DownsampleThreshold {
			out = uniform(n, 1000/opts.TargetFPS)
		} else {
			out = fromTimestamps(timestampsUS)
		}
	case opts.TotalMs > 0:
		out = uniform(n, float64(opts.TotalMs)/float64(n))
	default:
		out = uniform(n, 1000/opts.TargetFPS)
	}

	for i, d := range out {
		out[i] = clampInt(d, floor, MaxFrameMs)
	}
	return out
}

func increasing(ts []int64) bool {
	for i := 1; i < len(ts); i++ {
		if ts[i] <= ts[i-1] {
			return false
		}
	}
	return true
}

// uniform spreads n frames of step ms, rounding cumulatively so the sum stays exact.
func uniform(n int, step float64) []int {
	out := make([]int, n)
	prev := 0
	for i := range out {
		next := int(math.Round(float64(i+1) * step))
		out[i] = next - prev
		prev = next
	}
	return out
}

// fromTimestamps uses consecutive deltas; the last frame repeats the mean delta.
func fromTimestamps(ts []int64) []int {
	n := len(ts)
	out := make([]int, n)
	ms := func(us int64) int { return int(math.Round(float64(us-ts[0]) / 1000)) }
	for i := 0; i < n-1; i++ {
		out[i] = ms(ts[i+1]) - ms(ts[i])
	}
	mean := float64(ts[n-1]-ts[0]) / 1000 / float64(n-1)
	out[n-1] = int(math.Round(mean))
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
