// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decode

// Sampler picks decoded frames nearest to evenly spaced target times.
// Targets start at the first frame's timestamp and advance by 1/targetFPS.
// A frame is selected at most once; selection stops after maxFrames.
type Sampler struct {
	stepUS    float64
	maxFrames int

	started  bool
	originUS int64
	target   int
	prev     *Frame
	selected []Frame
}

// NewSampler returns a Sampler. A non-positive targetFPS keeps every frame.
func NewSampler(targetFPS float64, maxFrames int) *Sampler {
	s := &Sampler{maxFrames: maxFrames}
	if targetFPS > 0 {
		s.stepUS = 1e6 / targetFPS
	}
	return s
}

// Done reports whether maxFrames frames have been selected.
func (s *Sampler) Done() bool {
	return s.maxFrames > 0 && len(s.selected) >= s.maxFrames
}

// Frames returns the selection so far.
func (s *Sampler) Frames() []Frame { return s.selected }

// Offer considers f, which must be later than every frame offered before.
// It returns ErrStop once the selection is complete, which suits a
// Decoder callback directly.
func (s *Sampler) Offer(f Frame) error {
	if s.Done() {
		return ErrStop
	}
	if !s.started {
		s.started = true
		s.originUS = f.TimestampUS
	}
	if s.stepUS == 0 {
		s.pick(f)
		return s.stopIfDone()
	}
	for !s.Done() {
		t := s.targetUS()
		if f.TimestampUS < t {
			s.prev = &f
			return nil
		}
		if s.prev != nil && t-s.prev.TimestampUS <= f.TimestampUS-t {
			s.pick(*s.prev)
			s.prev = nil
			continue
		}
		s.pick(f)
		s.prev = nil
		s.skipTargetsThrough(f.TimestampUS)
		return s.stopIfDone()
	}
	return ErrStop
}

// Flush selects a trailing frame still waiting for its target when it lies
// within half a step of it, and returns the selection.
func (s *Sampler) Flush() []Frame {
	if s.prev != nil && !s.Done() && float64(s.targetUS()-s.prev.TimestampUS) <= s.stepUS/2 {
		s.pick(*s.prev)
		s.prev = nil
	}
	return s.selected
}

// Timestamps returns the selected frames' timestamps.
func (s *Sampler) Timestamps() []int64 {
	ts := make([]int64, len(s.selected))
	for i, f := range s.selected {
		ts[i] = f.TimestampUS
	}
	return ts
}

func (s *Sampler) targetUS() int64 {
	return s.originUS + int64(float64(s.target)*s.stepUS+0.5)
}

func (s *Sampler) pick(f Frame) {
	s.selected = append(s.selected, f)
	s.target++
}

// skipTargetsThrough drops targets at or before ts; the frames that could
// serve them are already used.
func (s *Sampler) skipTargetsThrough(ts int64) {
	for s.targetUS() <= ts {
		s.target++
	}
}

func (s *Sampler) stopIfDone() error {
	if s.Done() {
		return ErrStop
	}
	return nil
}
