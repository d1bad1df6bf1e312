// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offerAll(t *testing.T, s *Sampler, timestampsMS ...int64) {
	t.Helper()
	for i, ms := range timestampsMS {
		if err := s.Offer(Frame{TimestampUS: ms * 1000, Index: i}); err != nil {
			require.ErrorIs(t, err, ErrStop)
			return
		}
	}
}

func selectedMS(s *Sampler) []int64 {
	var out []int64
	for _, ts := range s.Timestamps() {
		out = append(out, ts/1000)
	}
	return out
}

func TestSampler_PicksNearestFrames(t *testing.T) {
	// 30 fps source sampled at 10 fps.
	s := NewSampler(10, 0)
	var src []int64
	for i := int64(0); i < 30; i++ {
		src = append(src, i*1000/30)
	}
	offerAll(t, s, src...)
	s.Flush()
	assert.Equal(t, []int64{0, 100, 200, 300, 400, 500, 600, 700, 800, 900, 966}, selectedMS(s))
}

func TestSampler_TiesPreferEarlierFrame(t *testing.T) {
	s := NewSampler(10, 0)
	offerAll(t, s, 0, 40, 80, 120, 160, 200)
	s.Flush()
	assert.Equal(t, []int64{0, 80, 200}, selectedMS(s))
}

func TestSampler_NeverRepeatsFrames(t *testing.T) {
	// 5 fps source sampled at 20 fps: every frame at most once.
	s := NewSampler(20, 0)
	offerAll(t, s, 0, 200, 400, 600)
	frames := s.Flush()
	assert.Equal(t, []int64{0, 200, 400, 600}, selectedMS(s))

	seen := map[int]bool{}
	for _, f := range frames {
		assert.False(t, seen[f.Index], "frame %d selected twice", f.Index)
		seen[f.Index] = true
	}
}

func TestSampler_StopsAtMaxFrames(t *testing.T) {
	s := NewSampler(10, 3)
	var stopped bool
	for i := int64(0); i < 100; i++ {
		if err := s.Offer(Frame{TimestampUS: i * 50_000}); err != nil {
			require.ErrorIs(t, err, ErrStop)
			stopped = true
			break
		}
	}
	require.True(t, stopped)
	assert.True(t, s.Done())
	assert.Equal(t, []int64{0, 100, 200}, selectedMS(s))
	assert.ErrorIs(t, s.Offer(Frame{TimestampUS: 1}), ErrStop)
}

func TestSampler_NonZeroOrigin(t *testing.T) {
	s := NewSampler(4, 0)
	offerAll(t, s, 1000, 1100, 1240, 1260, 1500, 1760)
	s.Flush()
	assert.Equal(t, []int64{1000, 1240, 1500, 1760}, selectedMS(s))
}

func TestSampler_FlushKeepsOnlyCloseTrailingFrame(t *testing.T) {
	s := NewSampler(10, 0)
	offerAll(t, s, 0, 10)
	s.Flush()
	assert.Equal(t, []int64{0}, selectedMS(s), "10ms is too far from the 100ms target")

	s = NewSampler(10, 0)
	offerAll(t, s, 0, 60)
	s.Flush()
	assert.Equal(t, []int64{0, 60}, selectedMS(s))
}

func TestSampler_ZeroFPSKeepsEverything(t *testing.T) {
	s := NewSampler(0, 0)
	offerAll(t, s, 0, 1, 2, 3)
	assert.Equal(t, []int64{0, 1, 2, 3}, selectedMS(s))
}
