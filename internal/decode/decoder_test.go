// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decode

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/clipanim/internal/demux"
)

type sliceSource struct {
	chunks []demux.Chunk
}

func (s *sliceSource) Next(ctx context.Context) (demux.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return demux.Chunk{}, err
	}
	if len(s.chunks) == 0 {
		return demux.Chunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func TestFitDimensions(t *testing.T) {
	cases := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{1920, 1080, 480, 480, 270},
		{1080, 1920, 480, 270, 480},
		{320, 240, 480, 320, 240},
		{1920, 1080, 0, 1920, 1080},
		{4000, 2, 100, 100, 1},
	}
	for _, tc := range cases {
		w, h := FitDimensions(tc.w, tc.h, tc.max)
		assert.Equal(t, tc.wantW, w, "%dx%d fit %d", tc.w, tc.h, tc.max)
		assert.Equal(t, tc.wantH, h, "%dx%d fit %d", tc.w, tc.h, tc.max)
	}
}

func TestPTSQueue_SortedAndExtrapolated(t *testing.T) {
	q := &ptsQueue{}
	for _, v := range []int64{0, 80_000, 40_000, 160_000, 120_000} {
		q.add(v)
	}
	for k, want := range []int64{0, 40_000, 80_000, 120_000, 160_000} {
		assert.Equal(t, want, q.at(k, 25))
	}
	assert.Equal(t, int64(200_000), q.at(5, 25))
	assert.Equal(t, int64(240_000), q.at(6, 25))
}

func TestArgs_HardwareAndScale(t *testing.T) {
	d := NewFFmpegDecoder(nil, Options{Hardware: true, Device: "/dev/dri/renderD128"})
	args := strings.Join(d.args("hevc", 480, 270), " ")
	assert.Contains(t, args, "-hwaccel vaapi -hwaccel_device /dev/dri/renderD128")
	assert.Contains(t, args, "-f hevc -i pipe:0")
	assert.Contains(t, args, "scale=480:270")
	assert.True(t, strings.HasSuffix(args, "-pix_fmt rgba -f rawvideo pipe:1"))

	sw := NewFFmpegDecoder(nil, Options{})
	assert.NotContains(t, strings.Join(sw.args("ivf", 8, 8), " "), "-hwaccel")
}
