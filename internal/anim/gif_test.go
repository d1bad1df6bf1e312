// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package anim

import (
	"bytes"
	"image/color"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxGIF_SingleFramePassthrough(t *testing.T) {
	payload := gifStill(t, 4, 4, color.White)
	out, err := MuxGIF([]Frame{{Payload: payload, DurationMS: 100}}, MuxOptions{})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, out))
}

func TestMuxGIF_MergesFrames(t *testing.T) {
	frames := []Frame{
		{Payload: gifStill(t, 10, 6, color.White), DurationMS: 100},
		{Payload: gifStill(t, 12, 8, color.RGBA{R: 255, A: 255}), DurationMS: 8},
		{Payload: gifStill(t, 10, 6, color.RGBA{G: 255, A: 255}), DurationMS: 333},
	}
	out, err := MuxGIF(frames, MuxOptions{LoopCount: 0})
	require.NoError(t, err)

	g, err := gif.DecodeAll(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, g.Image, 3)
	assert.Equal(t, []int{10, 2, 33}, g.Delay)
	assert.Equal(t, 0, g.LoopCount)
	assert.Equal(t, 12, g.Config.Width)
	assert.Equal(t, 8, g.Config.Height)
}

func TestDelayCentiseconds(t *testing.T) {
	assert.Equal(t, 2, DelayCentiseconds(8))
	assert.Equal(t, 10, DelayCentiseconds(100))
	assert.Equal(t, 10, DelayCentiseconds(95))
	assert.Equal(t, 0xFFFF, DelayCentiseconds(MaxFrameMs))
}

func TestGIFLoopCount(t *testing.T) {
	assert.Equal(t, 0, GIFRepeatCount(0))
	assert.Equal(t, -1, GIFRepeatCount(1))
	assert.Equal(t, 2, GIFRepeatCount(3))
}
