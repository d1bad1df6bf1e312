// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/clipanim/internal/anim"
)

func TestVipsAdapter_DisabledIsUnavailable(t *testing.T) {
	a := NewVipsAdapter(false, ChunkBounds{}, Limits{})
	assert.False(t, a.Available(context.Background()))
	assert.Equal(t, webpMaxDimension, a.Limits().MaxDimension)
	assert.True(t, a.Supports(anim.FormatWebP))
	assert.False(t, a.Supports(anim.FormatGIF))

	_, err := a.Encode(context.Background(), Request{Format: anim.FormatWebP})
	assert.ErrorIs(t, err, ErrEncoderUnavailable)
}

func TestVipsAdapter_EncodesAnimatedWebP(t *testing.T) {
	a := NewVipsAdapter(true, ChunkBounds{}, Limits{MaxDimension: 64})
	if !a.Available(context.Background()) {
		t.Skip("libvips not available")
	}

	out, err := a.Encode(context.Background(), Request{
		Format:  anim.FormatWebP,
		Quality: 60,
		Frames: []image.Image{
			solid(96, 48, color.NRGBA{R: 255, A: 255}),
			solid(96, 48, color.NRGBA{B: 255, A: 255}),
		},
		DurationsMS: []int{120, 80},
	})
	require.NoError(t, err)

	rep, err := anim.Validate(out, anim.FormatWebP)
	require.NoError(t, err)
	assert.True(t, rep.Animated)
	assert.Equal(t, 2, rep.Frames)
	assert.Equal(t, 64, rep.Width, "frames are fitted to the adapter limit")
	assert.Equal(t, 32, rep.Height)
}
