// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/clipanim/internal/anim"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestGIFAdapter_EncodesAnimation(t *testing.T) {
	a := NewGIFAdapter(ChunkBounds{}, Limits{})
	require.True(t, a.Available(context.Background()))
	assert.True(t, a.Supports(anim.FormatGIF))
	assert.False(t, a.Supports(anim.FormatWebP))

	req := Request{
		Format: anim.FormatGIF,
		Loop:   0,
		Frames: []image.Image{
			solid(16, 8, color.NRGBA{R: 255, A: 255}),
			solid(16, 8, color.NRGBA{G: 255, A: 255}),
			solid(16, 8, color.NRGBA{B: 255, A: 255}),
		},
		DurationsMS: []int{100, 250, 40},
	}
	out, err := a.Encode(context.Background(), req)
	require.NoError(t, err)

	rep, err := anim.Validate(out, anim.FormatGIF)
	require.NoError(t, err)
	assert.True(t, rep.Animated)

	g, err := gif.DecodeAll(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, g.Image, 3)
	assert.Equal(t, []int{10, 25, 4}, g.Delay)
	assert.Equal(t, 0, g.LoopCount)
}

func TestGIFAdapter_SingleFrameIsStill(t *testing.T) {
	a := NewGIFAdapter(ChunkBounds{}, Limits{})
	img := solid(4, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	still, err := EncodeGIFStill(img)
	require.NoError(t, err)

	out, err := a.Encode(context.Background(), Request{
		Format:      anim.FormatGIF,
		Frames:      []image.Image{img},
		DurationsMS: []int{100},
	})
	require.NoError(t, err)
	assert.Equal(t, still, out)
}

func TestEncodeGIFStill_KeepsSize(t *testing.T) {
	img := solid(7, 3, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	out, err := EncodeGIFStill(img.SubImage(image.Rect(1, 1, 6, 3)))
	require.NoError(t, err)
	cfg, err := gif.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Width)
	assert.Equal(t, 2, cfg.Height)
}
