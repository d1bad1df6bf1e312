// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"bytes"
	"context"
	"image"
	"image/color/palette"
	"image/gif"

	xdraw "golang.org/x/image/draw"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/metrics"
)

// NameGIF is the in-process GIF adapter.
const NameGIF = "gif"

// GIFAdapter palettises frames in process with Floyd-Steinberg dithering.
// It needs nothing from the host and is the last frame-path resort.
type GIFAdapter struct {
	bounds ChunkBounds
	limits Limits
}

// NewGIFAdapter returns the pure Go GIF adapter.
func NewGIFAdapter(bounds ChunkBounds, limits Limits) *GIFAdapter {
	return &GIFAdapter{bounds: bounds, limits: limits}
}

func (a *GIFAdapter) Name() string                     { return NameGIF }
func (a *GIFAdapter) Kind() Kind                       { return KindFrame }
func (a *GIFAdapter) Supports(format anim.Format) bool { return format == anim.FormatGIF }
func (a *GIFAdapter) Limits() Limits                   { return a.limits }
func (a *GIFAdapter) Available(context.Context) bool   { return true }

func (a *GIFAdapter) Encode(ctx context.Context, req Request) ([]byte, error) {
	frames, err := EncodeChunked(ctx, req, a.limits, a.bounds, func(_ context.Context, img image.Image) ([]byte, error) {
		return EncodeGIFStill(img)
	})
	if err != nil {
		return nil, err
	}
	metrics.AddFramesEncoded(NameGIF, len(frames))
	return muxFrames(req, frames)
}

// EncodeGIFStill encodes img as a single-frame GIF on the Plan 9 palette.
func EncodeGIFStill(img image.Image) ([]byte, error) {
	b := img.Bounds()
	pm := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
	xdraw.FloydSteinberg.Draw(pm, pm.Rect, img, b.Min)

	var buf bytes.Buffer
	if err := gif.Encode(&buf, pm, &gif.Options{NumColors: len(palette.Plan9)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
