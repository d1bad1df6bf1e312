// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/jobs"
)

// ChunkBounds clamps the number of frames encoded concurrently per batch.
type ChunkBounds struct {
	Min int
	Max int
}

// DefaultChunkBounds is used when a caller passes zero bounds.
var DefaultChunkBounds = ChunkBounds{Min: 10, Max: 20}

func (b ChunkBounds) normalized() ChunkBounds {
	if b.Min <= 0 {
		b.Min = DefaultChunkBounds.Min
	}
	if b.Max <= 0 {
		b.Max = DefaultChunkBounds.Max
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	return b
}

// ChunkSize derives a batch size from the CPU budget (GOMAXPROCS honours
// container limits) clamped to b.
func ChunkSize(b ChunkBounds) int {
	b = b.normalized()
	return min(max(runtime.GOMAXPROCS(0)*2, b.Min), b.Max)
}

// StillEncoder encodes one frame into a single-image payload.
type StillEncoder func(ctx context.Context, img image.Image) ([]byte, error)

// EncodeChunked encodes req.Frames in sequential batches. Frames within a
// batch are encoded concurrently; batch k+1 starts only after every encode of
// batch k finished. Cancellation is checked at every batch boundary and
// progress is reported once per batch.
func EncodeChunked(ctx context.Context, req Request, limits Limits, bounds ChunkBounds, encode StillEncoder) ([]anim.Frame, error) {
	n := len(req.Frames)
	if n == 0 {
		return nil, errors.New("encode: no frames")
	}
	if limits.MaxFrames > 0 && n > limits.MaxFrames {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFrames, n, limits.MaxFrames)
	}
	if len(req.DurationsMS) != n {
		return nil, fmt.Errorf("encode: %d durations for %d frames", len(req.DurationsMS), n)
	}

	size := ChunkSize(bounds)
	chunks := (n + size - 1) / size
	out := make([]anim.Frame, n)
	workers := runtime.GOMAXPROCS(0)

	for k := 0; k < chunks; k++ {
		if err := jobs.CheckContext(ctx); err != nil {
			return nil, err
		}
		start, end := k*size, min((k+1)*size, n)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := start; i < end; i++ {
			g.Go(func() error {
				payload, err := encode(gctx, fitFrame(req.Frames[i], limits.MaxDimension))
				if err != nil {
					return fmt.Errorf("frame %d: %w", i, err)
				}
				out[i] = anim.Frame{Payload: payload, DurationMS: req.DurationsMS[i]}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if cerr := jobs.CheckContext(ctx); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
		req.report(k+1, chunks)
	}
	if err := jobs.CheckContext(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// fitFrame shrinks img to fit maxDim on its longer edge.
func fitFrame(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

// muxFrames assembles encoded stills into the requested container.
func muxFrames(req Request, frames []anim.Frame) ([]byte, error) {
	opts := anim.MuxOptions{LoopCount: req.Loop}
	switch req.Format {
	case anim.FormatWebP:
		return anim.MuxWebP(frames, opts)
	case anim.FormatGIF:
		return anim.MuxGIF(frames, opts)
	default:
		return nil, fmt.Errorf("encode: unsupported format %q", req.Format)
	}
}
