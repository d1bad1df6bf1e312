// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package encode drives the encoder adapters that turn decoded frames (or a
// whole input file) into an animated GIF or WebP.
package encode

import (
	"context"
	"errors"
	"image"

	"github.com/ManuGH/clipanim/internal/anim"
)

var (
	// ErrEncoderUnavailable means the adapter cannot run on this host; callers try the next one.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	// ErrTooManyFrames is returned before any work when a request exceeds the adapter's frame ceiling.
	ErrTooManyFrames = errors.New("too many frames for encoder")
)

// Limits are an adapter's advertised ceilings. Zero means unlimited.
type Limits struct {
	MaxFrames    int
	MaxDimension int
}

// Constraints describe a request for adapter selection.
type Constraints struct {
	Format       anim.Format
	Frames       int
	MaxDimension int
}

// ProgressFunc receives completed and total work units.
type ProgressFunc func(done, total int)

// Request is the input of Adapter.Encode. Frame adapters read Frames and
// DurationsMS; the transcode adapter reads InputPath and the sampling fields.
type Request struct {
	Format  anim.Format
	Quality int
	// Loop is the animation loop count; 0 loops forever.
	Loop int

	Frames      []image.Image
	DurationsMS []int

	InputPath    string
	TargetFPS    float64
	MaxFrames    int
	MaxDimension int
	// Hardware asks the transcoder for VAAPI decode on Device.
	Hardware bool
	Device   string

	Progress ProgressFunc
}

func (r Request) report(done, total int) {
	if r.Progress != nil {
		r.Progress(done, total)
	}
}

// Adapter is one encoder backend.
type Adapter interface {
	Name() string
	Kind() Kind
	Supports(format anim.Format) bool
	Limits() Limits
	// Available is a cheap host check; it must not encode anything.
	Available(ctx context.Context) bool
	// Encode returns a complete container. The caller validates it.
	Encode(ctx context.Context, req Request) ([]byte, error)
}

func fits(l Limits, c Constraints) bool {
	if l.MaxFrames > 0 && c.Frames > l.MaxFrames {
		return false
	}
	if l.MaxDimension > 0 && c.MaxDimension > l.MaxDimension {
		return false
	}
	return true
}
