// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package anim reconciles frame timing and assembles animated WebP and GIF containers.
package anim

import (
	"errors"
	"fmt"
	"image/color"
)

// ErrOutputValidation marks a container that must not be returned to the caller.
var ErrOutputValidation = errors.New("output validation failed")

// Format is an animated raster output format.
type Format string

const (
	FormatWebP Format = "webp"
	FormatGIF  Format = "gif"
)

// ParseFormat accepts "webp" or "gif" (case-sensitive, as used on the CLI).
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatWebP, FormatGIF:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want webp or gif)", s)
	}
}

// MIMEType returns the media type of f.
func (f Format) MIMEType() string {
	if f == FormatGIF {
		return "image/gif"
	}
	return "image/webp"
}

// Frame is one encoded still image and its display duration.
type Frame struct {
	Payload    []byte
	DurationMS int
}

// MuxOptions control container-level fields.
type MuxOptions struct {
	// LoopCount 0 loops forever.
	LoopCount int
	// Background is written to the ANIM chunk of WebP output.
	Background color.NRGBA
}

func checkFrames(frames []Frame) error {
	if len(frames) == 0 {
		return errors.New("anim: no frames")
	}
	for i, f := range frames {
		if len(f.Payload) == 0 {
			return fmt.Errorf("anim: frame %d has an empty payload", i)
		}
		if f.DurationMS < 1 || f.DurationMS > MaxFrameMs {
			return fmt.Errorf("anim: frame %d duration %dms outside [1, %d]", i, f.DurationMS, MaxFrameMs)
		}
	}
	return nil
}
