// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package anim

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
)

// minGIFDelayCS is the smallest delay browsers honour; shorter delays are
// commonly rewritten to 100ms.
const minGIFDelayCS = 2

// MuxGIF merges single-frame GIF payloads into one animation. A single frame
// is returned unchanged.
func MuxGIF(frames []Frame, opts MuxOptions) ([]byte, error) {
	if err := checkFrames(frames); err != nil {
		return nil, err
	}
	if len(frames) == 1 {
		return frames[0].Payload, nil
	}

	out := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(frames)),
		Delay:     make([]int, 0, len(frames)),
		Disposal:  make([]byte, 0, len(frames)),
		LoopCount: GIFRepeatCount(opts.LoopCount),
	}
	for i, f := range frames {
		g, err := gif.DecodeAll(bytes.NewReader(f.Payload))
		if err != nil {
			return nil, fmt.Errorf("frame %d: decode gif: %w", i, err)
		}
		if len(g.Image) == 0 {
			return nil, fmt.Errorf("frame %d: gif has no image", i)
		}
		img := g.Image[0]
		out.Image = append(out.Image, img)
		out.Delay = append(out.Delay, DelayCentiseconds(f.DurationMS))
		out.Disposal = append(out.Disposal, gif.DisposalNone)
		b := img.Bounds()
		out.Config.Width = max(out.Config.Width, b.Max.X)
		out.Config.Height = max(out.Config.Height, b.Max.Y)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		return nil, fmt.Errorf("encode gif: %w", err)
	}
	return buf.Bytes(), nil
}

// DelayCentiseconds converts a frame duration to a GIF delay.
func DelayCentiseconds(ms int) int {
	cs := (ms + 5) / 10
	return clampInt(cs, minGIFDelayCS, 0xFFFF)
}

// GIFRepeatCount maps a play count (0 = forever) to a GIF repeat count as
// image/gif and ffmpeg use it: 0 loops forever, -1 plays once. n plays
// become n-1 repeats.
func GIFRepeatCount(loop int) int {
	switch {
	case loop <= 0:
		return 0
	case loop == 1:
		return -1
	default:
		return loop - 1
	}
}
