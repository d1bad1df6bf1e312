// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/ffmpeg"
	"github.com/ManuGH/clipanim/internal/metrics"
)

// NameFFmpegFrame is the per-frame ffmpeg adapter.
const NameFFmpegFrame = "ffmpeg-frame"

const gifPaletteFilter = "split[a][b];[a]palettegen=stats_mode=single[p];[b][p]paletteuse=dither=floyd_steinberg"

// FFmpegFrameAdapter encodes each frame with a single-frame ffmpeg run
// (libwebp for WebP, palettegen/paletteuse for GIF).
type FFmpegFrameAdapter struct {
	runner *ffmpeg.Runner
	webp   bool
	bounds ChunkBounds
	limits Limits
}

// NewFFmpegFrameAdapter returns the adapter. webpEncode reports whether the
// binary carries libwebp; without it only GIF is offered.
func NewFFmpegFrameAdapter(runner *ffmpeg.Runner, webpEncode bool, bounds ChunkBounds, limits Limits) *FFmpegFrameAdapter {
	return &FFmpegFrameAdapter{runner: runner, webp: webpEncode, bounds: bounds, limits: limits}
}

func (a *FFmpegFrameAdapter) Name() string { return NameFFmpegFrame }
func (a *FFmpegFrameAdapter) Kind() Kind   { return KindFrame }
func (a *FFmpegFrameAdapter) Limits() Limits {
	return a.limits
}

func (a *FFmpegFrameAdapter) Supports(format anim.Format) bool {
	return format == anim.FormatGIF || (format == anim.FormatWebP && a.webp)
}

func (a *FFmpegFrameAdapter) Available(context.Context) bool {
	return a.runner != nil && a.runner.Available()
}

func (a *FFmpegFrameAdapter) Encode(ctx context.Context, req Request) ([]byte, error) {
	if !a.Available(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrEncoderUnavailable, NameFFmpegFrame)
	}
	if !a.Supports(req.Format) {
		return nil, fmt.Errorf("%w: %s cannot produce %s", ErrEncoderUnavailable, NameFFmpegFrame, req.Format)
	}
	frames, err := EncodeChunked(ctx, req, a.limits, a.bounds, func(ctx context.Context, img image.Image) ([]byte, error) {
		return a.encodeStill(ctx, img, req.Format, req.Quality)
	})
	if err != nil {
		return nil, err
	}
	metrics.AddFramesEncoded(NameFFmpegFrame, len(frames))
	return muxFrames(req, frames)
}

func (a *FFmpegFrameAdapter) encodeStill(ctx context.Context, img image.Image, format anim.Format, quality int) ([]byte, error) {
	raw := imaging.Clone(img)
	w, h := raw.Rect.Dx(), raw.Rect.Dy()

	var out bytes.Buffer
	err := a.runner.Run(ctx, ffmpeg.Invocation{
		Args:   stillArgs(format, w, h, quality),
		Stdin:  bytes.NewReader(raw.Pix),
		Stdout: &out,
	})
	if err != nil {
		return nil, err
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no %s output", format)
	}
	return out.Bytes(), nil
}

func stillArgs(format anim.Format, w, h, quality int) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", strconv.Itoa(w) + "x" + strconv.Itoa(h),
		"-i", "pipe:0",
		"-frames:v", "1",
	}
	if format == anim.FormatGIF {
		return append(args, "-filter_complex", gifPaletteFilter, "-f", "gif", "pipe:1")
	}
	if quality <= 0 {
		quality = 75
	}
	return append(args,
		"-c:v", "libwebp",
		"-quality", strconv.Itoa(quality),
		"-pix_fmt", "yuva420p",
		"-f", "webp",
		"pipe:1",
	)
}
