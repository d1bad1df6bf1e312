// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/ffmpeg"
	"github.com/ManuGH/clipanim/internal/jobs"
	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/metrics"
)

// NameFFmpegTranscode is the one-shot transcode adapter.
const NameFFmpegTranscode = "ffmpeg-transcode"

// BinaryResolver supplies an ffmpeg executable when none is installed locally.
type BinaryResolver interface {
	ResolveBinary(ctx context.Context) (string, error)
}

// FFmpegTranscodeAdapter converts the input file in a single ffmpeg run.
type FFmpegTranscodeAdapter struct {
	local       *ffmpeg.Runner
	resolver    BinaryResolver
	killTimeout time.Duration
	webp        bool
	logger      zerolog.Logger
}

// NewFFmpegTranscodeAdapter returns the adapter. resolver may be nil; it is
// only consulted when the local binary is missing.
func NewFFmpegTranscodeAdapter(local *ffmpeg.Runner, resolver BinaryResolver, webpEncode bool, killTimeout time.Duration) *FFmpegTranscodeAdapter {
	return &FFmpegTranscodeAdapter{
		local:       local,
		resolver:    resolver,
		killTimeout: killTimeout,
		webp:        webpEncode,
		logger:      xglog.WithComponent("encode"),
	}
}

func (a *FFmpegTranscodeAdapter) Name() string   { return NameFFmpegTranscode }
func (a *FFmpegTranscodeAdapter) Kind() Kind     { return KindTranscode }
func (a *FFmpegTranscodeAdapter) Limits() Limits { return Limits{} }

// Supports reports WebP only when libwebp is known to be present. A binary
// fetched as a module is assumed to carry it.
func (a *FFmpegTranscodeAdapter) Supports(format anim.Format) bool {
	if format == anim.FormatGIF {
		return true
	}
	return format == anim.FormatWebP && (a.webp || !a.localAvailable())
}

func (a *FFmpegTranscodeAdapter) Available(context.Context) bool {
	return a.localAvailable() || a.resolver != nil
}

func (a *FFmpegTranscodeAdapter) localAvailable() bool {
	return a.local != nil && a.local.Available()
}

func (a *FFmpegTranscodeAdapter) runner(ctx context.Context) (*ffmpeg.Runner, error) {
	if a.localAvailable() {
		return a.local, nil
	}
	if a.resolver == nil {
		return nil, fmt.Errorf("%w: %s: no ffmpeg binary", ErrEncoderUnavailable, NameFFmpegTranscode)
	}
	bin, err := a.resolver.ResolveBinary(ctx)
	if err != nil {
		if jobs.IsCancelled(err) || ctx.Err() != nil {
			return nil, jobs.CheckContext(ctx)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrEncoderUnavailable, NameFFmpegTranscode, err)
	}
	return ffmpeg.NewRunner(bin, a.killTimeout), nil
}

func (a *FFmpegTranscodeAdapter) Encode(ctx context.Context, req Request) ([]byte, error) {
	if req.InputPath == "" {
		return nil, errors.New("encode: transcode needs an input path")
	}
	if err := jobs.CheckContext(ctx); err != nil {
		return nil, err
	}
	r, err := a.runner(ctx)
	if err != nil {
		return nil, err
	}

	total := req.MaxFrames
	logger := xglog.WithContext(ctx, a.logger)
	logger.Info().
		Str(xglog.FieldEvent, "encode.transcode_start").
		Str(xglog.FieldEncoder, NameFFmpegTranscode).
		Str(xglog.FieldFormat, string(req.Format)).
		Str("bin", r.Bin()).
		Msg("starting full transcode")

	var out bytes.Buffer
	err = r.Run(ctx, ffmpeg.Invocation{
		Args:   transcodeArgs(req),
		Stdout: &out,
		OnStderrLine: func(line string) {
			key, value, ok := ffmpeg.ParseProgressLine(line)
			if !ok {
				return
			}
			switch key {
			case "frame":
				if n, err := strconv.Atoi(value); err == nil && total > 0 {
					req.report(min(n, total), total)
				}
			case "progress":
				if value == "end" && total > 0 {
					req.report(total, total)
				}
			}
		},
	})
	if err != nil {
		if cerr := jobs.CheckContext(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no %s output", req.Format)
	}
	metrics.AddFramesEncoded(NameFFmpegTranscode, total)
	return out.Bytes(), nil
}

func transcodeArgs(req Request) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-nostats", "-progress", "pipe:2"}
	if req.Hardware && req.Device != "" {
		args = append(args, "-hwaccel", "vaapi", "-hwaccel_device", req.Device)
	}
	args = append(args, "-i", req.InputPath, "-an", "-sn")
	if req.MaxFrames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(req.MaxFrames))
	}

	chain := make([]string, 0, 2)
	if req.TargetFPS > 0 {
		chain = append(chain, "fps="+strconv.FormatFloat(req.TargetFPS, 'f', -1, 64))
	}
	if d := req.MaxDimension; d > 0 {
		ds := strconv.Itoa(d)
		chain = append(chain, "scale=w='min(iw,"+ds+")':h='min(ih,"+ds+")':force_original_aspect_ratio=decrease")
	}
	filter := strings.Join(chain, ",")

	if req.Format == anim.FormatGIF {
		if filter != "" {
			filter += ","
		}
		return append(args,
			"-filter_complex", filter+gifPaletteFilter,
			"-loop", strconv.Itoa(anim.GIFRepeatCount(req.Loop)),
			"-f", "gif", "pipe:1",
		)
	}

	if filter != "" {
		args = append(args, "-vf", filter)
	}
	quality := req.Quality
	if quality <= 0 {
		quality = 75
	}
	return append(args,
		"-c:v", "libwebp",
		"-quality", strconv.Itoa(quality),
		"-loop", strconv.Itoa(req.Loop),
		"-f", "webp", "pipe:1",
	)
}
