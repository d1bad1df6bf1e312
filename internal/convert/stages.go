// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package convert

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/decision"
	"github.com/ManuGH/clipanim/internal/decode"
	"github.com/ManuGH/clipanim/internal/encode"
	"github.com/ManuGH/clipanim/internal/jobs"
	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/metrics"
	"github.com/ManuGH/clipanim/internal/telemetry"
)

// sampled is the decode stage's output.
type sampled struct {
	frames     []image.Image
	timestamps []int64
}

// framePath decodes and samples frames, then tries every usable frame
// adapter in order until one produces a valid container.
func (c *Converter) framePath(ctx context.Context, j *job) (*Result, error) {
	s, err := c.decodeStage(ctx, j)
	if err != nil {
		return nil, err
	}

	durations := anim.ReconcileDurations(s.timestamps, len(s.frames), anim.TimingOptions{
		TargetFPS:           j.req.TargetFPS,
		SourceFPS:           j.track.FrameRate,
		TotalMs:             int(j.track.Duration.Milliseconds()),
		MinFrameMs:          c.opts.MinFrameMs,
		DownsampleThreshold: c.opts.DownsampleThreshold,
	})

	j.reporter.Stage("encode", 50, 95)
	constraints := encode.Constraints{Format: j.req.Format, Frames: len(s.frames), MaxDimension: j.req.MaxDimension}
	candidates := c.factory.Candidates(ctx, encode.KindFrame, constraints)
	if err := j.rc.Check(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no frame encoder for %s", encode.ErrEncoderUnavailable, j.req.Format)
	}

	req := encode.Request{
		Format:      j.req.Format,
		Quality:     j.req.Quality,
		Loop:        j.req.Loop,
		Frames:      s.frames,
		DurationsMS: durations,
		Progress:    j.reporter.Report,
	}
	var errs []error
	for _, a := range candidates {
		res, err := c.tryAdapter(ctx, j, a, req)
		if err == nil {
			res.Pipeline = j.decision.Pipeline
			return res, nil
		}
		if jobs.IsCancelled(err) {
			return nil, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
	}
	return nil, fmt.Errorf("all frame encoders failed: %w", errors.Join(errs...))
}

// decodeStage streams samples through the decoder into the sampler.
func (c *Converter) decodeStage(ctx context.Context, j *job) (sampled, error) {
	ctx, span := c.tracer.Start(ctx, "convert.decode")
	defer span.End()

	if c.decoders == nil {
		return sampled{}, errors.New("no decoder configured")
	}
	j.reporter.Stage("decode", 5, 50)
	j.reporter.Status("decoding frames")
	it, err := j.demuxer.ExtractSamples(ctx, j.req.TargetFPS, j.req.MaxFrames)
	if err != nil {
		return sampled{}, err
	}

	dec := c.decoders(decode.Options{
		MaxDimension: j.req.MaxDimension,
		Hardware:     j.decision.Pipeline == decision.PipelineHWNativeDecode,
		Device:       c.opts.VAAPIDevice,
	})
	sampler := decode.NewSampler(j.req.TargetFPS, j.req.MaxFrames)
	err = dec.Decode(ctx, j.track, it, func(f decode.Frame) error {
		if err := j.rc.Check(); err != nil {
			return err
		}
		err := sampler.Offer(f)
		j.reporter.Report(len(sampler.Frames()), j.req.MaxFrames)
		return err
	})
	if cerr := j.rc.Check(); cerr != nil {
		return sampled{}, cerr
	}
	if err != nil {
		telemetry.RecordError(span, err, "decode")
		return sampled{}, fmt.Errorf("decode: %w", err)
	}

	frames := sampler.Flush()
	if len(frames) == 0 {
		return sampled{}, errNoFrames
	}
	out := sampled{
		frames:     make([]image.Image, len(frames)),
		timestamps: sampler.Timestamps(),
	}
	for i, f := range frames {
		out.frames[i] = f.Image
	}
	span.SetAttributes(
		attribute.Int("decode.samples", it.Yielded()),
		attribute.Int(telemetry.FramesKey, len(frames)),
	)
	j.logger.Debug().
		Str(xglog.FieldEvent, "convert.decoded").
		Int("samples", it.Yielded()).
		Int(xglog.FieldFrames, len(frames)).
		Msg("frames sampled")
	return out, nil
}

// tryAdapter runs one adapter and validates its output independently.
func (c *Converter) tryAdapter(ctx context.Context, j *job, a encode.Adapter, req encode.Request) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "convert.encode", trace.WithAttributes(
		telemetry.EncodeAttributes(a.Name(), string(req.Format), len(req.Frames))...,
	))
	defer span.End()

	data, err := a.Encode(ctx, req)
	if cerr := j.rc.Check(); cerr != nil {
		metrics.RecordEncoderAttempt(a.Name(), "cancelled")
		return nil, cerr
	}
	if err != nil {
		outcome := "error"
		if errors.Is(err, encode.ErrEncoderUnavailable) {
			outcome = "unavailable"
		}
		metrics.RecordEncoderAttempt(a.Name(), outcome)
		telemetry.RecordError(span, err, outcome)
		j.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "convert.encoder_failed").
			Str(xglog.FieldEncoder, a.Name()).
			Msg("encoder failed, trying next")
		return nil, fmt.Errorf("%w: %w", encode.ErrEncoderUnavailable, err)
	}

	rep, err := anim.Validate(data, req.Format)
	if err != nil {
		metrics.RecordEncoderAttempt(a.Name(), "invalid_output")
		telemetry.RecordError(span, err, "invalid_output")
		j.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "convert.output_invalid").
			Str(xglog.FieldEncoder, a.Name()).
			Int("bytes", len(data)).
			Msg("encoder output rejected")
		return nil, err
	}
	metrics.RecordEncoderAttempt(a.Name(), "success")
	j.logger.Info().
		Str(xglog.FieldEvent, "convert.encoded").
		Str(xglog.FieldEncoder, a.Name()).
		Int(xglog.FieldFrames, rep.Frames).
		Int("bytes", rep.Size).
		Bool("decoded", rep.Decoded).
		Msg("output accepted")
	return &Result{
		Data:     data,
		Encoder:  a.Name(),
		Frames:   rep.Frames,
		Width:    rep.Width,
		Height:   rep.Height,
		Warnings: rep.Warnings,
	}, nil
}

// transcodePath hands the whole file to the transcode adapter.
func (c *Converter) transcodePath(ctx context.Context, j *job) (*Result, error) {
	j.reporter.Stage("transcode", 5, 95)
	j.reporter.Status("transcoding")
	a := c.factory.GetEncoder(ctx, encode.KindTranscode, encode.Constraints{
		Format:       j.req.Format,
		Frames:       j.req.MaxFrames,
		MaxDimension: j.req.MaxDimension,
	})
	if err := j.rc.Check(); err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: no transcoder for %s", encode.ErrEncoderUnavailable, j.req.Format)
	}

	res, err := c.tryAdapter(ctx, j, a, encode.Request{
		Format:       j.req.Format,
		Quality:      j.req.Quality,
		Loop:         j.req.Loop,
		InputPath:    j.req.InputPath,
		TargetFPS:    j.req.TargetFPS,
		MaxFrames:    j.req.MaxFrames,
		MaxDimension: j.req.MaxDimension,
		Hardware:     j.decision.Pipeline == decision.PipelineHWNativeDecode,
		Device:       c.opts.VAAPIDevice,
		Progress:     j.reporter.Report,
	})
	if err != nil {
		return nil, err
	}
	res.Pipeline = decision.PipelineFullTranscode
	return res, nil
}
