// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package convert orchestrates one video to animated image conversion:
// capability detection, demuxing, pipeline choice, decode, encode with
// fallbacks and output validation.
package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/capability"
	"github.com/ManuGH/clipanim/internal/container"
	"github.com/ManuGH/clipanim/internal/decision"
	"github.com/ManuGH/clipanim/internal/decode"
	"github.com/ManuGH/clipanim/internal/demux"
	"github.com/ManuGH/clipanim/internal/encode"
	"github.com/ManuGH/clipanim/internal/jobs"
	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/metrics"
	"github.com/ManuGH/clipanim/internal/progress"
	"github.com/ManuGH/clipanim/internal/telemetry"
)

var errNoFrames = errors.New("decoder produced no frames")

// Request describes one conversion.
type Request struct {
	InputPath    string
	Format       anim.Format
	TargetFPS    float64
	MaxFrames    int
	MaxDimension int
	Quality      int
	// Loop is the play count; 0 loops forever.
	Loop int
	// Slot names the job slot; a newer Convert in the same slot cancels this one.
	Slot     string
	Progress progress.Sink
}

// Result is a validated animation.
type Result struct {
	Data        []byte
	Format      anim.Format
	Decision    decision.Output
	Pipeline    decision.Pipeline
	Plan        encode.Plan
	Encoder     string
	Frames      int
	Width       int
	Height      int
	Warnings    []string
	OperationID string
	Elapsed     time.Duration
}

// Options tunes a Converter. Zero values take package defaults.
type Options struct {
	TargetFPS           float64
	MaxFrames           int
	MaxDimension        int
	Quality             int
	SampleSlack         time.Duration
	MinFrameMs          int
	DownsampleThreshold float64
	ProgressInterval    time.Duration
	// VAAPIDevice is handed to decoders and the transcoder on the hardware pipeline.
	VAAPIDevice string
}

func (o Options) withDefaults() Options {
	if o.TargetFPS <= 0 {
		o.TargetFPS = 10
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = 150
	}
	if o.MaxDimension <= 0 {
		o.MaxDimension = 480
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = progress.DefaultInterval
	}
	return o
}

// DecoderFactory builds a decoder for one conversion.
type DecoderFactory func(opts decode.Options) decode.Decoder

// Converter runs conversions. It is safe for concurrent use; concurrent
// conversions in the same slot supersede each other.
type Converter struct {
	probe    *capability.Probe
	slots    *jobs.Slots
	factory  *encode.Factory
	decoders DecoderFactory
	opts     Options
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// New returns a Converter.
func New(probe *capability.Probe, slots *jobs.Slots, factory *encode.Factory, decoders DecoderFactory, opts Options) *Converter {
	if slots == nil {
		slots = jobs.NewSlots()
	}
	return &Converter{
		probe:    probe,
		slots:    slots,
		factory:  factory,
		decoders: decoders,
		opts:     opts.withDefaults(),
		tracer:   telemetry.Tracer("github.com/ManuGH/clipanim/internal/convert"),
		logger:   xglog.WithComponent("convert"),
	}
}

// Slots returns the slot table the converter claims runs from.
func (c *Converter) Slots() *jobs.Slots { return c.slots }

func (c *Converter) normalize(req Request) (Request, error) {
	if req.InputPath == "" {
		return req, errors.New("convert: input path is required")
	}
	if req.Format == "" {
		req.Format = anim.FormatWebP
	}
	if _, err := anim.ParseFormat(string(req.Format)); err != nil {
		return req, err
	}
	if req.TargetFPS <= 0 {
		req.TargetFPS = c.opts.TargetFPS
	}
	if req.MaxFrames <= 0 {
		req.MaxFrames = c.opts.MaxFrames
	}
	if req.MaxDimension <= 0 {
		req.MaxDimension = c.opts.MaxDimension
	}
	if req.Quality <= 0 {
		req.Quality = c.opts.Quality
	}
	return req, nil
}

// job carries the state of one Convert call across stages.
type job struct {
	req      Request
	rc       *jobs.RunContext
	reporter *progress.Reporter
	logger   zerolog.Logger

	format   container.Format
	caps     capability.Capabilities
	demuxer  demux.Demuxer
	track    demux.TrackInfo
	decision decision.Output
	plan     encode.Plan
	warnings []string
}

func (j *job) warn(msg string) { j.warnings = append(j.warnings, msg) }

// Convert runs one conversion to completion. Once the run is cancelled or
// superseded every stage unwinds with jobs.ErrCancelled and partial output
// is discarded.
func (c *Converter) Convert(ctx context.Context, req Request) (res *Result, err error) {
	req, err = c.normalize(req)
	if err != nil {
		return nil, err
	}
	rc := c.slots.Begin(ctx, req.Slot)
	defer c.slots.End(rc)
	ctx = rc.Context()

	ctx, span := c.tracer.Start(ctx, "convert.Convert", trace.WithAttributes(
		attribute.String(telemetry.OperationIDKey, rc.OperationID),
		attribute.String(telemetry.JobSlotKey, rc.Slot),
		attribute.String(telemetry.FormatKey, string(req.Format)),
	))
	defer span.End()

	j := &job{
		req: req,
		rc:  rc,
		reporter: progress.New(req.Progress,
			progress.WithActive(rc.IsActive),
			progress.WithInterval(c.opts.ProgressInterval),
		),
		logger: xglog.WithContext(ctx, c.logger),
	}
	start := time.Now()
	defer func() {
		if j.demuxer != nil {
			j.demuxer.Destroy()
		}
		pipeline := string(j.decision.Pipeline)
		if res != nil {
			pipeline = string(res.Pipeline)
		}
		outcome := "success"
		switch {
		case err != nil && jobs.IsCancelled(err):
			outcome = "cancelled"
			res = nil
			telemetry.RecordError(span, err, "cancelled")
		case err != nil:
			outcome = "error"
			res = nil
			telemetry.RecordError(span, err, errorType(err))
		}
		metrics.ObserveConversion(pipeline, outcome, time.Since(start))
		ev := j.logger.Info()
		if err != nil && outcome == "error" {
			ev = j.logger.Warn().Err(err)
		}
		ev.Str(xglog.FieldEvent, "convert.finished").
			Str("outcome", outcome).
			Str(xglog.FieldPipeline, pipeline).
			Dur("elapsed", time.Since(start)).
			Msg("conversion finished")
	}()

	if err := c.prepare(ctx, j); err != nil {
		return nil, err
	}

	var out *Result
	if j.decision.Pipeline.NativeDecode() && j.plan.Kind == encode.KindFrame {
		out, err = c.framePath(ctx, j)
		if err != nil && !jobs.IsCancelled(err) {
			j.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "convert.frame_path_failed").
				Msg("frame path failed, falling back to full transcode")
			j.warn("frame path failed: " + err.Error())
			out, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
	if out == nil {
		if out, err = c.transcodePath(ctx, j); err != nil {
			return nil, err
		}
	}

	// Output produced after a supersede is discarded.
	if err := rc.Check(); err != nil {
		return nil, err
	}
	j.reporter.Complete()

	out.Format = req.Format
	out.Decision = j.decision
	out.Plan = j.plan
	out.Warnings = append(j.warnings, out.Warnings...)
	out.OperationID = rc.OperationID
	out.Elapsed = time.Since(start)
	span.SetAttributes(
		attribute.String(telemetry.PipelineKey, string(out.Pipeline)),
		attribute.String(telemetry.EncoderKey, out.Encoder),
		attribute.Int(telemetry.FramesKey, out.Frames),
	)
	return out, nil
}

// prepare detects capabilities and the container, initialises the demuxer
// and picks pipeline and plan.
func (c *Converter) prepare(ctx context.Context, j *job) error {
	ctx, span := c.tracer.Start(ctx, "convert.prepare")
	defer span.End()

	j.reporter.Stage("probe", 0, 5)
	j.reporter.Status("detecting capabilities")
	caps, err := c.probe.Detect(ctx)
	if cerr := j.rc.Check(); cerr != nil {
		return cerr
	}
	if err != nil {
		return fmt.Errorf("detect capabilities: %w", err)
	}
	j.caps = caps

	format, err := container.Detect(j.req.InputPath)
	if err != nil {
		telemetry.RecordError(span, err, "input")
		return err
	}
	j.format = format

	if format.Demuxable() {
		dm, err := demux.Open(format, j.req.InputPath, demux.Options{SampleSlack: c.opts.SampleSlack, Logger: &j.logger})
		if err != nil {
			return err
		}
		j.demuxer = dm
		track, err := dm.Initialize(ctx)
		if cerr := j.rc.Check(); cerr != nil {
			return cerr
		}
		if err != nil {
			telemetry.RecordError(span, err, "demux")
			return fmt.Errorf("initialize %s demuxer: %w", format, err)
		}
		j.track = track
		span.SetAttributes(telemetry.TrackAttributes(string(format), track.Codec, track.Width, track.Height)...)
	}

	out, err := decision.SelectPipeline(decision.Input{Caps: caps, Codec: j.track.Codec, Container: format})
	sum := out.Summary()
	if err != nil {
		metrics.RecordPipelineDecision("rejected", sum.Family, sum.Reason)
		telemetry.RecordError(span, err, "decision")
		j.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "convert.rejected").
			Str(xglog.FieldCodec, j.track.Codec).
			Object("decision", sum).
			Msg("codec rejected")
		return err
	}
	metrics.RecordPipelineDecision(sum.Pipeline, sum.Family, sum.Reason)
	j.decision = out
	j.plan = encode.SelectPlan(j.req.Format, j.track.Codec)

	j.logger.Info().
		Str(xglog.FieldEvent, "convert.plan").
		Str(xglog.FieldContainer, string(format)).
		Str(xglog.FieldCodec, j.track.Codec).
		Str(xglog.FieldResolution, fmt.Sprintf("%dx%d", j.track.Width, j.track.Height)).
		Object("decision", sum).
		Str(xglog.FieldPlan, string(j.plan.Kind)).
		Msg("pipeline selected")
	span.SetAttributes(
		attribute.String(telemetry.PipelineKey, string(out.Pipeline)),
		attribute.String(telemetry.PlanKey, string(j.plan.Kind)),
	)
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, decision.ErrDecodingNotSupported):
		return "decoding_not_supported"
	case errors.Is(err, demux.ErrNoVideoTrack):
		return "no_video_track"
	case errors.Is(err, demux.ErrContainerParse):
		return "container_parse"
	case errors.Is(err, encode.ErrEncoderUnavailable):
		return "encoder_unavailable"
	case errors.Is(err, anim.ErrOutputValidation):
		return "output_validation"
	default:
		return "internal"
	}
}
