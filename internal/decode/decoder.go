// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package decode turns demuxed samples into RGBA frames.
package decode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/clipanim/internal/demux"
	"github.com/ManuGH/clipanim/internal/ffmpeg"
	xglog "github.com/ManuGH/clipanim/internal/log"
)

// ErrStop may be returned by a frame callback to end decoding early without error.
var ErrStop = errors.New("decode: stop")

var (
	errDecoderExited = errors.New("decoder exited before consuming input")
	errReaderClosed  = errors.New("frame reader closed")
)

// Frame is one decoded picture in presentation order.
type Frame struct {
	Image       *image.NRGBA
	TimestampUS int64
	// Index counts decoded frames from zero.
	Index int
}

// ChunkSource yields encoded samples; *demux.SampleIterator satisfies it.
type ChunkSource interface {
	Next(ctx context.Context) (demux.Chunk, error)
}

// Decoder emits decoded frames to fn until the source is exhausted, fn
// returns ErrStop, or ctx ends.
type Decoder interface {
	Decode(ctx context.Context, track demux.TrackInfo, src ChunkSource, fn func(Frame) error) error
}

// Options tunes an FFmpegDecoder.
type Options struct {
	// MaxDimension bounds the longer output edge; zero keeps the source size.
	MaxDimension int
	// Hardware enables VAAPI decode on Device.
	Hardware bool
	Device   string
}

// FFmpegDecoder pipes an elementary stream through ffmpeg and reads raw RGBA frames back.
type FFmpegDecoder struct {
	runner *ffmpeg.Runner
	opts   Options
	logger zerolog.Logger
}

// NewFFmpegDecoder returns a decoder bound to runner.
func NewFFmpegDecoder(runner *ffmpeg.Runner, opts Options) *FFmpegDecoder {
	return &FFmpegDecoder{
		runner: runner,
		opts:   opts,
		logger: xglog.WithComponent("decode"),
	}
}

// FitDimensions scales w x h down to fit max on the longer edge, keeping aspect.
func FitDimensions(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}

func (d *FFmpegDecoder) args(inputFormat string, w, h int) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if d.opts.Hardware && d.opts.Device != "" {
		args = append(args, "-hwaccel", "vaapi", "-hwaccel_device", d.opts.Device)
	}
	return append(args,
		"-f", inputFormat,
		"-i", "pipe:0",
		"-an",
		"-vf", "scale="+strconv.Itoa(w)+":"+strconv.Itoa(h)+":flags=bicubic",
		"-vsync", "passthrough",
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"pipe:1",
	)
}

// Decode runs one ffmpeg process for the track. Frames arrive in
// presentation order; the k-th frame carries the k-th smallest sample PTS.
func (d *FFmpegDecoder) Decode(ctx context.Context, track demux.TrackInfo, src ChunkSource, fn func(Frame) error) error {
	if track.Width <= 0 || track.Height <= 0 {
		return fmt.Errorf("decode: track has no dimensions (%dx%d)", track.Width, track.Height)
	}
	stream, err := newStreamWriter(track)
	if err != nil {
		return err
	}
	w, h := FitDimensions(track.Width, track.Height, d.opts.MaxDimension)
	args := d.args(stream.inputFormat(), w, h)

	logger := xglog.WithContext(ctx, d.logger)
	logger.Debug().
		Str(xglog.FieldEvent, "decode.start").
		Str(xglog.FieldCodec, track.Codec).
		Str(xglog.FieldResolution, fmt.Sprintf("%dx%d", w, h)).
		Bool("hardware", d.opts.Hardware).
		Msg("starting decoder")

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	pts := &ptsQueue{}
	var fed, decoded int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := feed(gctx, src, stream, inW, pts, &fed)
		if errors.Is(err, errDecoderExited) {
			err = nil
		}
		inW.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := d.runner.Run(gctx, ffmpeg.Invocation{Args: args, Stdin: inR, Stdout: outW})
		outW.CloseWithError(err)
		if err == nil {
			inR.CloseWithError(errDecoderExited)
		} else {
			inR.CloseWithError(err)
		}
		return err
	})
	g.Go(func() error {
		defer outR.CloseWithError(errReaderClosed)
		return readFrames(gctx, outR, w, h, pts, track.FrameRate, &decoded, fn)
	})

	err = g.Wait()
	if errors.Is(err, ErrStop) {
		err = nil
	}
	if err != nil {
		return err
	}
	logger.Debug().
		Str(xglog.FieldEvent, "decode.done").
		Int("samples", fed).
		Int(xglog.FieldFrames, decoded).
		Msg("decoder finished")
	return nil
}

func feed(ctx context.Context, src ChunkSource, stream streamWriter, w io.Writer, pts *ptsQueue, fed *int) error {
	if err := stream.writeHeader(w); err != nil {
		return pipeError(err)
	}
	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		pts.add(chunk.TimestampUS)
		if err := stream.writeChunk(w, chunk); err != nil {
			return pipeError(err)
		}
		*fed++
	}
}

// pipeError keeps format errors distinct from a write into a pipe the decoder closed.
func pipeError(err error) error {
	if errors.Is(err, demux.ErrContainerParse) {
		return err
	}
	return fmt.Errorf("%w: %w", errDecoderExited, err)
}

func readFrames(ctx context.Context, r io.Reader, w, h int, pts *ptsQueue, fps float64, decoded *int, fn func(Frame) error) error {
	frameSize := w * h * 4
	for k := 0; ; k++ {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("decode: truncated frame %d", k)
			}
			return err
		}
		*decoded = k + 1
		frame := Frame{
			Image: &image.NRGBA{
				Pix:    buf,
				Stride: w * 4,
				Rect:   image.Rect(0, 0, w, h),
			},
			TimestampUS: pts.at(k, fps),
			Index:       k,
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

// ptsQueue keeps the presentation timestamps fed so far in sorted order.
// A decoder only emits frame k once every sample presented before it has
// been written, so the k-th smallest PTS seen so far is frame k's.
type ptsQueue struct {
	mu  sync.Mutex
	pts []int64
}

func (q *ptsQueue) add(v int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := sort.Search(len(q.pts), func(i int) bool { return q.pts[i] > v })
	q.pts = append(q.pts, 0)
	copy(q.pts[i+1:], q.pts[i:])
	q.pts[i] = v
}

// at returns the k-th smallest timestamp. Frames past the known samples
// (decoders may duplicate) are extrapolated from fps.
func (q *ptsQueue) at(k int, fps float64) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if k < len(q.pts) {
		return q.pts[k]
	}
	step := int64(0)
	if fps > 0 {
		step = int64(1e6 / fps)
	}
	if len(q.pts) == 0 {
		return int64(k) * step
	}
	return q.pts[len(q.pts)-1] + int64(k-len(q.pts)+1)*step
}
