// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package demux extracts encoded video samples from MP4 and Matroska/WebM
// files without decoding them.
package demux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/clipanim/internal/container"
	xglog "github.com/ManuGH/clipanim/internal/log"
)

var (
	ErrNoVideoTrack         = errors.New("no video track")
	ErrContainerParse       = errors.New("container parse error")
	ErrNotInitialized       = errors.New("demuxer not initialized")
	ErrAlreadyExtracted     = errors.New("samples already extracted")
	ErrUnsupportedContainer = errors.New("unsupported container")
)

// DefaultSampleSlack extends the extraction time budget past maxFrames/targetFPS.
const DefaultSampleSlack = time.Second

// ChunkKind tells key frames from frames that depend on others.
type ChunkKind uint8

const (
	KindKey ChunkKind = iota
	KindDelta
)

func (k ChunkKind) String() string {
	if k == KindKey {
		return "key"
	}
	return "delta"
}

// Chunk is one encoded sample. Data is consumed by exactly one decoder.
type Chunk struct {
	Kind              ChunkKind
	TimestampUS       int64
	DecodeTimestampUS int64
	DurationUS        int64
	Data              []byte
}

// TrackInfo describes the selected video track.
type TrackInfo struct {
	// Codec is an RFC 6381 style string ("avc1.64001f") or a bare name ("vp8").
	Codec         string
	Width         int
	Height        int
	Duration      time.Duration
	FrameRate     float64
	DecoderConfig []byte
	TrackID       uint64
}

// Metadata is what a demuxer knows after Initialize.
type Metadata struct {
	Format   container.Format
	Track    TrackInfo
	FileSize int64
	// Samples is the indexed sample count; zero when the container is read lazily.
	Samples int
}

// Demuxer reads one video track. Initialize is idempotent; ExtractSamples
// may be called once per instance.
type Demuxer interface {
	Initialize(ctx context.Context) (TrackInfo, error)
	ExtractSamples(ctx context.Context, targetFPS float64, maxFrames int) (*SampleIterator, error)
	Metadata() (Metadata, error)
	Destroy()
}

// Options tune a demuxer.
type Options struct {
	// SampleSlack is added to the extraction budget; zero uses DefaultSampleSlack,
	// a negative value disables the slack.
	SampleSlack time.Duration
	Logger      *zerolog.Logger
}

func (o Options) slack() time.Duration {
	switch {
	case o.SampleSlack < 0:
		return 0
	case o.SampleSlack == 0:
		return DefaultSampleSlack
	default:
		return o.SampleSlack
	}
}

// Open returns the demuxer for format reading path.
func Open(format container.Format, path string, opts Options) (Demuxer, error) {
	var parser trackParser
	switch format {
	case container.FormatMP4:
		parser = &mp4Parser{}
	case container.FormatWebM, container.FormatMatroska:
		parser = &ebmlParser{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContainer, format)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat input: %w", err)
	}

	logger := xglog.WithComponent("demux")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str(xglog.FieldContainer, string(format)).Logger()
	return &fileDemuxer{
		format: format,
		file:   f,
		size:   st.Size(),
		parser: parser,
		opts:   opts,
		logger: logger,
	}, nil
}

// trackParser is the container-specific half of a demuxer.
type trackParser interface {
	// parse reads the container headers and returns the first video track.
	parse(ctx context.Context, r *reader) (TrackInfo, error)
	// samples returns a source of sample locations in decode order.
	samples(r *reader, logger zerolog.Logger) sampleSource
	// indexed reports how many samples are known up front (0 if lazy).
	indexed() int
}

// fileDemuxer drives a trackParser over an open file.
type fileDemuxer struct {
	format container.Format
	file   *os.File
	size   int64
	parser trackParser
	opts   Options
	logger zerolog.Logger

	mu        sync.Mutex
	inited    bool
	track     TrackInfo
	initErr   error
	extracted bool
	destroyed bool
}

func (d *fileDemuxer) Initialize(ctx context.Context) (TrackInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return TrackInfo{}, fmt.Errorf("%w: demuxer destroyed", ErrNotInitialized)
	}
	if d.inited {
		return d.track, d.initErr
	}
	track, err := d.parser.parse(ctx, newReader(d.file, d.size))
	if err != nil && ctx.Err() != nil {
		// a cancelled parse may be retried
		return TrackInfo{}, err
	}
	d.inited = true
	d.track, d.initErr = track, err
	if err != nil {
		return TrackInfo{}, err
	}
	d.logger.Debug().
		Str(xglog.FieldEvent, "demux.initialized").
		Str(xglog.FieldCodec, track.Codec).
		Str(xglog.FieldResolution, fmt.Sprintf("%dx%d", track.Width, track.Height)).
		Float64(xglog.FieldFPS, track.FrameRate).
		Dur("duration", track.Duration).
		Msg("video track found")
	return track, nil
}

func (d *fileDemuxer) ExtractSamples(ctx context.Context, targetFPS float64, maxFrames int) (*SampleIterator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited || d.initErr != nil || d.destroyed {
		return nil, ErrNotInitialized
	}
	if d.extracted {
		return nil, ErrAlreadyExtracted
	}
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	d.extracted = true

	r := newReader(d.file, d.size)
	return newSampleIterator(d.parser.samples(r, d.logger), r, budgetUS(targetFPS, maxFrames, d.opts.slack())), nil
}

func (d *fileDemuxer) Metadata() (Metadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inited || d.initErr != nil {
		return Metadata{}, ErrNotInitialized
	}
	return Metadata{Format: d.format, Track: d.track, FileSize: d.size, Samples: d.parser.indexed()}, nil
}

func (d *fileDemuxer) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	if err := d.file.Close(); err != nil {
		d.logger.Warn().Err(err).Str(xglog.FieldEvent, "demux.close_failed").Msg("closing input failed")
	}
}

// budgetUS is the decode-time span to extract, or 0 for no limit.
func budgetUS(targetFPS float64, maxFrames int, slack time.Duration) int64 {
	if targetFPS <= 0 || maxFrames <= 0 {
		return 0
	}
	return int64(float64(maxFrames)/targetFPS*1e6) + slack.Microseconds()
}
