// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/ManuGH/clipanim/internal/anim"
	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/metrics"
)

// NameVips is the libvips WebP adapter.
const NameVips = "vips"

// webpMaxDimension is the largest canvas edge a WebP still can carry.
const webpMaxDimension = 16383

var (
	vipsOnce    sync.Once
	vipsStarted bool
)

// startVips initialises libvips once per process. govips cannot restart
// libvips after Shutdown, so it is never shut down.
func startVips(logger zerolog.Logger) bool {
	vipsOnce.Do(func() {
		vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				logger.Error().Str("domain", domain).Msg(msg)
			case vips.LogLevelWarning:
				logger.Warn().Str("domain", domain).Msg(msg)
			default:
				logger.Debug().Str("domain", domain).Msg(msg)
			}
		}, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			ConcurrencyLevel: 1,
			MaxCacheMem:      50 * 1024 * 1024,
			MaxCacheSize:     100,
		})
		vipsStarted = true
		logger.Info().Str(xglog.FieldEvent, "encode.vips_started").Str("version", vips.Version).Msg("libvips initialized")
	})
	return vipsStarted
}

// VipsAdapter encodes WebP stills through libvips.
type VipsAdapter struct {
	enabled bool
	bounds  ChunkBounds
	limits  Limits
	logger  zerolog.Logger
}

// NewVipsAdapter returns the libvips adapter. A disabled adapter reports
// itself unavailable without touching libvips.
func NewVipsAdapter(enabled bool, bounds ChunkBounds, limits Limits) *VipsAdapter {
	if limits.MaxDimension <= 0 || limits.MaxDimension > webpMaxDimension {
		limits.MaxDimension = webpMaxDimension
	}
	return &VipsAdapter{
		enabled: enabled,
		bounds:  bounds,
		limits:  limits,
		logger:  xglog.WithComponent("vips"),
	}
}

func (a *VipsAdapter) Name() string                     { return NameVips }
func (a *VipsAdapter) Kind() Kind                       { return KindFrame }
func (a *VipsAdapter) Supports(format anim.Format) bool { return format == anim.FormatWebP }
func (a *VipsAdapter) Limits() Limits                   { return a.limits }

func (a *VipsAdapter) Available(context.Context) bool {
	return a.enabled && startVips(a.logger)
}

func (a *VipsAdapter) Encode(ctx context.Context, req Request) ([]byte, error) {
	if !a.Available(ctx) {
		return nil, fmt.Errorf("%w: %s", ErrEncoderUnavailable, NameVips)
	}
	quality := req.Quality
	frames, err := EncodeChunked(ctx, req, a.limits, a.bounds, func(_ context.Context, img image.Image) ([]byte, error) {
		return vipsWebPStill(img, quality)
	})
	if err != nil {
		return nil, err
	}
	metrics.AddFramesEncoded(NameVips, len(frames))
	return muxFrames(req, frames)
}

func vipsWebPStill(img image.Image, quality int) ([]byte, error) {
	var src bytes.Buffer
	if err := imaging.Encode(&src, img, imaging.PNG, imaging.PNGCompressionLevel(png.NoCompression)); err != nil {
		return nil, fmt.Errorf("stage frame: %w", err)
	}
	ref, err := vips.LoadImageFromBuffer(src.Bytes(), vips.NewImportParams())
	if err != nil {
		return nil, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	if quality > 0 {
		params.Quality = quality
	}
	params.StripMetadata = true
	out, _, err := ref.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("vips export webp: %w", err)
	}
	return out, nil
}
