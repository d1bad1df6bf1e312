// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capability

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ManuGH/clipanim/internal/ffmpeg"
)

// Software decoder names that can serve each codec, in preference order.
var softwareDecoders = map[string][]string{
	CodecH264: {"h264"},
	CodecHEVC: {"hevc"},
	CodecAV1:  {"libdav1d", "libaom-av1", "av1"},
	CodecVP8:  {"vp8", "libvpx"},
	CodecVP9:  {"vp9", "libvpx-vp9"},
}

// Only ffmpeg's native decoders can attach a VAAPI hwaccel.
var hwaccelDecoders = map[string]string{
	CodecH264: "h264",
	CodecHEVC: "hevc",
	CodecAV1:  "av1",
	CodecVP8:  "vp8",
	CodecVP9:  "vp9",
}

var frameEncoders = map[string][]string{
	"webp": {"libwebp", "libwebp_anim"},
	"gif":  {"gif"},
}

// FFmpegQuerier answers feature queries from ffmpeg's own listings and the
// presence of the VAAPI render node. Listings are fetched once and memoized.
type FFmpegQuerier struct {
	runner      *ffmpeg.Runner
	vaapiDevice string
	stat        func(string) (os.FileInfo, error)

	mu       sync.Mutex
	decoders ffmpeg.Listing
	encoders ffmpeg.Listing
	hwaccels map[string]bool
}

// NewFFmpegQuerier creates a querier. An empty vaapiDevice disables hardware decode.
func NewFFmpegQuerier(runner *ffmpeg.Runner, vaapiDevice string) *FFmpegQuerier {
	return &FFmpegQuerier{runner: runner, vaapiDevice: vaapiDevice, stat: os.Stat}
}

func (q *FFmpegQuerier) NativeDecodeAvailable(ctx context.Context) (bool, error) {
	dec, err := q.listing(ctx, "-decoders")
	if err != nil {
		return false, err
	}
	// rawvideo output is how decoded frames leave the process.
	return len(dec) > 0 && dec.Has("rawvideo"), nil
}

func (q *FFmpegQuerier) DecoderSupported(ctx context.Context, codec string, preferHardware bool) (bool, error) {
	dec, err := q.listing(ctx, "-decoders")
	if err != nil {
		return false, err
	}
	if preferHardware {
		name, ok := hwaccelDecoders[codec]
		if !ok || !dec.Has(name) {
			return false, nil
		}
		return q.HardwareAccelerationHint(ctx)
	}
	for _, name := range softwareDecoders[codec] {
		if dec.Has(name) {
			return true, nil
		}
	}
	return false, nil
}

func (q *FFmpegQuerier) EncoderSupported(ctx context.Context, format string) (bool, error) {
	enc, err := q.listing(ctx, "-encoders")
	if err != nil {
		return false, err
	}
	for _, name := range frameEncoders[format] {
		if enc.Has(name) {
			return true, nil
		}
	}
	return false, nil
}

// HardwareAccelerationHint is true when ffmpeg lists the vaapi hwaccel and the
// render node exists. Fail-closed: any doubt means false.
func (q *FFmpegQuerier) HardwareAccelerationHint(ctx context.Context) (bool, error) {
	if q.vaapiDevice == "" {
		return false, nil
	}
	if _, err := q.stat(q.vaapiDevice); err != nil {
		return false, nil
	}
	accels, err := q.hwaccelList(ctx)
	if err != nil {
		return false, err
	}
	return accels["vaapi"], nil
}

func (q *FFmpegQuerier) listing(ctx context.Context, flag string) (ffmpeg.Listing, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cached := q.decoders
	if flag == "-encoders" {
		cached = q.encoders
	}
	if cached != nil {
		return cached, nil
	}
	out, err := q.runner.Output(ctx, "-hide_banner", flag)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %w", flag, err)
	}
	l := ffmpeg.ParseListing(out)
	if flag == "-encoders" {
		q.encoders = l
	} else {
		q.decoders = l
	}
	return l, nil
}

func (q *FFmpegQuerier) hwaccelList(ctx context.Context) (map[string]bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.hwaccels != nil {
		return q.hwaccels, nil
	}
	out, err := q.runner.Output(ctx, "-hide_banner", "-hwaccels")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -hwaccels: %w", err)
	}
	q.hwaccels = ffmpeg.ParseHWAccels(out)
	return q.hwaccels, nil
}
