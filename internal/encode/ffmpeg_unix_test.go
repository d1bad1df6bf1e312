// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package encode

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/ffmpeg"
	"github.com/ManuGH/clipanim/internal/jobs"
)

func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

type staticResolver struct {
	bin   string
	err   error
	calls int
}

func (r *staticResolver) ResolveBinary(context.Context) (string, error) {
	r.calls++
	return r.bin, r.err
}

const progressScript = `printf 'frame=10\nprogress=continue\n' >&2
printf 'frame=20\nprogress=end\n' >&2
printf 'GIF89a-payload'`

func TestTranscodeAdapter_ReportsProgressAndReturnsOutput(t *testing.T) {
	bin := fakeFFmpeg(t, progressScript)
	a := NewFFmpegTranscodeAdapter(ffmpeg.NewRunner(bin, time.Second), nil, true, time.Second)
	require.True(t, a.Available(context.Background()))

	var reports [][2]int
	out, err := a.Encode(context.Background(), Request{
		Format:    anim.FormatGIF,
		InputPath: "/in/clip.mp4",
		MaxFrames: 20,
		Progress:  func(done, total int) { reports = append(reports, [2]int{done, total}) },
	})
	require.NoError(t, err)
	assert.Equal(t, "GIF89a-payload", string(out))
	assert.Equal(t, [][2]int{{10, 20}, {20, 20}, {20, 20}}, reports)
}

func TestTranscodeAdapter_UsesResolverWhenLocalMissing(t *testing.T) {
	bin := fakeFFmpeg(t, progressScript)
	res := &staticResolver{bin: bin}
	a := NewFFmpegTranscodeAdapter(ffmpeg.NewRunner("clipanim-no-such-ffmpeg", time.Second), res, false, time.Second)

	assert.True(t, a.Available(context.Background()))
	assert.True(t, a.Supports(anim.FormatWebP), "a fetched binary is assumed to carry libwebp")
	out, err := a.Encode(context.Background(), Request{Format: anim.FormatWebP, InputPath: "/in/clip.mp4"})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, 1, res.calls)
}

func TestTranscodeAdapter_ResolverFailureIsUnavailable(t *testing.T) {
	res := &staticResolver{err: errors.New("all providers failed")}
	a := NewFFmpegTranscodeAdapter(ffmpeg.NewRunner("clipanim-no-such-ffmpeg", time.Second), res, false, time.Second)
	_, err := a.Encode(context.Background(), Request{Format: anim.FormatGIF, InputPath: "/in/clip.mp4"})
	assert.ErrorIs(t, err, ErrEncoderUnavailable)

	none := NewFFmpegTranscodeAdapter(ffmpeg.NewRunner("clipanim-no-such-ffmpeg", time.Second), nil, false, time.Second)
	assert.False(t, none.Available(context.Background()))
}

func TestTranscodeAdapter_CancelReturnsErrCancelled(t *testing.T) {
	bin := fakeFFmpeg(t, "sleep 30 & wait")
	a := NewFFmpegTranscodeAdapter(ffmpeg.NewRunner(bin, 500*time.Millisecond), nil, true, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	start := time.Now()
	_, err := a.Encode(ctx, Request{Format: anim.FormatWebP, InputPath: "/in/clip.mp4"})
	assert.ErrorIs(t, err, jobs.ErrCancelled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFFmpegFrameAdapter_MuxesStills(t *testing.T) {
	// Every invocation emits the same single-frame GIF regardless of input.
	still, err := EncodeGIFStill(solid(4, 4, color.NRGBA{R: 255, A: 255}))
	require.NoError(t, err)
	stillPath := filepath.Join(t.TempDir(), "still.gif")
	require.NoError(t, os.WriteFile(stillPath, still, 0o644))
	bin := fakeFFmpeg(t, "cat > /dev/null; cat "+stillPath)

	a := NewFFmpegFrameAdapter(ffmpeg.NewRunner(bin, time.Second), false, ChunkBounds{}, Limits{})
	assert.True(t, a.Supports(anim.FormatGIF))
	assert.False(t, a.Supports(anim.FormatWebP))

	out, err := a.Encode(context.Background(), Request{
		Format:      anim.FormatGIF,
		Frames:      []image.Image{solid(4, 4, color.NRGBA{A: 255}), solid(4, 4, color.NRGBA{A: 255})},
		DurationsMS: []int{100, 100},
	})
	require.NoError(t, err)
	rep, err := anim.Validate(out, anim.FormatGIF)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Frames)
}

func TestFFmpegFrameAdapter_UnavailableBinary(t *testing.T) {
	a := NewFFmpegFrameAdapter(ffmpeg.NewRunner("clipanim-no-such-ffmpeg", time.Second), true, ChunkBounds{}, Limits{})
	assert.False(t, a.Available(context.Background()))
	_, err := a.Encode(context.Background(), Request{Format: anim.FormatWebP})
	assert.ErrorIs(t, err, ErrEncoderUnavailable)
}
