// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package convert

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/capability"
	"github.com/ManuGH/clipanim/internal/decode"
	"github.com/ManuGH/clipanim/internal/demux"
	"github.com/ManuGH/clipanim/internal/encode"
)

// staticQuerier answers every capability query from fixed flags.
type staticQuerier struct {
	native bool
	codecs map[string]bool
	webp   bool
}

func (q staticQuerier) NativeDecodeAvailable(context.Context) (bool, error) { return q.native, nil }

func (q staticQuerier) DecoderSupported(_ context.Context, codec string, hw bool) (bool, error) {
	if hw {
		return false, nil
	}
	return q.codecs[codec], nil
}

func (q staticQuerier) EncoderSupported(_ context.Context, format string) (bool, error) {
	return format == "webp" && q.webp, nil
}

func (q staticQuerier) HardwareAccelerationHint(context.Context) (bool, error) { return false, nil }

func swProbe(codecs ...string) *capability.Probe {
	q := staticQuerier{native: true, codecs: map[string]bool{}}
	for _, c := range codecs {
		q.codecs[c] = true
	}
	return capability.NewProbe(q)
}

// fakeDecoder emits one solid frame per sample with the sample's PTS.
type fakeDecoder struct {
	err   error
	block bool

	mu      sync.Mutex
	started chan struct{}
	opts    decode.Options
}

func (d *fakeDecoder) factory(opts decode.Options) decode.Decoder {
	d.mu.Lock()
	d.opts = opts
	d.mu.Unlock()
	return d
}

func (d *fakeDecoder) Decode(ctx context.Context, track demux.TrackInfo, src decode.ChunkSource, fn func(decode.Frame) error) error {
	if d.started != nil {
		close(d.started)
	}
	if d.block {
		<-ctx.Done()
		return context.Cause(ctx)
	}
	if d.err != nil {
		return d.err
	}
	for k := 0; ; k++ {
		c, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		img := image.NewNRGBA(image.Rect(0, 0, track.Width, track.Height))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+3] = byte(40*k), 255
		}
		if err := fn(decode.Frame{Image: img, TimestampUS: c.TimestampUS, Index: k}); err != nil {
			if errors.Is(err, decode.ErrStop) {
				return nil
			}
			return err
		}
	}
}

// scriptedAdapter returns canned output for one kind.
type scriptedAdapter struct {
	name  string
	kind  encode.Kind
	out   []byte
	err   error
	block bool
	calls int
}

func (a *scriptedAdapter) Name() string                   { return a.name }
func (a *scriptedAdapter) Kind() encode.Kind              { return a.kind }
func (a *scriptedAdapter) Supports(anim.Format) bool      { return true }
func (a *scriptedAdapter) Limits() encode.Limits          { return encode.Limits{} }
func (a *scriptedAdapter) Available(context.Context) bool { return true }

func (a *scriptedAdapter) Encode(ctx context.Context, req encode.Request) ([]byte, error) {
	a.calls++
	if a.block {
		<-ctx.Done()
		return nil, context.Cause(ctx)
	}
	if req.Progress != nil {
		req.Progress(1, 1)
	}
	return a.out, a.err
}

// twoFrameGIF is a structurally valid animated GIF.
func twoFrameGIF(t *testing.T) []byte {
	t.Helper()
	var frames []anim.Frame
	for _, c := range []color.NRGBA{{R: 255, A: 255}, {G: 255, A: 255}} {
		img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
		}
		still, err := encode.EncodeGIFStill(img)
		require.NoError(t, err)
		frames = append(frames, anim.Frame{Payload: still, DurationMS: 100})
	}
	out, err := anim.MuxGIF(frames, anim.MuxOptions{})
	require.NoError(t, err)
	return out
}

// EBML builders for a minimal WebM file.

func ebmlID(id uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	switch {
	case id > 0xFFFFFF:
		return b[:]
	case id > 0xFFFF:
		return b[1:]
	case id > 0xFF:
		return b[2:]
	default:
		return b[3:]
	}
}

func el(id uint32, parts ...[]byte) []byte {
	body := bytes.Join(parts, nil)
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(body)))
	size[0] = 0x01
	return append(append(ebmlID(id), size[:]...), body...)
}

func elUint(id uint32, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return el(id, b[:])
}

func simpleBlock(relMS int16, key bool, data string) []byte {
	flags := byte(0)
	if key {
		flags = 0x80
	}
	var rel [2]byte
	binary.BigEndian.PutUint16(rel[:], uint16(relMS))
	return el(0xA3, []byte{0x81}, rel[:], []byte{flags}, []byte(data))
}

// writeWebM writes a WebM with one track of codecID (or an audio-only file
// when codecID starts with "A_") and n samples 40ms apart.
func writeWebM(t *testing.T, codecID string, n int) string {
	t.Helper()
	trackType := uint64(1)
	if codecID[0] == 'A' {
		trackType = 2
	}
	entry := el(0xAE,
		elUint(0xD7, 1),
		elUint(0x83, trackType),
		el(0x86, []byte(codecID)),
		elUint(0x23E383, 40_000_000),
		el(0xE0, elUint(0xB0, 8), elUint(0xBA, 4)),
	)
	blocks := [][]byte{elUint(0xE7, 0)}
	for i := 0; i < n; i++ {
		blocks = append(blocks, simpleBlock(int16(40*i), i == 0, "frame"))
	}
	file := bytes.Join([][]byte{
		el(0x1A45DFA3, elUint(0x4286, 1), el(0x4282, []byte("webm"))),
		el(0x18538067,
			el(0x1549A966, elUint(0x2AD7B1, 1_000_000)),
			el(0x1654AE6B, entry),
			el(0x1F43B675, blocks...),
		),
	}, nil)
	path := filepath.Join(t.TempDir(), "clip.webm")
	require.NoError(t, os.WriteFile(path, file, 0o644))
	return path
}

// writeAVI writes a file that sniffs as AVI; it is never demuxed.
func writeAVI(t *testing.T) string {
	t.Helper()
	data := append([]byte("RIFF\x00\x00\x00\x00AVI LIST"), make([]byte, 64)...)
	path := filepath.Join(t.TempDir(), "clip.avi")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
