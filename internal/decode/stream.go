// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ManuGH/clipanim/internal/decision"
	"github.com/ManuGH/clipanim/internal/demux"
)

// ErrUnsupportedCodec is returned for tracks no elementary stream writer handles.
var ErrUnsupportedCodec = errors.New("decode: unsupported codec")

var startCode = []byte{0, 0, 0, 1}

// av1TemporalDelimiter is an OBU header (type 2, has_size_field) with size 0.
var av1TemporalDelimiter = []byte{0x12, 0x00}

// streamWriter turns demuxed samples into a bitstream ffmpeg can read from a pipe.
type streamWriter interface {
	// inputFormat is the ffmpeg demuxer name for -f.
	inputFormat() string
	writeHeader(w io.Writer) error
	writeChunk(w io.Writer, c demux.Chunk) error
}

func newStreamWriter(track demux.TrackInfo) (streamWriter, error) {
	switch family := decision.ClassifyCodec(track.Codec); family {
	case decision.FamilyVP8:
		return &ivfWriter{fourCC: "VP80", width: track.Width, height: track.Height}, nil
	case decision.FamilyVP9:
		return &ivfWriter{fourCC: "VP90", width: track.Width, height: track.Height}, nil
	case decision.FamilyAV1:
		return &ivfWriter{fourCC: "AV01", width: track.Width, height: track.Height, av1: true}, nil
	case decision.FamilyH264:
		return newAnnexBWriter("h264", track.DecoderConfig, demux.ParseAVCConfig), nil
	case decision.FamilyHEVC:
		return newAnnexBWriter("hevc", track.DecoderConfig, demux.ParseHEVCConfig), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, track.Codec)
	}
}

// ivfWriter frames VP8/VP9/AV1 samples in an IVF container with a
// microsecond timebase.
type ivfWriter struct {
	fourCC        string
	width, height int
	av1           bool
}

func (w *ivfWriter) inputFormat() string { return "ivf" }

func (w *ivfWriter) writeHeader(out io.Writer) error {
	var h [32]byte
	copy(h[0:4], "DKIF")
	binary.LittleEndian.PutUint16(h[4:], 0)
	binary.LittleEndian.PutUint16(h[6:], 32)
	copy(h[8:12], w.fourCC)
	binary.LittleEndian.PutUint16(h[12:], uint16(w.width))
	binary.LittleEndian.PutUint16(h[14:], uint16(w.height))
	binary.LittleEndian.PutUint32(h[16:], 1_000_000)
	binary.LittleEndian.PutUint32(h[20:], 1)
	// Frame count is unknown up front; ffmpeg reads until EOF.
	_, err := out.Write(h[:])
	return err
}

func (w *ivfWriter) writeChunk(out io.Writer, c demux.Chunk) error {
	payload := c.Data
	if w.av1 && !startsWithTemporalDelimiter(payload) {
		payload = append(append(make([]byte, 0, len(payload)+2), av1TemporalDelimiter...), payload...)
	}
	var h [12]byte
	binary.LittleEndian.PutUint32(h[0:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(h[4:], uint64(c.TimestampUS))
	if _, err := out.Write(h[:]); err != nil {
		return err
	}
	_, err := out.Write(payload)
	return err
}

func startsWithTemporalDelimiter(b []byte) bool {
	return len(b) > 0 && (b[0]>>3)&0x0f == 2
}

// annexBWriter rewrites length-prefixed NAL units to start-code form and
// repeats the parameter sets in front of every key frame.
type annexBWriter struct {
	format     string
	lengthSize int
	paramSets  [][]byte
}

func newAnnexBWriter(format string, config []byte, parse func([]byte) (demux.NALConfig, error)) *annexBWriter {
	w := &annexBWriter{format: format, lengthSize: 4}
	if len(config) == 0 {
		return w
	}
	cfg, err := parse(config)
	if err != nil {
		// In-band parameter sets still decode.
		return w
	}
	w.lengthSize = cfg.LengthSize
	w.paramSets = cfg.ParameterSets
	return w
}

func (w *annexBWriter) inputFormat() string { return w.format }

func (w *annexBWriter) writeHeader(io.Writer) error { return nil }

func (w *annexBWriter) writeChunk(out io.Writer, c demux.Chunk) error {
	buf, err := w.convert(c)
	if err != nil {
		return err
	}
	_, err = out.Write(buf)
	return err
}

func (w *annexBWriter) convert(c demux.Chunk) ([]byte, error) {
	size := len(c.Data) + len(c.Data)/4
	buf := make([]byte, 0, size)
	if c.Kind == demux.KindKey {
		for _, ps := range w.paramSets {
			buf = append(buf, startCode...)
			buf = append(buf, ps...)
		}
	}
	data := c.Data
	for len(data) > 0 {
		if len(data) < w.lengthSize {
			return nil, fmt.Errorf("%w: truncated NAL length prefix", demux.ErrContainerParse)
		}
		var n int
		for i := 0; i < w.lengthSize; i++ {
			n = n<<8 | int(data[i])
		}
		data = data[w.lengthSize:]
		if n > len(data) {
			return nil, fmt.Errorf("%w: NAL unit of %d bytes exceeds sample", demux.ErrContainerParse, n)
		}
		buf = append(buf, startCode...)
		buf = append(buf, data[:n]...)
		data = data[n:]
	}
	return buf, nil
}
