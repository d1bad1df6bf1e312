// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package anim

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/require"
)

// vp8lStill builds a structurally valid single-frame lossless WebP. The
// bitstream after the header is filler; only the header is parsed by the muxer.
func vp8lStill(w, h int, alpha bool) []byte {
	bits := uint32(w-1) | uint32(h-1)<<14
	if alpha {
		bits |= 1 << 28
	}
	payload := []byte{0x2f, 0, 0, 0, 0, 0x88, 0x88, 0x08}
	binary.LittleEndian.PutUint32(payload[1:5], bits)
	return riff("VP8L", payload)
}

// vp8Still builds a lossy still with an optional ALPH chunk in a VP8X container.
func vp8Still(w, h int, withAlpha bool) []byte {
	vp8 := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0, 0, 0, 0, 0xAA, 0xBB}
	binary.LittleEndian.PutUint16(vp8[6:8], uint16(w))
	binary.LittleEndian.PutUint16(vp8[8:10], uint16(h))
	if !withAlpha {
		return riff("VP8 ", vp8)
	}
	var body bytes.Buffer
	body.WriteString("WEBP")
	vp8x := make([]byte, 10)
	vp8x[0] = vp8xFlagAlpha
	put24(vp8x[4:7], uint32(w-1))
	put24(vp8x[7:10], uint32(h-1))
	writeChunk(&body, "VP8X", vp8x)
	writeChunk(&body, "ALPH", []byte{0x00, 0xFF, 0xFF})
	writeChunk(&body, "VP8 ", vp8)
	return wrapRIFF(body.Bytes())
}

func riff(fourCC string, payload []byte) []byte {
	var body bytes.Buffer
	body.WriteString("WEBP")
	writeChunk(&body, fourCC, payload)
	return wrapRIFF(body.Bytes())
}

func wrapRIFF(body []byte) []byte {
	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

func gifStill(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.Black, c})
	for i := range img.Pix {
		img.Pix[i] = 1
	}
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

// anmfDurations extracts the 24-bit duration of every ANMF chunk.
func anmfDurations(t *testing.T, data []byte) []int {
	t.Helper()
	var out []int
	require.NoError(t, walkChunks(data, func(c riffChunk) bool {
		if c.fourCC == "ANMF" {
			out = append(out, int(get24(c.payload[12:15])))
		}
		return true
	}))
	return out
}
