// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package anim

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxWebP_SingleFramePassthrough(t *testing.T) {
	payload := vp8lStill(32, 24, false)
	out, err := MuxWebP([]Frame{{Payload: payload, DurationMS: 100}}, MuxOptions{})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, out), "single frame must be returned byte-for-byte")
}

func TestMuxWebP_AnimatedLayout(t *testing.T) {
	frames := []Frame{
		{Payload: vp8lStill(32, 24, false), DurationMS: 100},
		{Payload: vp8Still(40, 20, false), DurationMS: 0xFFFFFF},
		{Payload: vp8lStill(16, 16, false), DurationMS: 1},
	}
	out, err := MuxWebP(frames, MuxOptions{LoopCount: 3, Background: color.NRGBA{R: 1, G: 2, B: 3, A: 4}})
	require.NoError(t, err)

	assert.Equal(t, "RIFF", string(out[0:4]))
	assert.Equal(t, uint32(len(out)-8), binary.LittleEndian.Uint32(out[4:8]))
	assert.Equal(t, "WEBP", string(out[8:12]))
	assert.Equal(t, "VP8X", string(out[12:16]))

	flags := out[20]
	assert.NotZero(t, flags&vp8xFlagAnimation)
	assert.Zero(t, flags&vp8xFlagAlpha)
	assert.Equal(t, uint32(39), get24(out[24:27]), "canvas width-1")
	assert.Equal(t, uint32(23), get24(out[27:30]), "canvas height-1")

	assert.Equal(t, "ANIM", string(out[30:34]))
	assert.Equal(t, []byte{3, 2, 1, 4}, out[38:42], "background is BGRA")
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(out[42:44]))

	assert.Equal(t, []int{100, 0xFFFFFF, 1}, anmfDurations(t, out))
	require.NoError(t, CheckAnimationFlags(out))
}

func TestMuxWebP_AlphaFlagFromFrames(t *testing.T) {
	for name, frame := range map[string][]byte{
		"vp8l alpha bit": vp8lStill(8, 8, true),
		"alph chunk":     vp8Still(8, 8, true),
	} {
		t.Run(name, func(t *testing.T) {
			out, err := MuxWebP([]Frame{
				{Payload: vp8lStill(8, 8, false), DurationMS: 50},
				{Payload: frame, DurationMS: 50},
			}, MuxOptions{})
			require.NoError(t, err)
			assert.NotZero(t, out[20]&vp8xFlagAlpha)
		})
	}
}

func TestMuxWebP_ALPHTravelsInsideANMF(t *testing.T) {
	out, err := MuxWebP([]Frame{
		{Payload: vp8Still(8, 8, true), DurationMS: 50},
		{Payload: vp8Still(8, 8, true), DurationMS: 50},
	}, MuxOptions{})
	require.NoError(t, err)

	var inner []string
	require.NoError(t, walkChunks(out, func(c riffChunk) bool {
		if c.fourCC == "ANMF" && inner == nil {
			framed := append([]byte("RIFF\x00\x00\x00\x00WEBP"), c.payload[16:]...)
			binary.LittleEndian.PutUint32(framed[4:8], uint32(len(framed)-8))
			_ = walkChunks(framed, func(ic riffChunk) bool {
				inner = append(inner, ic.fourCC)
				return true
			})
		}
		return true
	}))
	assert.Equal(t, []string{"ALPH", "VP8 "}, inner)
}

func TestMuxWebP_RejectsBadInput(t *testing.T) {
	_, err := MuxWebP(nil, MuxOptions{})
	require.Error(t, err)

	_, err = MuxWebP([]Frame{{Payload: vp8lStill(4, 4, false), DurationMS: 0}, {Payload: vp8lStill(4, 4, false), DurationMS: 10}}, MuxOptions{})
	require.Error(t, err)

	_, err = MuxWebP([]Frame{{Payload: []byte("not a webp at all"), DurationMS: 10}, {Payload: vp8lStill(4, 4, false), DurationMS: 10}}, MuxOptions{})
	require.Error(t, err)
}

func TestCheckAnimationFlags_DetectsMismatch(t *testing.T) {
	out, err := MuxWebP([]Frame{
		{Payload: vp8lStill(8, 8, false), DurationMS: 50},
		{Payload: vp8lStill(8, 8, false), DurationMS: 50},
	}, MuxOptions{})
	require.NoError(t, err)

	cleared := bytes.Clone(out)
	cleared[20] &^= vp8xFlagAnimation
	assert.ErrorIs(t, CheckAnimationFlags(cleared), ErrOutputValidation)

	// flag without frames
	vp8x := make([]byte, 10)
	vp8x[0] = vp8xFlagAnimation
	var body bytes.Buffer
	body.WriteString("WEBP")
	writeChunk(&body, "VP8X", vp8x)
	writeChunk(&body, "VP8L", []byte{0x2f, 0, 0, 0, 0})
	assert.ErrorIs(t, CheckAnimationFlags(wrapRIFF(body.Bytes())), ErrOutputValidation)

	// a plain still is consistent
	assert.NoError(t, CheckAnimationFlags(vp8lStill(4, 4, false)))
}

func TestMuxWebP_RoundTripFlagMarkerProperty(t *testing.T) {
	for n := 2; n <= 12; n++ {
		frames := make([]Frame, n)
		for i := range frames {
			frames[i] = Frame{Payload: vp8lStill(4+i, 4+i, i%3 == 0), DurationMS: 10 * (i + 1)}
		}
		out, err := MuxWebP(frames, MuxOptions{})
		require.NoError(t, err)
		scan, err := scanWebP(out, len(out))
		require.NoError(t, err)
		assert.True(t, scan.animFlag)
		assert.True(t, scan.hasANIM)
		assert.Equal(t, n, scan.frames)
	}
}
