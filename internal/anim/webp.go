// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package anim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// VP8X flag bits.
const (
	vp8xFlagAnimation = 0x02
	vp8xFlagXMP       = 0x04
	vp8xFlagEXIF      = 0x08
	vp8xFlagAlpha     = 0x10
	vp8xFlagICC       = 0x20
)

// ANMF flag bits.
const (
	anmfDisposeBackground = 0x01
	anmfNoBlend           = 0x02
)

type riffChunk struct {
	fourCC  string
	payload []byte
}

// still is a single-image WebP broken into the chunks ANMF can carry.
type still struct {
	width, height int
	alpha         bool
	chunks        []riffChunk // ALPH (optional) then VP8 or VP8L
}

// walkChunks iterates the chunks of a RIFF/WEBP file. A truncated tail stops
// the walk with an error; fn returning false stops it silently.
func walkChunks(data []byte, fn func(c riffChunk) bool) error {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WEBP" {
		return errors.New("webp: missing RIFF/WEBP header")
	}
	end := 8 + int(binary.LittleEndian.Uint32(data[4:8]))
	if end > len(data) {
		end = len(data)
	}
	for off := 12; off < end; {
		if off+8 > end {
			return fmt.Errorf("webp: truncated chunk header at %d", off)
		}
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if size < 0 || off+8+size > end {
			return fmt.Errorf("webp: chunk %q at %d overruns container", data[off:off+4], off)
		}
		if !fn(riffChunk{fourCC: string(data[off : off+4]), payload: data[off+8 : off+8+size]}) {
			return nil
		}
		off += 8 + size + size&1
	}
	return nil
}

func parseStill(data []byte) (still, error) {
	var s still
	var image, alph *riffChunk
	var walkErr error
	err := walkChunks(data, func(c riffChunk) bool {
		switch c.fourCC {
		case "VP8X":
			if len(c.payload) < 10 {
				walkErr = errors.New("webp: short VP8X chunk")
				return false
			}
			if c.payload[0]&vp8xFlagAnimation != 0 {
				walkErr = errors.New("webp: frame payload is already animated")
				return false
			}
			s.alpha = c.payload[0]&vp8xFlagAlpha != 0
			s.width = 1 + int(get24(c.payload[4:7]))
			s.height = 1 + int(get24(c.payload[7:10]))
		case "ALPH":
			c := c
			alph = &c
			s.alpha = true
		case "VP8 ", "VP8L":
			if image != nil {
				walkErr = errors.New("webp: more than one image chunk")
				return false
			}
			c := c
			image = &c
		case "ANIM", "ANMF":
			walkErr = errors.New("webp: frame payload is already animated")
			return false
		}
		return true
	})
	if err == nil {
		err = walkErr
	}
	if err != nil {
		return still{}, err
	}
	if image == nil {
		return still{}, errors.New("webp: no VP8 or VP8L chunk")
	}

	w, h, alpha, err := bitstreamSize(*image)
	if err != nil {
		return still{}, err
	}
	if s.width == 0 {
		s.width, s.height = w, h
	}
	s.alpha = s.alpha || alpha
	if alph != nil && image.fourCC == "VP8 " {
		s.chunks = append(s.chunks, *alph)
	}
	s.chunks = append(s.chunks, *image)
	return s, nil
}

// bitstreamSize reads the frame dimensions from a VP8 key frame or VP8L header.
func bitstreamSize(c riffChunk) (w, h int, alpha bool, err error) {
	p := c.payload
	switch c.fourCC {
	case "VP8 ":
		if len(p) < 10 || p[3] != 0x9d || p[4] != 0x01 || p[5] != 0x2a {
			return 0, 0, false, errors.New("webp: bad VP8 key frame header")
		}
		w = int(binary.LittleEndian.Uint16(p[6:8]) & 0x3fff)
		h = int(binary.LittleEndian.Uint16(p[8:10]) & 0x3fff)
		return w, h, false, nil
	case "VP8L":
		if len(p) < 5 || p[0] != 0x2f {
			return 0, 0, false, errors.New("webp: bad VP8L signature")
		}
		bits := binary.LittleEndian.Uint32(p[1:5])
		w = int(bits&0x3fff) + 1
		h = int((bits>>14)&0x3fff) + 1
		return w, h, (bits>>28)&1 == 1, nil
	}
	return 0, 0, false, fmt.Errorf("webp: %q is not an image chunk", c.fourCC)
}

// MuxWebP assembles still WebP payloads into one animated WebP. A single
// frame is returned unchanged; nothing is wrapped.
func MuxWebP(frames []Frame, opts MuxOptions) ([]byte, error) {
	if err := checkFrames(frames); err != nil {
		return nil, err
	}
	if len(frames) == 1 {
		return frames[0].Payload, nil
	}

	stills := make([]still, len(frames))
	canvasW, canvasH := 0, 0
	anyAlpha := false
	for i, f := range frames {
		s, err := parseStill(f.Payload)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		stills[i] = s
		canvasW = max(canvasW, s.width)
		canvasH = max(canvasH, s.height)
		anyAlpha = anyAlpha || s.alpha
	}
	if canvasW > 1<<24 || canvasH > 1<<24 {
		return nil, fmt.Errorf("webp: canvas %dx%d too large", canvasW, canvasH)
	}

	var body bytes.Buffer
	body.WriteString("WEBP")

	flags := byte(vp8xFlagAnimation)
	if anyAlpha {
		flags |= vp8xFlagAlpha
	}
	vp8x := make([]byte, 10)
	vp8x[0] = flags
	put24(vp8x[4:7], uint32(canvasW-1))
	put24(vp8x[7:10], uint32(canvasH-1))
	writeChunk(&body, "VP8X", vp8x)

	animPayload := make([]byte, 6)
	bg := opts.Background
	animPayload[0], animPayload[1], animPayload[2], animPayload[3] = bg.B, bg.G, bg.R, bg.A
	binary.LittleEndian.PutUint16(animPayload[4:6], uint16(clampInt(opts.LoopCount, 0, 0xFFFF)))
	writeChunk(&body, "ANIM", animPayload)

	for i, s := range stills {
		var frame bytes.Buffer
		hdr := make([]byte, 16)
		// offsets are stored halved; frames are anchored at the origin
		put24(hdr[6:9], uint32(s.width-1))
		put24(hdr[9:12], uint32(s.height-1))
		put24(hdr[12:15], uint32(frames[i].DurationMS))
		hdr[15] = anmfNoBlend
		if s.width < canvasW || s.height < canvasH {
			hdr[15] |= anmfDisposeBackground
		}
		frame.Write(hdr)
		for _, c := range s.chunks {
			writeChunk(&frame, c.fourCC, c.payload)
		}
		writeChunk(&body, "ANMF", frame.Bytes())
	}

	out := make([]byte, 0, 8+body.Len())
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(body.Len()))
	out = append(out, body.Bytes()...)

	if err := CheckAnimationFlags(out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckAnimationFlags verifies that animation chunks and the VP8X animation
// bit appear together: never one without the other.
func CheckAnimationFlags(data []byte) error {
	scan, err := scanWebP(data, len(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputValidation, err)
	}
	return scan.consistency()
}

type webpScan struct {
	hasVP8X   bool
	animFlag  bool
	hasANIM   bool
	frames    int
	width     int
	height    int
	truncated bool
}

func (s webpScan) animated() bool { return s.hasANIM || s.frames > 0 }

func (s webpScan) consistency() error {
	if s.animated() && !s.animFlag {
		return fmt.Errorf("%w: animation chunks present but VP8X animation flag unset", ErrOutputValidation)
	}
	if s.animFlag && !s.animated() && !s.truncated {
		return fmt.Errorf("%w: VP8X animation flag set without ANIM/ANMF chunks", ErrOutputValidation)
	}
	if s.frames > 0 && !s.hasANIM {
		return fmt.Errorf("%w: ANMF frames without ANIM chunk", ErrOutputValidation)
	}
	return nil
}

// scanWebP walks top-level chunks within the first limit bytes.
func scanWebP(data []byte, limit int) (webpScan, error) {
	var s webpScan
	prefix := data
	if limit < len(prefix) {
		prefix = prefix[:limit]
		s.truncated = true
	}
	// A bounded prefix may cut the last chunk; only header damage is fatal then.
	err := walkChunks(prefix, func(c riffChunk) bool {
		switch c.fourCC {
		case "VP8X":
			s.hasVP8X = true
			if len(c.payload) >= 10 {
				s.animFlag = c.payload[0]&vp8xFlagAnimation != 0
				s.width = 1 + int(get24(c.payload[4:7]))
				s.height = 1 + int(get24(c.payload[7:10]))
			}
		case "ANIM":
			s.hasANIM = true
		case "ANMF":
			s.frames++
		case "VP8 ", "VP8L":
			if s.width == 0 {
				if w, h, _, err := bitstreamSize(c); err == nil {
					s.width, s.height = w, h
				}
			}
		}
		return true
	})
	if err != nil && !(s.truncated && len(prefix) >= 12) {
		return s, err
	}
	return s, nil
}

func writeChunk(buf *bytes.Buffer, fourCC string, payload []byte) {
	var hdr [8]byte
	copy(hdr[:4], fourCC)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
	buf.Write(hdr[:])
	buf.Write(payload)
	if len(payload)&1 == 1 {
		buf.WriteByte(0)
	}
}

func put24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func get24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
