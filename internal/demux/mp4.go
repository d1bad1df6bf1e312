// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package demux

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// maxSamples bounds a track's sample index.
const maxSamples = 10_000_000

// trun/tfhd flag bits (ISO/IEC 14496-12 8.8).
const (
	tfhdBaseDataOffset      = 0x000001
	tfhdSampleDescIndex     = 0x000002
	tfhdDefaultDuration     = 0x000008
	tfhdDefaultSize         = 0x000010
	tfhdDefaultFlags        = 0x000020
	tfhdDefaultBaseIsMoof   = 0x020000
	trunDataOffset          = 0x000001
	trunFirstSampleFlags    = 0x000004
	trunSampleDuration      = 0x000100
	trunSampleSize          = 0x000200
	trunSampleFlags         = 0x000400
	trunSampleCompositionTO = 0x000800

	sampleIsNonSync = 0x00010000
)

// walkBoxes visits the child boxes of an in-memory payload.
func walkBoxes(data []byte, fn func(typ string, payload []byte) error) error {
	for off := 0; off < len(data); {
		if len(data)-off < 8 {
			return fmt.Errorf("%w: truncated box header at %d", ErrContainerParse, off)
		}
		size := uint64(binary.BigEndian.Uint32(data[off:]))
		typ := string(data[off+4 : off+8])
		hdr := uint64(8)
		switch size {
		case 0:
			size = uint64(len(data) - off)
		case 1:
			if len(data)-off < 16 {
				return fmt.Errorf("%w: truncated large box %q", ErrContainerParse, typ)
			}
			size = binary.BigEndian.Uint64(data[off+8:])
			hdr = 16
		}
		if size < hdr || size > uint64(len(data)-off) {
			return fmt.Errorf("%w: box %q size %d overruns parent", ErrContainerParse, typ, size)
		}
		if err := fn(typ, data[off+int(hdr):off+int(size)]); err != nil {
			return err
		}
		off += int(size)
	}
	return nil
}

// findBox returns the payload of the first child of the given type.
func findBox(data []byte, typ string) []byte {
	var out []byte
	_ = walkBoxes(data, func(t string, payload []byte) error {
		if t == typ && out == nil {
			out = payload
		}
		return nil
	})
	return out
}

// findPath descends through nested boxes.
func findPath(data []byte, path ...string) []byte {
	for _, typ := range path {
		data = findBox(data, typ)
		if data == nil {
			return nil
		}
	}
	return data
}

type mp4Trex struct {
	duration, size, flags uint32
}

type mp4Track struct {
	id          uint32
	handler     string
	timescale   uint32
	duration    uint64
	width       int
	height      int
	codec       string
	config      []byte
	stbl        []byte
	mediaOffset int64 // first edit's media_time, in timescale units
}

type mp4Fragment struct {
	offset  int64
	payload []byte
}

type mp4Parser struct {
	index []sampleRef
}

func (p *mp4Parser) indexed() int { return len(p.index) }

func (p *mp4Parser) parse(ctx context.Context, r *reader) (TrackInfo, error) {
	var moov []byte
	var frags []mp4Fragment
	for off := int64(0); off < r.size; {
		if ctx.Err() != nil {
			return TrackInfo{}, context.Cause(ctx)
		}
		hdr, err := r.peek(off, 16)
		if err != nil {
			return TrackInfo{}, err
		}
		if len(hdr) < 8 {
			break
		}
		size := int64(binary.BigEndian.Uint32(hdr))
		typ := string(hdr[4:8])
		hl := int64(8)
		switch size {
		case 0:
			size = r.size - off
		case 1:
			if len(hdr) < 16 {
				return TrackInfo{}, fmt.Errorf("%w: truncated large box %q", ErrContainerParse, typ)
			}
			size = int64(binary.BigEndian.Uint64(hdr[8:]))
			hl = 16
		}
		if size < hl || off+size > r.size {
			if typ == "mdat" && moov != nil {
				// truncated trailing media data; index what is addressable
				break
			}
			return TrackInfo{}, fmt.Errorf("%w: box %q at %d has bad size %d", ErrContainerParse, typ, off, size)
		}
		switch typ {
		case "moov":
			if moov, err = r.readAt(off+hl, int(size-hl)); err != nil {
				return TrackInfo{}, err
			}
		case "moof":
			payload, err := r.readAt(off+hl, int(size-hl))
			if err != nil {
				return TrackInfo{}, err
			}
			frags = append(frags, mp4Fragment{offset: off, payload: payload})
		}
		off += size
	}
	if moov == nil {
		return TrackInfo{}, fmt.Errorf("%w: no moov box", ErrContainerParse)
	}

	var video *mp4Track
	trex := map[uint32]mp4Trex{}
	err := walkBoxes(moov, func(typ string, payload []byte) error {
		switch typ {
		case "trak":
			if video != nil {
				return nil
			}
			t, err := parseTrak(payload)
			if err != nil {
				return err
			}
			if t.handler == "vide" {
				video = t
			}
		case "mvex":
			return walkBoxes(payload, func(typ string, payload []byte) error {
				if typ != "trex" {
					return nil
				}
				c := newCursor(payload)
				c.fullBox()
				id := c.u32()
				c.skip(4) // default_sample_description_index
				t := mp4Trex{duration: c.u32(), size: c.u32(), flags: c.u32()}
				if c.err != nil {
					return c.err
				}
				trex[id] = t
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return TrackInfo{}, err
	}
	if video == nil {
		return TrackInfo{}, ErrNoVideoTrack
	}

	var dts int64
	if video.stbl != nil {
		samples, end, err := progressiveSamples(video)
		if err != nil {
			return TrackInfo{}, err
		}
		p.index, dts = samples, end
	}
	for _, f := range frags {
		if dts, err = p.appendFragment(video, trex[video.id], f, dts); err != nil {
			return TrackInfo{}, err
		}
	}
	if len(p.index) == 0 {
		return TrackInfo{}, fmt.Errorf("%w: video track %d has no samples", ErrContainerParse, video.id)
	}
	p.applyTiming(video)
	return p.trackInfo(video), nil
}

func (p *mp4Parser) trackInfo(t *mp4Track) TrackInfo {
	info := TrackInfo{
		Codec:         t.codec,
		Width:         t.width,
		Height:        t.height,
		DecoderConfig: t.config,
		TrackID:       uint64(t.id),
	}
	if t.duration > 0 && t.timescale > 0 {
		info.Duration = time.Duration(float64(t.duration) / float64(t.timescale) * float64(time.Second))
	}
	first, last := p.index[0], p.index[len(p.index)-1]
	if span := last.dtsUS + last.durUS - first.dtsUS; span > 0 {
		if info.Duration == 0 {
			info.Duration = time.Duration(span) * time.Microsecond
		}
		info.FrameRate = float64(len(p.index)) / (float64(span) / 1e6)
	}
	return info
}

// applyTiming shifts timestamps by the edit list offset so presentation starts near zero.
func (p *mp4Parser) applyTiming(t *mp4Track) {
	if t.mediaOffset <= 0 || t.timescale == 0 {
		return
	}
	shift := t.mediaOffset * 1_000_000 / int64(t.timescale)
	for i := range p.index {
		p.index[i].ptsUS -= shift
		p.index[i].dtsUS -= shift
	}
}

func parseTrak(trak []byte) (*mp4Track, error) {
	t := &mp4Track{}
	if tkhd := findBox(trak, "tkhd"); tkhd != nil {
		c := newCursor(tkhd)
		v, _ := c.fullBox()
		if v == 1 {
			c.skip(16)
		} else {
			c.skip(8)
		}
		t.id = c.u32()
	}
	mdia := findBox(trak, "mdia")
	if mdia == nil {
		return t, nil
	}
	if hdlr := findBox(mdia, "hdlr"); len(hdlr) >= 12 {
		t.handler = string(hdlr[8:12])
	}
	if t.handler != "vide" {
		return t, nil
	}
	if mdhd := findBox(mdia, "mdhd"); mdhd != nil {
		c := newCursor(mdhd)
		v, _ := c.fullBox()
		if v == 1 {
			c.skip(16)
			t.timescale = c.u32()
			t.duration = c.u64()
		} else {
			c.skip(8)
			t.timescale = c.u32()
			t.duration = uint64(c.u32())
		}
		if c.err != nil {
			return nil, c.err
		}
	}
	if t.timescale == 0 {
		return nil, fmt.Errorf("%w: video track %d has zero timescale", ErrContainerParse, t.id)
	}
	if elst := findPath(trak, "edts", "elst"); elst != nil {
		t.mediaOffset = firstEditMediaTime(elst)
	}

	t.stbl = findPath(mdia, "minf", "stbl")
	if t.stbl == nil {
		return nil, fmt.Errorf("%w: video track %d has no sample table", ErrContainerParse, t.id)
	}
	if err := t.parseSampleEntry(findBox(t.stbl, "stsd")); err != nil {
		return nil, err
	}
	return t, nil
}

func firstEditMediaTime(elst []byte) int64 {
	c := newCursor(elst)
	v, _ := c.fullBox()
	n := c.u32()
	for i := uint32(0); i < n && c.err == nil; i++ {
		var mediaTime int64
		if v == 1 {
			c.skip(8)
			mediaTime = int64(c.u64())
		} else {
			c.skip(4)
			mediaTime = int64(int32(c.u32()))
		}
		c.skip(4) // media rate
		if mediaTime >= 0 {
			return mediaTime
		}
	}
	return 0
}

// parseSampleEntry reads the first VisualSampleEntry of stsd.
func (t *mp4Track) parseSampleEntry(stsd []byte) error {
	if len(stsd) < 8 {
		return fmt.Errorf("%w: missing stsd", ErrContainerParse)
	}
	var entryType string
	var entry []byte
	err := walkBoxes(stsd[8:], func(typ string, payload []byte) error {
		if entry == nil {
			entryType, entry = typ, payload
		}
		return nil
	})
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: empty stsd", ErrContainerParse)
	}
	t.codec = entryType
	if len(entry) < 78 {
		return nil
	}
	t.width = int(binary.BigEndian.Uint16(entry[24:26]))
	t.height = int(binary.BigEndian.Uint16(entry[26:28]))

	children := entry[78:]
	switch entryType {
	case "avc1", "avc2", "avc3", "avc4":
		if t.config = findBox(children, "avcC"); t.config != nil {
			t.codec = avcCodec(entryType, t.config)
		}
	case "hvc1", "hev1":
		if t.config = findBox(children, "hvcC"); t.config != nil {
			t.codec = hevcCodec(entryType, t.config)
		}
	case "av01":
		if t.config = findBox(children, "av1C"); t.config != nil {
			t.codec = av1Codec(t.config)
		}
	case "vp08", "vp09":
		if t.config = findBox(children, "vpcC"); t.config != nil {
			t.codec = vpCodec(entryType, t.config)
		}
	}
	return nil
}

func toUS(v int64, timescale uint32) int64 {
	return v * 1_000_000 / int64(timescale)
}

// progressiveSamples resolves the stbl tables into sample locations. It
// returns the decode time following the last sample, in timescale units.
func progressiveSamples(t *mp4Track) ([]sampleRef, int64, error) {
	sizes, err := sampleSizes(t.stbl)
	if err != nil {
		return nil, 0, err
	}
	n := len(sizes)
	if n == 0 {
		return nil, 0, nil
	}

	offsets, err := chunkOffsets(t.stbl)
	if err != nil {
		return nil, 0, err
	}
	type stscEntry struct{ firstChunk, perChunk uint32 }
	var stsc []stscEntry
	if b := findBox(t.stbl, "stsc"); b != nil {
		c := newCursor(b)
		c.fullBox()
		cnt := c.u32()
		for i := uint32(0); i < cnt && c.err == nil; i++ {
			e := stscEntry{firstChunk: c.u32(), perChunk: c.u32()}
			c.skip(4)
			stsc = append(stsc, e)
		}
		if c.err != nil {
			return nil, 0, c.err
		}
	}
	if len(stsc) == 0 {
		return nil, 0, fmt.Errorf("%w: missing stsc", ErrContainerParse)
	}

	samples := make([]sampleRef, n)
	idx := 0
	for ci := 0; ci < len(offsets) && idx < n; ci++ {
		chunk := uint32(ci + 1)
		per := stsc[0].perChunk
		for _, e := range stsc {
			if e.firstChunk <= chunk {
				per = e.perChunk
			}
		}
		off := offsets[ci]
		for s := uint32(0); s < per && idx < n; s++ {
			samples[idx].offset = off
			samples[idx].size = int(sizes[idx])
			off += int64(sizes[idx])
			idx++
		}
	}
	if idx < n {
		return nil, 0, fmt.Errorf("%w: chunk table covers %d of %d samples", ErrContainerParse, idx, n)
	}

	// stts: decode deltas
	var dts int64
	if b := findBox(t.stbl, "stts"); b != nil {
		c := newCursor(b)
		c.fullBox()
		cnt := c.u32()
		idx = 0
		for i := uint32(0); i < cnt && c.err == nil; i++ {
			count, delta := c.u32(), int64(c.u32())
			for k := uint32(0); k < count && idx < n; k++ {
				samples[idx].dtsUS = toUS(dts, t.timescale)
				samples[idx].durUS = toUS(delta, t.timescale)
				dts += delta
				idx++
			}
		}
		if c.err != nil {
			return nil, 0, c.err
		}
	}

	// ctts: composition offsets (treated as signed for both versions)
	var cts []int64
	if b := findBox(t.stbl, "ctts"); b != nil {
		c := newCursor(b)
		c.fullBox()
		cnt := c.u32()
		for i := uint32(0); i < cnt && c.err == nil && len(cts) < n; i++ {
			count, off := c.u32(), int64(int32(c.u32()))
			for k := uint32(0); k < count && len(cts) < n; k++ {
				cts = append(cts, off)
			}
		}
	}
	for i := range samples {
		samples[i].ptsUS = samples[i].dtsUS
		if i < len(cts) {
			samples[i].ptsUS += toUS(cts[i], t.timescale)
		}
	}

	// stss: sync samples; absent means every sample is a key frame
	if b := findBox(t.stbl, "stss"); b != nil {
		c := newCursor(b)
		c.fullBox()
		cnt := c.u32()
		for i := uint32(0); i < cnt && c.err == nil; i++ {
			if num := c.u32(); num >= 1 && int(num) <= n {
				samples[num-1].key = true
			}
		}
	} else {
		for i := range samples {
			samples[i].key = true
		}
	}
	return samples, dts, nil
}

func sampleSizes(stbl []byte) ([]uint32, error) {
	if b := findBox(stbl, "stsz"); b != nil {
		c := newCursor(b)
		c.fullBox()
		fixed, count := c.u32(), c.u32()
		if c.err != nil {
			return nil, c.err
		}
		if count > maxSamples {
			return nil, fmt.Errorf("%w: %d samples", ErrContainerParse, count)
		}
		sizes := make([]uint32, count)
		for i := range sizes {
			if fixed != 0 {
				sizes[i] = fixed
			} else {
				sizes[i] = c.u32()
			}
		}
		return sizes, c.err
	}
	if b := findBox(stbl, "stz2"); b != nil {
		c := newCursor(b)
		c.fullBox()
		c.skip(3)
		field, count := c.u8(), c.u32()
		if c.err != nil {
			return nil, c.err
		}
		if count > maxSamples {
			return nil, fmt.Errorf("%w: %d samples", ErrContainerParse, count)
		}
		sizes := make([]uint32, count)
		for i := range sizes {
			switch field {
			case 4:
				if i%2 == 0 {
					if b := c.take(1); b != nil {
						sizes[i] = uint32(b[0] >> 4)
						if i+1 < len(sizes) {
							sizes[i+1] = uint32(b[0] & 0x0f)
						}
					}
				}
			case 8:
				sizes[i] = uint32(c.u8())
			case 16:
				sizes[i] = uint32(c.u16())
			default:
				return nil, fmt.Errorf("%w: stz2 field size %d", ErrContainerParse, field)
			}
		}
		return sizes, c.err
	}
	return nil, nil
}

func chunkOffsets(stbl []byte) ([]int64, error) {
	if b := findBox(stbl, "stco"); b != nil {
		c := newCursor(b)
		c.fullBox()
		cnt := c.u32()
		out := make([]int64, 0, min(int(cnt), c.remaining()/4))
		for i := uint32(0); i < cnt && c.err == nil; i++ {
			out = append(out, int64(c.u32()))
		}
		return out, c.err
	}
	if b := findBox(stbl, "co64"); b != nil {
		c := newCursor(b)
		c.fullBox()
		cnt := c.u32()
		out := make([]int64, 0, min(int(cnt), c.remaining()/8))
		for i := uint32(0); i < cnt && c.err == nil; i++ {
			out = append(out, int64(c.u64()))
		}
		return out, c.err
	}
	return nil, fmt.Errorf("%w: missing chunk offsets", ErrContainerParse)
}

// appendFragment indexes the runs of one moof belonging to t. dts is the
// running decode time in timescale units.
func (p *mp4Parser) appendFragment(t *mp4Track, defaults mp4Trex, f mp4Fragment, dts int64) (int64, error) {
	prevDataEnd := int64(-1)
	err := walkBoxes(f.payload, func(typ string, traf []byte) error {
		if typ != "traf" {
			return nil
		}
		tfhd := findBox(traf, "tfhd")
		if tfhd == nil {
			return fmt.Errorf("%w: traf without tfhd", ErrContainerParse)
		}
		c := newCursor(tfhd)
		_, flags := c.fullBox()
		id := c.u32()
		base := f.offset
		if flags&tfhdBaseDataOffset != 0 {
			base = int64(c.u64())
		} else if flags&tfhdDefaultBaseIsMoof == 0 && prevDataEnd >= 0 {
			base = prevDataEnd
		}
		if flags&tfhdSampleDescIndex != 0 {
			c.skip(4)
		}
		def := defaults
		if flags&tfhdDefaultDuration != 0 {
			def.duration = c.u32()
		}
		if flags&tfhdDefaultSize != 0 {
			def.size = c.u32()
		}
		if flags&tfhdDefaultFlags != 0 {
			def.flags = c.u32()
		}
		if c.err != nil {
			return c.err
		}

		if tfdt := findBox(traf, "tfdt"); tfdt != nil && id == t.id {
			tc := newCursor(tfdt)
			if v, _ := tc.fullBox(); v == 1 {
				dts = int64(tc.u64())
			} else {
				dts = int64(tc.u32())
			}
			if tc.err != nil {
				return tc.err
			}
		}

		dataPos := base
		return walkBoxes(traf, func(typ string, trun []byte) error {
			if typ != "trun" {
				return nil
			}
			c := newCursor(trun)
			_, tf := c.fullBox()
			count := c.u32()
			if tf&trunDataOffset != 0 {
				dataPos = base + int64(int32(c.u32()))
			}
			firstFlags, hasFirst := uint32(0), tf&trunFirstSampleFlags != 0
			if hasFirst {
				firstFlags = c.u32()
			}
			if c.err != nil {
				return c.err
			}
			if len(p.index)+int(count) > maxSamples {
				return fmt.Errorf("%w: too many samples", ErrContainerParse)
			}
			for i := uint32(0); i < count; i++ {
				dur, size, sflags, cto := def.duration, def.size, def.flags, int64(0)
				if tf&trunSampleDuration != 0 {
					dur = c.u32()
				}
				if tf&trunSampleSize != 0 {
					size = c.u32()
				}
				if tf&trunSampleFlags != 0 {
					sflags = c.u32()
				} else if i == 0 && hasFirst {
					sflags = firstFlags
				}
				if tf&trunSampleCompositionTO != 0 {
					cto = int64(int32(c.u32()))
				}
				if c.err != nil {
					return c.err
				}
				if id == t.id {
					p.index = append(p.index, sampleRef{
						offset: dataPos,
						size:   int(size),
						dtsUS:  toUS(dts, t.timescale),
						ptsUS:  toUS(dts+cto, t.timescale),
						durUS:  toUS(int64(dur), t.timescale),
						key:    sflags&sampleIsNonSync == 0,
					})
					dts += int64(dur)
				}
				dataPos += int64(size)
			}
			prevDataEnd = dataPos
			return nil
		})
	})
	return dts, err
}

func (p *mp4Parser) samples(_ *reader, _ zerolog.Logger) sampleSource {
	return &indexSource{refs: p.index}
}

// indexSource walks a prebuilt sample index.
type indexSource struct {
	refs []sampleRef
	pos  int
}

func (s *indexSource) next(context.Context) (sampleRef, error) {
	if s.pos >= len(s.refs) {
		return sampleRef{}, io.EOF
	}
	ref := s.refs[s.pos]
	s.pos++
	return ref, nil
}
