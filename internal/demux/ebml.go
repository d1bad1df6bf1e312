// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package demux

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/clipanim/internal/log"
)

// Element IDs (with their length marker bits, as written in the file).
const (
	idEBML          = 0x1A45DFA3
	idDocType       = 0x4282
	idSegment       = 0x18538067
	idInfo          = 0x1549A966
	idTimecodeScale = 0x2AD7B1
	idDuration      = 0x4489
	idTracks        = 0x1654AE6B
	idTrackEntry    = 0xAE
	idTrackNumber   = 0xD7
	idTrackType     = 0x83
	idCodecID       = 0x86
	idCodecPrivate  = 0x63A2
	idDefaultDur    = 0x23E383
	idVideo         = 0xE0
	idPixelWidth    = 0xB0
	idPixelHeight   = 0xBA
	idCluster       = 0x1F43B675
	idTimecode      = 0xE7
	idSimpleBlock   = 0xA3
	idBlockGroup    = 0xA0
	idBlock         = 0xA1
	idBlockDur      = 0x9B
	idReference     = 0xFB
	idVoid          = 0xEC
	idCRC32         = 0xBF
	idPosition      = 0xA7
	idPrevSize      = 0xAB
	idSilentTracks  = 0x5854
	idEncrypted     = 0xAF

	trackTypeVideo        = 1
	defaultTimecodeScale  = 1_000_000
	maxEBMLHeader         = 12
	maxMetadataElement    = 16 << 20
	maxBlockHeader        = 16
	simpleBlockKeyframe   = 0x80
	blockLacingMask       = 0x06
	laceXiph              = 0x02
	laceFixed             = 0x04
	laceEBML              = 0x06
	maxLaceHeader         = 64 << 10
	ebmlUnknownSizeMarker = -1
)

// clusterChildren ends an unknown-size cluster at the first foreign element.
var clusterChildren = map[uint32]bool{
	idTimecode: true, idSimpleBlock: true, idBlockGroup: true, idVoid: true, idCRC32: true,
	idPosition: true, idPrevSize: true, idSilentTracks: true, idEncrypted: true,
}

// readVint decodes an EBML variable-length integer. keepMarker retains the
// length marker bit (IDs); sizes strip it. An all-ones size reports -1.
func readVint(b []byte, keepMarker bool) (val int64, n int, err error) {
	if len(b) == 0 || b[0] == 0 {
		return 0, 0, fmt.Errorf("%w: invalid vint", ErrContainerParse)
	}
	n = 1
	for mask := byte(0x80); b[0]&mask == 0; mask >>= 1 {
		n++
	}
	if n > 8 || len(b) < n {
		return 0, 0, fmt.Errorf("%w: truncated vint", ErrContainerParse)
	}
	first := b[0]
	allOnes := first&(0xFF>>n) == 0xFF>>n
	if !keepMarker {
		first &= 0xFF >> n
	}
	val = int64(first)
	for i := 1; i < n; i++ {
		val = val<<8 | int64(b[i])
		allOnes = allOnes && b[i] == 0xFF
	}
	if !keepMarker && allOnes {
		return ebmlUnknownSizeMarker, n, nil
	}
	return val, n, nil
}

// element is a parsed element header.
type element struct {
	id      uint32
	offset  int64 // start of the header
	dataOff int64
	size    int64 // ebmlUnknownSizeMarker when unknown
}

func (e element) end() int64 { return e.dataOff + e.size }

func readElement(r *reader, off int64) (element, error) {
	hdr, err := r.peek(off, maxEBMLHeader)
	if err != nil {
		return element{}, err
	}
	id, idLen, err := readVint(hdr, true)
	if err != nil {
		return element{}, err
	}
	if idLen > 4 {
		return element{}, fmt.Errorf("%w: element id of %d bytes", ErrContainerParse, idLen)
	}
	size, sizeLen, err := readVint(hdr[idLen:], false)
	if err != nil {
		return element{}, err
	}
	return element{id: uint32(id), offset: off, dataOff: off + int64(idLen+sizeLen), size: size}, nil
}

// walkElements visits the children of an in-memory master element.
func walkElements(data []byte, fn func(id uint32, payload []byte) error) error {
	for off := 0; off < len(data); {
		id, idLen, err := readVint(data[off:], true)
		if err != nil {
			return err
		}
		size, sizeLen, err := readVint(data[off+idLen:], false)
		if err != nil {
			return err
		}
		start := off + idLen + sizeLen
		if size < 0 || int64(start)+size > int64(len(data)) {
			return fmt.Errorf("%w: element 0x%X overruns parent", ErrContainerParse, id)
		}
		if err := fn(uint32(id), data[start:start+int(size)]); err != nil {
			return err
		}
		off = start + int(size)
	}
	return nil
}

func ebmlUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func ebmlFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
	return 0
}

type ebmlTrack struct {
	number     uint64
	codecID    string
	private    []byte
	defaultDur uint64 // ns
	width      int
	height     int
}

type ebmlParser struct {
	segmentEnd    int64
	firstCluster  int64
	timecodeScale uint64
	track         ebmlTrack
}

func (p *ebmlParser) indexed() int { return 0 }

func (p *ebmlParser) parse(ctx context.Context, r *reader) (TrackInfo, error) {
	head, err := readElement(r, 0)
	if err != nil || head.id != idEBML || head.size < 0 {
		return TrackInfo{}, fmt.Errorf("%w: missing EBML header", ErrContainerParse)
	}
	body, err := r.readAt(head.dataOff, int(head.size))
	if err != nil {
		return TrackInfo{}, err
	}
	docType := ""
	_ = walkElements(body, func(id uint32, payload []byte) error {
		if id == idDocType {
			docType = string(payload)
		}
		return nil
	})
	if docType != "webm" && docType != "matroska" {
		return TrackInfo{}, fmt.Errorf("%w: unsupported DocType %q", ErrContainerParse, docType)
	}

	seg, err := readElement(r, head.end())
	if err != nil || seg.id != idSegment {
		return TrackInfo{}, fmt.Errorf("%w: missing Segment", ErrContainerParse)
	}
	p.segmentEnd = r.size
	if seg.size >= 0 && seg.end() < r.size {
		p.segmentEnd = seg.end()
	}
	p.timecodeScale = defaultTimecodeScale
	p.firstCluster = -1

	var duration float64
	var tracks []byte
	for off := seg.dataOff; off < p.segmentEnd; {
		if ctx.Err() != nil {
			return TrackInfo{}, context.Cause(ctx)
		}
		el, err := readElement(r, off)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return TrackInfo{}, err
		}
		switch el.id {
		case idCluster:
			if p.firstCluster < 0 {
				p.firstCluster = el.offset
			}
		case idInfo, idTracks:
			if el.size < 0 || el.size > maxMetadataElement {
				return TrackInfo{}, fmt.Errorf("%w: element 0x%X has unusable size", ErrContainerParse, el.id)
			}
			data, err := r.readAt(el.dataOff, int(el.size))
			if err != nil {
				return TrackInfo{}, err
			}
			if el.id == idTracks {
				tracks = data
			} else {
				_ = walkElements(data, func(id uint32, payload []byte) error {
					switch id {
					case idTimecodeScale:
						if v := ebmlUint(payload); v > 0 {
							p.timecodeScale = v
						}
					case idDuration:
						duration = ebmlFloat(payload)
					}
					return nil
				})
			}
		}
		if tracks != nil && p.firstCluster >= 0 {
			break
		}
		if el.size < 0 {
			if el.id != idCluster {
				return TrackInfo{}, fmt.Errorf("%w: element 0x%X of unknown size", ErrContainerParse, el.id)
			}
			// step into an unknown-size cluster; its children are skipped one by one
			off = el.dataOff
			continue
		}
		off = el.end()
	}
	if tracks == nil {
		return TrackInfo{}, fmt.Errorf("%w: no Tracks element", ErrContainerParse)
	}
	if err := p.pickTrack(tracks); err != nil {
		return TrackInfo{}, err
	}
	if p.firstCluster < 0 {
		return TrackInfo{}, fmt.Errorf("%w: no clusters", ErrContainerParse)
	}

	t := p.track
	info := TrackInfo{
		Codec:         matroskaCodec(t.codecID, t.private),
		Width:         t.width,
		Height:        t.height,
		DecoderConfig: t.private,
		TrackID:       t.number,
		Duration:      time.Duration(duration * float64(p.timecodeScale)),
	}
	if t.defaultDur > 0 {
		info.FrameRate = 1e9 / float64(t.defaultDur)
	}
	return info, nil
}

func (p *ebmlParser) pickTrack(tracks []byte) error {
	found := false
	err := walkElements(tracks, func(id uint32, entry []byte) error {
		if id != idTrackEntry || found {
			return nil
		}
		var t ebmlTrack
		var typ uint64
		err := walkElements(entry, func(id uint32, payload []byte) error {
			switch id {
			case idTrackNumber:
				t.number = ebmlUint(payload)
			case idTrackType:
				typ = ebmlUint(payload)
			case idCodecID:
				t.codecID = strings.TrimRight(string(payload), "\x00")
			case idCodecPrivate:
				t.private = payload
			case idDefaultDur:
				t.defaultDur = ebmlUint(payload)
			case idVideo:
				return walkElements(payload, func(id uint32, v []byte) error {
					switch id {
					case idPixelWidth:
						t.width = int(ebmlUint(v))
					case idPixelHeight:
						t.height = int(ebmlUint(v))
					}
					return nil
				})
			}
			return nil
		})
		if err != nil {
			return err
		}
		if typ == trackTypeVideo {
			p.track, found = t, true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNoVideoTrack
	}
	return nil
}

// matroskaCodec maps a CodecID to the codec string used elsewhere.
func matroskaCodec(codecID string, private []byte) string {
	switch codecID {
	case "V_VP8":
		return "vp8"
	case "V_VP9":
		return "vp9"
	case "V_AV1":
		if len(private) >= 4 {
			return av1Codec(private)
		}
		return "av1"
	case "V_MPEG4/ISO/AVC":
		return avcCodec("avc1", private)
	case "V_MPEGH/ISO/HEVC":
		return hevcCodec("hvc1", private)
	}
	return strings.ToLower(codecID)
}

func (p *ebmlParser) samples(r *reader, logger zerolog.Logger) sampleSource {
	return &clusterSource{p: p, r: r, off: p.firstCluster, logger: logger}
}

// clusterSource walks clusters lazily, one element header at a time.
type clusterSource struct {
	p      *ebmlParser
	r      *reader
	logger zerolog.Logger

	off        int64
	inCluster  bool
	clusterEnd int64 // -1 while the cluster size is unknown
	clusterTC  int64
	pending    []sampleRef
	lacedSeen  bool
}

func (s *clusterSource) next(ctx context.Context) (sampleRef, error) {
	for {
		if len(s.pending) > 0 {
			ref := s.pending[0]
			s.pending = s.pending[1:]
			return ref, nil
		}
		if ctx.Err() != nil {
			return sampleRef{}, context.Cause(ctx)
		}
		if s.inCluster && s.clusterEnd >= 0 && s.off >= s.clusterEnd {
			s.inCluster = false
		}
		if s.off >= s.p.segmentEnd {
			return sampleRef{}, io.EOF
		}
		el, err := readElement(s.r, s.off)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sampleRef{}, io.EOF
			}
			return sampleRef{}, err
		}

		if s.inCluster && s.clusterEnd < 0 && !clusterChildren[el.id] {
			s.inCluster = false
		}
		if el.id == idCluster {
			s.inCluster = true
			s.clusterTC = 0
			s.clusterEnd = -1
			if el.size >= 0 {
				s.clusterEnd = el.end()
			}
			s.off = el.dataOff
			continue
		}
		if el.size < 0 {
			return sampleRef{}, fmt.Errorf("%w: element 0x%X of unknown size inside segment", ErrContainerParse, el.id)
		}
		s.off = el.end()
		if !s.inCluster {
			continue
		}

		switch el.id {
		case idTimecode:
			b, err := s.r.readAt(el.dataOff, int(min(el.size, 8)))
			if err != nil {
				return sampleRef{}, err
			}
			s.clusterTC = int64(ebmlUint(b))
		case idSimpleBlock:
			refs, err := s.block(el.dataOff, el.size, nil)
			if err != nil {
				return sampleRef{}, err
			}
			s.pending = refs
		case idBlockGroup:
			if el.size > maxMetadataElement {
				return sampleRef{}, fmt.Errorf("%w: oversized BlockGroup", ErrContainerParse)
			}
			refs, err := s.blockGroup(el)
			if err != nil {
				return sampleRef{}, err
			}
			s.pending = refs
		}
	}
}

// blockGroup reads the group's small children and locates its Block.
func (s *clusterSource) blockGroup(el element) ([]sampleRef, error) {
	var blockOff, blockSize int64 = -1, 0
	hasReference := false
	var blockDur uint64
	for off := el.dataOff; off < el.end(); {
		child, err := readElement(s.r, off)
		if err != nil {
			return nil, err
		}
		if child.size < 0 || child.end() > el.end() {
			return nil, fmt.Errorf("%w: bad BlockGroup child", ErrContainerParse)
		}
		switch child.id {
		case idBlock:
			blockOff, blockSize = child.dataOff, child.size
		case idReference:
			hasReference = true
		case idBlockDur:
			b, err := s.r.readAt(child.dataOff, int(min(child.size, 8)))
			if err != nil {
				return nil, err
			}
			blockDur = ebmlUint(b)
		}
		off = child.end()
	}
	if blockOff < 0 {
		return nil, nil
	}
	key := !hasReference
	refs, err := s.block(blockOff, blockSize, &key)
	if err != nil {
		return nil, err
	}
	// BlockDuration covers the whole block; laced frames keep DefaultDuration.
	if len(refs) == 1 && blockDur > 0 {
		refs[0].durUS = int64(blockDur*s.p.timecodeScale) / 1000
	}
	return refs, nil
}

// block parses a (Simple)Block header into one sampleRef per frame. Laced
// blocks are split; frames after the first are timed DefaultDuration apart.
// forceKey overrides the keyframe flag for Blocks, which carry
// keyframe-ness as the absence of ReferenceBlock.
func (s *clusterSource) block(off, size int64, forceKey *bool) ([]sampleRef, error) {
	hdr, err := s.r.readAt(off, int(min(size, maxBlockHeader)))
	if err != nil {
		return nil, err
	}
	track, n, err := readVint(hdr, false)
	if err != nil {
		return nil, err
	}
	if len(hdr) < n+3 {
		return nil, fmt.Errorf("%w: short block header", ErrContainerParse)
	}
	if uint64(track) != s.p.track.number {
		return nil, nil
	}
	rel := int64(int16(binary.BigEndian.Uint16(hdr[n : n+2])))
	flags := hdr[n+2]

	pts := (s.clusterTC + rel) * int64(s.p.timecodeScale) / 1000
	dur := int64(s.p.track.defaultDur) / 1000
	key := flags&simpleBlockKeyframe != 0
	if forceKey != nil {
		key = *forceKey
	}
	hdrLen := int64(n + 3)
	if flags&blockLacingMask == 0 {
		return []sampleRef{{
			offset: off + hdrLen,
			size:   int(size - hdrLen),
			ptsUS:  pts,
			dtsUS:  pts,
			durUS:  dur,
			key:    key,
		}}, nil
	}

	sizes, laceLen, err := s.laceSizes(off+hdrLen, size-hdrLen, flags&blockLacingMask)
	if err != nil {
		return nil, err
	}
	if len(sizes) > 1 && dur <= 0 {
		return nil, fmt.Errorf("%w: laced block on a track without DefaultDuration", ErrContainerParse)
	}
	if !s.lacedSeen {
		s.lacedSeen = true
		s.logger.Debug().
			Str(xglog.FieldEvent, "demux.laced_block").
			Uint64("track", uint64(track)).
			Int("frames", len(sizes)).
			Msg("splitting laced video block")
	}
	refs := make([]sampleRef, len(sizes))
	pos := off + hdrLen + laceLen
	for i, sz := range sizes {
		ts := pts + int64(i)*dur
		refs[i] = sampleRef{offset: pos, size: sz, ptsUS: ts, dtsUS: ts, durUS: dur, key: key && i == 0}
		pos += int64(sz)
	}
	return refs, nil
}

// laceSizes decodes a lace header starting at off. payload is the block size
// after the track/timecode/flags header. It returns the frame sizes and the
// length of the lace header.
func (s *clusterSource) laceSizes(off, payload int64, mode byte) ([]int, int64, error) {
	if payload < 1 {
		return nil, 0, fmt.Errorf("%w: empty laced block", ErrContainerParse)
	}
	hdr, err := s.r.readAt(off, int(min(payload, maxLaceHeader)))
	if err != nil {
		return nil, 0, err
	}
	count := int(hdr[0]) + 1
	sizes := make([]int, count)
	pos := 1
	var total int64
	errShort := fmt.Errorf("%w: truncated lace header", ErrContainerParse)

	switch mode {
	case laceFixed:
		rest := payload - 1
		if rest <= 0 || rest%int64(count) != 0 {
			return nil, 0, fmt.Errorf("%w: fixed lace of %d bytes does not split into %d frames", ErrContainerParse, rest, count)
		}
		for i := range sizes {
			sizes[i] = int(rest / int64(count))
		}
		return sizes, 1, nil
	case laceXiph:
		for i := 0; i < count-1; i++ {
			v := 0
			for {
				if pos >= len(hdr) {
					return nil, 0, errShort
				}
				b := hdr[pos]
				pos++
				v += int(b)
				if b != 0xFF {
					break
				}
			}
			sizes[i] = v
			total += int64(v)
		}
	case laceEBML:
		if count > 1 {
			first, w, err := readVint(hdr[pos:], false)
			if err != nil || first < 0 {
				return nil, 0, errShort
			}
			pos += w
			sizes[0] = int(first)
			total = first
			prev := first
			for i := 1; i < count-1; i++ {
				raw, w, err := readVint(hdr[pos:], false)
				if err != nil || raw < 0 {
					return nil, 0, errShort
				}
				pos += w
				prev += raw - (int64(1)<<(7*w-1) - 1)
				if prev < 0 {
					return nil, 0, fmt.Errorf("%w: negative lace size", ErrContainerParse)
				}
				sizes[i] = int(prev)
				total += prev
			}
		}
	}

	last := payload - int64(pos) - total
	if last <= 0 {
		return nil, 0, fmt.Errorf("%w: lace sizes overrun block", ErrContainerParse)
	}
	sizes[count-1] = int(last)
	return sizes, int64(pos), nil
}
