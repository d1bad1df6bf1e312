// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package demux

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func u16b(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32b(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func u64b(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func box(typ string, parts ...[]byte) []byte {
	body := bytes.Join(parts, nil)
	out := u32b(uint32(8 + len(body)))
	out = append(out, typ...)
	return append(out, body...)
}

func fullBox(typ string, version byte, flags uint32, parts ...[]byte) []byte {
	vf := u32b(uint32(version)<<24 | flags)
	return box(typ, append([][]byte{vf}, parts...)...)
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

var (
	testSPS  = []byte{0x67, 0x64, 0x00, 0x1f}
	testPPS  = []byte{0x68, 0xee}
	testAVCC = bytes.Join([][]byte{
		{1, 0x64, 0x00, 0x1f, 0xff, 0xe1}, u16b(uint16(len(testSPS))), testSPS,
		{1}, u16b(uint16(len(testPPS))), testPPS,
	}, nil)
)

func avc1Entry(width, height uint16) []byte {
	head := make([]byte, 78)
	binary.BigEndian.PutUint16(head[6:8], 1)
	binary.BigEndian.PutUint16(head[24:26], width)
	binary.BigEndian.PutUint16(head[26:28], height)
	return box("avc1", head, box("avcC", testAVCC))
}

func hdlr(handler string) []byte {
	return fullBox("hdlr", 0, 0, u32b(0), []byte(handler), make([]byte, 12), []byte{0})
}

func mdhd(timescale, duration uint32) []byte {
	return fullBox("mdhd", 0, 0, u32b(0), u32b(0), u32b(timescale), u32b(duration), u16b(0x55c4), u16b(0))
}

func tkhd(id uint32) []byte {
	return fullBox("tkhd", 0, 3, u32b(0), u32b(0), u32b(id), make([]byte, 68))
}

func audioTrak() []byte {
	return box("trak", tkhd(2), box("mdia", mdhd(48000, 0), hdlr("soun"), box("minf")))
}

// progressiveMP4 holds four samples in two chunks after an ftyp, with the
// moov at the end. Sample times: 40ms apart, composition offset 40ms,
// edit list media_time 40ms.
func progressiveMP4(t *testing.T) (string, [][]byte) {
	samples := [][]byte{[]byte("key-0"), []byte("p-1"), []byte("key2"), []byte("p-3---")}
	ftyp := box("ftyp", []byte("isom"), u32b(0x200), []byte("isomavc1"))
	mdatPayload := bytes.Join(samples, nil)
	mdat := box("mdat", mdatPayload)
	dataStart := uint32(len(ftyp) + 8)
	chunk2 := dataStart + uint32(len(samples[0])+len(samples[1]))

	sizes := [][]byte{u32b(0), u32b(4)}
	for _, s := range samples {
		sizes = append(sizes, u32b(uint32(len(s))))
	}
	stbl := box("stbl",
		fullBox("stsd", 0, 0, u32b(1), avc1Entry(320, 240)),
		fullBox("stts", 0, 0, u32b(1), u32b(4), u32b(40)),
		fullBox("ctts", 0, 0, u32b(1), u32b(4), u32b(40)),
		fullBox("stsc", 0, 0, u32b(1), u32b(1), u32b(2), u32b(1)),
		fullBox("stsz", 0, 0, sizes...),
		fullBox("stco", 0, 0, u32b(2), u32b(dataStart), u32b(chunk2)),
		fullBox("stss", 0, 0, u32b(2), u32b(1), u32b(3)),
	)
	edts := box("edts", fullBox("elst", 0, 0, u32b(1), u32b(160), u32b(40), u32b(0x00010000)))
	video := box("trak", tkhd(1), edts, box("mdia", mdhd(1000, 160), hdlr("vide"), box("minf", stbl)))
	moov := box("moov", fullBox("mvhd", 0, 0, make([]byte, 96)), audioTrak(), video)

	file := bytes.Join([][]byte{ftyp, mdat, moov}, nil)
	return writeTemp(t, "progressive.mp4", file), samples
}

// fragmentedMP4 carries four samples in two moof/mdat pairs; the second
// traf has no tfdt and continues the decode clock.
func fragmentedMP4(t *testing.T) (string, [][]byte) {
	samples := [][]byte{[]byte("K0"), []byte("d1!"), []byte("K2.."), []byte("d3")}
	ftyp := box("ftyp", []byte("iso6"), u32b(0), []byte("iso6dash"))
	emptyStbl := box("stbl",
		fullBox("stsd", 0, 0, u32b(1), avc1Entry(640, 360)),
		fullBox("stts", 0, 0, u32b(0)),
		fullBox("stsc", 0, 0, u32b(0)),
		fullBox("stsz", 0, 0, u32b(0), u32b(0)),
		fullBox("stco", 0, 0, u32b(0)),
	)
	video := box("trak", tkhd(1), box("mdia", mdhd(1000, 0), hdlr("vide"), box("minf", emptyStbl)))
	trex := fullBox("trex", 0, 0, u32b(1), u32b(1), u32b(40), u32b(0), u32b(sampleIsNonSync))
	moov := box("moov", fullBox("mvhd", 0, 0, make([]byte, 96)), video, box("mvex", trex))

	fragment := func(seq uint32, withTFDT bool, pair [][]byte) []byte {
		build := func(dataOffset uint32) []byte {
			parts := [][]byte{fullBox("tfhd", 0, tfhdDefaultBaseIsMoof, u32b(1))}
			if withTFDT {
				parts = append(parts, fullBox("tfdt", 1, 0, u64b(0)))
			}
			trun := fullBox("trun", 0, trunDataOffset|trunFirstSampleFlags|trunSampleSize,
				u32b(uint32(len(pair))), u32b(dataOffset), u32b(0),
				u32b(uint32(len(pair[0]))), u32b(uint32(len(pair[1]))))
			parts = append(parts, trun)
			return box("moof", fullBox("mfhd", 0, 0, u32b(seq)), box("traf", parts...))
		}
		moofLen := len(build(0))
		return append(build(uint32(moofLen+8)), box("mdat", bytes.Join(pair, nil))...)
	}

	file := bytes.Join([][]byte{ftyp, moov, fragment(1, true, samples[:2]), fragment(2, false, samples[2:])}, nil)
	return writeTemp(t, "fragmented.mp4", file), samples
}

// EBML builders

func ebmlID(id uint32) []byte {
	switch {
	case id > 0xFFFFFF:
		return u32b(id)
	case id > 0xFFFF:
		return u32b(id)[1:]
	case id > 0xFF:
		return u16b(uint16(id))
	default:
		return []byte{byte(id)}
	}
}

func ebmlSize(n int) []byte {
	if n < 0x7F {
		return []byte{0x80 | byte(n)}
	}
	b := u64b(uint64(n))
	b[0] = 0x01
	return b
}

func el(id uint32, parts ...[]byte) []byte {
	body := bytes.Join(parts, nil)
	return append(append(ebmlID(id), ebmlSize(len(body))...), body...)
}

func elUnknown(id uint32, parts ...[]byte) []byte {
	out := append(ebmlID(id), 0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	return append(out, bytes.Join(parts, nil)...)
}

func elUint(id uint32, v uint64) []byte {
	b := u64b(v)
	for len(b) > 1 && b[0] == 0 {
		b = b[1:]
	}
	return el(id, b)
}

func elFloat(id uint32, v float64) []byte { return el(id, u64b(math.Float64bits(v))) }

func block(track byte, rel int16, flags byte, data string) []byte {
	return bytes.Join([][]byte{{0x80 | track}, u16b(uint16(rel)), {flags}, []byte(data)}, nil)
}

func webmHeader(docType string) []byte {
	return el(idEBML, elUint(0x4286, 1), el(idDocType, []byte(docType)))
}

func webmTracks() []byte {
	return el(idTracks,
		el(idTrackEntry, elUint(idTrackNumber, 2), elUint(idTrackType, 2), el(idCodecID, []byte("A_OPUS"))),
		el(idTrackEntry,
			elUint(idTrackNumber, 1),
			elUint(idTrackType, trackTypeVideo),
			el(idCodecID, []byte("V_VP9")),
			elUint(idDefaultDur, 40_000_000),
			el(idVideo, elUint(idPixelWidth, 64), elUint(idPixelHeight, 48)),
		),
	)
}

// sampleWebM mixes a known-size and an unknown-size cluster, an audio
// block, a Xiph-laced block and a BlockGroup.
func sampleWebM(t *testing.T) string {
	info := el(idInfo, elUint(idTimecodeScale, 1_000_000), elFloat(idDuration, 200))
	cluster1 := el(idCluster,
		elUint(idTimecode, 0),
		el(idSimpleBlock, block(1, 0, 0x80, "k0")),
		el(idSimpleBlock, block(2, 0, 0x80, "audio")),
		el(idSimpleBlock, block(1, 40, laceXiph, "\x01\x02d1l2")),
	)
	cluster2 := elUnknown(idCluster,
		elUint(idTimecode, 120),
		el(idBlockGroup,
			el(idBlock, block(1, 0, 0, "d3")),
			el(idReference, []byte{0xD8}),
			elUint(idBlockDur, 40),
		),
		el(idSimpleBlock, block(1, 40, 0x80, "k4")),
	)
	cues := el(0x1C53BB6B)
	file := bytes.Join([][]byte{
		webmHeader("webm"),
		elUnknown(idSegment, info, webmTracks(), cluster1, cluster2, cues),
	}, nil)
	return writeTemp(t, "sample.webm", file)
}

// lacedWebM holds a single cluster with one laced video block.
func lacedWebM(t *testing.T, flags byte, laced string) string {
	cluster := el(idCluster,
		elUint(idTimecode, 0),
		el(idSimpleBlock, block(1, 0, 0x80|flags, laced)),
	)
	file := bytes.Join([][]byte{
		webmHeader("webm"),
		elUnknown(idSegment, webmTracks(), cluster),
	}, nil)
	return writeTemp(t, "laced.webm", file)
}
