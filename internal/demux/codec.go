// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package demux

import (
	"fmt"
	"math/bits"
	"strings"
)

// avcCodec renders "avc1.PPCCLL" from an AVCDecoderConfigurationRecord.
func avcCodec(fourCC string, avcC []byte) string {
	if len(avcC) < 4 {
		return fourCC
	}
	return fmt.Sprintf("%s.%02x%02x%02x", fourCC, avcC[1], avcC[2], avcC[3])
}

// hevcCodec renders the ISO/IEC 14496-15 Annex E form, e.g. "hvc1.1.6.L93.B0".
func hevcCodec(fourCC string, hvcC []byte) string {
	if len(hvcC) < 13 {
		return fourCC
	}
	space := hvcC[1] >> 6
	tier := "L"
	if hvcC[1]&0x20 != 0 {
		tier = "H"
	}
	profile := hvcC[1] & 0x1f
	compat := bits.Reverse32(uint32(hvcC[2])<<24 | uint32(hvcC[3])<<16 | uint32(hvcC[4])<<8 | uint32(hvcC[5]))
	level := hvcC[12]

	var sb strings.Builder
	sb.WriteString(fourCC)
	sb.WriteByte('.')
	if space > 0 {
		sb.WriteByte('A' + space - 1)
	}
	fmt.Fprintf(&sb, "%d.%x.%s%d", profile, compat, tier, level)

	constraints := hvcC[6:12]
	end := len(constraints)
	for end > 0 && constraints[end-1] == 0 {
		end--
	}
	for _, b := range constraints[:end] {
		fmt.Fprintf(&sb, ".%X", b)
	}
	return sb.String()
}

// av1Codec renders "av01.P.LLT.DD" from an AV1CodecConfigurationRecord.
func av1Codec(av1C []byte) string {
	if len(av1C) < 3 {
		return "av01"
	}
	profile := av1C[1] >> 5
	level := av1C[1] & 0x1f
	tier := "M"
	if av1C[2]&0x80 != 0 {
		tier = "H"
	}
	depth := 8
	if av1C[2]&0x40 != 0 {
		depth = 10
		if av1C[2]&0x20 != 0 {
			depth = 12
		}
	}
	return fmt.Sprintf("av01.%d.%02d%s.%02d", profile, level, tier, depth)
}

// vpCodec renders "vp09.PP.LL.DD" from a VPCodecConfigurationRecord (vpcC
// payload including its FullBox header).
func vpCodec(fourCC string, vpcC []byte) string {
	if len(vpcC) < 7 {
		return fourCC
	}
	return fmt.Sprintf("%s.%02d.%02d.%02d", fourCC, vpcC[4], vpcC[5], vpcC[6]>>4)
}

// NALConfig is the parameter-set part of an avcC or hvcC record.
type NALConfig struct {
	// LengthSize is the byte width of the NAL length prefix in each sample.
	LengthSize    int
	ParameterSets [][]byte
}

// ParseAVCConfig reads SPS and PPS units from an AVCDecoderConfigurationRecord.
func ParseAVCConfig(avcC []byte) (NALConfig, error) {
	c := newCursor(avcC)
	c.skip(4)
	cfg := NALConfig{LengthSize: int(c.u8()&0x03) + 1}
	numSPS := int(c.u8() & 0x1f)
	for i := 0; i < numSPS; i++ {
		cfg.ParameterSets = append(cfg.ParameterSets, c.take(int(c.u16())))
	}
	numPPS := int(c.u8())
	for i := 0; i < numPPS; i++ {
		cfg.ParameterSets = append(cfg.ParameterSets, c.take(int(c.u16())))
	}
	if c.err != nil {
		return NALConfig{}, fmt.Errorf("avcC: %w", c.err)
	}
	return cfg, nil
}

// ParseHEVCConfig reads VPS, SPS and PPS arrays from an HEVCDecoderConfigurationRecord.
func ParseHEVCConfig(hvcC []byte) (NALConfig, error) {
	c := newCursor(hvcC)
	c.skip(21)
	cfg := NALConfig{LengthSize: int(c.u8()&0x03) + 1}
	arrays := int(c.u8())
	for i := 0; i < arrays; i++ {
		c.skip(1) // completeness + NAL unit type
		n := int(c.u16())
		for j := 0; j < n; j++ {
			cfg.ParameterSets = append(cfg.ParameterSets, c.take(int(c.u16())))
		}
	}
	if c.err != nil {
		return NALConfig{}, fmt.Errorf("hvcC: %w", c.err)
	}
	return cfg, nil
}
