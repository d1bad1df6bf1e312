// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package capability determines which decode and encode backends this host supports.
package capability

import (
	"encoding/json"
	"time"
)

// CacheVersion tags persisted snapshots. Bump it when probing semantics change.
const CacheVersion = "capabilities.v2"

// Codec names used by DecoderSupported.
const (
	CodecH264 = "h264"
	CodecHEVC = "hevc"
	CodecAV1  = "av1"
	CodecVP8  = "vp8"
	CodecVP9  = "vp9"
)

// Codecs lists the probed codecs, hardware-heavy families first.
var Codecs = []string{CodecAV1, CodecHEVC, CodecVP9, CodecH264, CodecVP8}

// Capabilities is an immutable snapshot of host support.
type Capabilities struct {
	NativeDecode        bool      `json:"nativeDecode"`
	H264                bool      `json:"h264"`
	HEVC                bool      `json:"hevc"`
	AV1                 bool      `json:"av1"`
	VP8                 bool      `json:"vp8"`
	VP9                 bool      `json:"vp9"`
	WebPEncode          bool      `json:"webpEncode"`
	HardwareAccelerated bool      `json:"hardwareAccelerated"`
	ProbedAt            time.Time `json:"probedAt,omitempty"`
}

// Decodes returns the flag for codec; unknown codecs are false.
func (c Capabilities) Decodes(codec string) bool {
	switch codec {
	case CodecH264:
		return c.H264
	case CodecHEVC:
		return c.HEVC
	case CodecAV1:
		return c.AV1
	case CodecVP8:
		return c.VP8
	case CodecVP9:
		return c.VP9
	default:
		return false
	}
}

func (c *Capabilities) setDecodes(codec string, v bool) {
	switch codec {
	case CodecH264:
		c.H264 = v
	case CodecHEVC:
		c.HEVC = v
	case CodecAV1:
		c.AV1 = v
	case CodecVP8:
		c.VP8 = v
	case CodecVP9:
		c.VP9 = v
	}
}

// Features flattens the snapshot for metrics and diagnostics.
func (c Capabilities) Features() map[string]bool {
	return map[string]bool{
		"nativeDecode":        c.NativeDecode,
		"h264":                c.H264,
		"hevc":                c.HEVC,
		"av1":                 c.AV1,
		"vp8":                 c.VP8,
		"vp9":                 c.VP9,
		"webpEncode":          c.WebPEncode,
		"hardwareAccelerated": c.HardwareAccelerated,
	}
}

// Decode parses a persisted snapshot leniently. Missing or mistyped fields
// are false; ok is false only when data is not a JSON object at all.
func Decode(data []byte) (caps Capabilities, ok bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Capabilities{}, false
	}
	flag := func(key string) bool {
		var b bool
		if v, found := raw[key]; found && json.Unmarshal(v, &b) == nil {
			return b
		}
		return false
	}
	caps = Capabilities{
		NativeDecode:        flag("nativeDecode"),
		H264:                flag("h264"),
		HEVC:                flag("hevc"),
		AV1:                 flag("av1"),
		VP8:                 flag("vp8"),
		VP9:                 flag("vp9"),
		WebPEncode:          flag("webpEncode"),
		HardwareAccelerated: flag("hardwareAccelerated"),
	}
	if v, found := raw["probedAt"]; found {
		var ts time.Time
		if json.Unmarshal(v, &ts) == nil {
			caps.ProbedAt = ts
		}
	}
	return caps, true
}
