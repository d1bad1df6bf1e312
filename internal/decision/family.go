// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package decision

import "strings"

// Family is a codec bitstream family independent of container.
type Family string

const (
	FamilyH264    Family = "h264"
	FamilyHEVC    Family = "hevc"
	FamilyAV1     Family = "av1"
	FamilyVP8     Family = "vp8"
	FamilyVP9     Family = "vp9"
	FamilyUnknown Family = "unknown"
)

// ClassifyCodec maps an RFC 6381 style codec string ("avc1.64001f",
// "av01.0.05M.08", "vp09.00.10.08") or a bare ffmpeg/Matroska name to its family.
func ClassifyCodec(codec string) Family {
	c := strings.ToLower(strings.TrimSpace(codec))
	// Matroska CodecIDs: V_MPEG4/ISO/AVC, V_MPEGH/ISO/HEVC, V_AV1, V_VP8, V_VP9
	c = strings.TrimPrefix(c, "v_")
	head, _, _ := strings.Cut(c, ".")

	switch head {
	case "avc1", "avc2", "avc3", "avc4", "h264", "mpeg4/iso/avc":
		return FamilyH264
	case "hvc1", "hev1", "hevc", "h265", "mpegh/iso/hevc":
		return FamilyHEVC
	case "av01", "av1":
		return FamilyAV1
	case "vp8", "vp08":
		return FamilyVP8
	case "vp9", "vp09":
		return FamilyVP9
	default:
		return FamilyUnknown
	}
}

// Known reports whether f is one of the recognised families.
func (f Family) Known() bool { return f != FamilyUnknown && f != "" }
