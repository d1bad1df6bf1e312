// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"github.com/ManuGH/clipanim/internal/anim"
	"github.com/ManuGH/clipanim/internal/decision"
)

// Kind is an encoding path.
type Kind string

const (
	// KindFrame encodes decoded frames one by one and muxes the stills.
	KindFrame Kind = "frame"
	// KindTranscode hands the whole input file to a single transcoder run.
	KindTranscode Kind = "transcode"
)

// PlanReason explains a plan choice in logs.
type PlanReason string

const (
	PlanReasonComplexCodec PlanReason = "complex_codec"
	PlanReasonSimpleCodec  PlanReason = "simple_codec"
	PlanReasonDefault      PlanReason = "default"
	PlanReasonGIF          PlanReason = "gif_palettised_in_process"
)

// Plan is the encoding path for a (format, codec) pair.
type Plan struct {
	Kind   Kind
	Reason PlanReason
}

// SelectPlan chooses between frame-by-frame encoding and a full transcode.
// For WebP, AV1, VP9 and HEVC go frame by frame to avoid a second transcode
// of a codec the host decodes directly; H.264 and VP8 are cheap to transcode
// in one pass. GIF output is always produced from decoded frames.
func SelectPlan(format anim.Format, codec string) Plan {
	if format == anim.FormatGIF {
		return Plan{Kind: KindFrame, Reason: PlanReasonGIF}
	}
	switch decision.ClassifyCodec(codec) {
	case decision.FamilyAV1, decision.FamilyVP9, decision.FamilyHEVC:
		return Plan{Kind: KindFrame, Reason: PlanReasonComplexCodec}
	case decision.FamilyH264, decision.FamilyVP8:
		return Plan{Kind: KindTranscode, Reason: PlanReasonSimpleCodec}
	default:
		return Plan{Kind: KindFrame, Reason: PlanReasonDefault}
	}
}
