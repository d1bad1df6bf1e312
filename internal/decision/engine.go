// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package decision selects the conversion pipeline for an input.
package decision

import (
	"errors"
	"fmt"

	"github.com/ManuGH/clipanim/internal/capability"
	"github.com/ManuGH/clipanim/internal/container"
)

// ErrDecodingNotSupported rejects a job instead of routing it to an unusably slow path.
var ErrDecodingNotSupported = errors.New("decoding not supported")

type Pipeline string

const (
	PipelineHWNativeDecode Pipeline = "hw_native_decode"
	PipelineSWNativeDecode Pipeline = "sw_native_decode"
	PipelineFullTranscode  Pipeline = "full_transcode"
)

// NativeDecode reports whether the pipeline decodes demuxed samples in-process.
func (p Pipeline) NativeDecode() bool {
	return p == PipelineHWNativeDecode || p == PipelineSWNativeDecode
}

type Reason string

const (
	ReasonLegacyContainer      Reason = "legacy_container"
	ReasonContainerUnsupported Reason = "container_not_demuxable"
	ReasonNoNativeDecode       Reason = "native_decode_unavailable"
	ReasonAV1Unsupported       Reason = "av1_decode_unavailable"
	ReasonCodecUnsupported     Reason = "codec_decode_unavailable"
	ReasonCodecUnknown         Reason = "codec_unknown"
	ReasonHardwareAccelerated  Reason = "hardware_accelerated"
	ReasonSoftwareDecode       Reason = "software_decode"
)

type Input struct {
	Caps      capability.Capabilities
	Codec     string
	Container container.Format
}

type Output struct {
	Pipeline Pipeline
	Family   Family
	Reason   Reason
}

// SelectPipeline is pure: identical inputs always produce the identical
// pipeline or the identical error. Container overrides are checked before
// codec gating, and the AV1 rejection precedes generic gating.
func SelectPipeline(in Input) (Output, error) {
	family := ClassifyCodec(in.Codec)

	if in.Container.Legacy() {
		return Output{Pipeline: PipelineFullTranscode, Family: family, Reason: ReasonLegacyContainer}, nil
	}
	if !in.Container.Demuxable() {
		return Output{Pipeline: PipelineFullTranscode, Family: family, Reason: ReasonContainerUnsupported}, nil
	}

	if !in.Caps.NativeDecode {
		if family == FamilyAV1 {
			return Output{Family: family, Reason: ReasonAV1Unsupported}, reject(in.Codec)
		}
		return Output{Pipeline: PipelineFullTranscode, Family: family, Reason: ReasonNoNativeDecode}, nil
	}

	if family == FamilyAV1 && !in.Caps.AV1 {
		return Output{Family: family, Reason: ReasonAV1Unsupported}, reject(in.Codec)
	}

	switch family {
	case FamilyH264, FamilyHEVC, FamilyVP8, FamilyVP9:
		if !in.Caps.Decodes(string(family)) {
			return Output{Pipeline: PipelineFullTranscode, Family: family, Reason: ReasonCodecUnsupported}, nil
		}
	case FamilyAV1:
	default:
		return Output{Pipeline: PipelineFullTranscode, Family: family, Reason: ReasonCodecUnknown}, nil
	}

	if in.Caps.HardwareAccelerated {
		return Output{Pipeline: PipelineHWNativeDecode, Family: family, Reason: ReasonHardwareAccelerated}, nil
	}
	return Output{Pipeline: PipelineSWNativeDecode, Family: family, Reason: ReasonSoftwareDecode}, nil
}

func reject(codec string) error {
	return fmt.Errorf("%w: %s has no native decoder and full transcode is too slow", ErrDecodingNotSupported, codec)
}
