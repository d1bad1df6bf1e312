// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on conversion spans.
const (
	OperationIDKey = "clipanim.operation_id"
	JobSlotKey     = "clipanim.job_slot"

	ContainerKey = "media.container"
	CodecKey     = "media.codec"
	WidthKey     = "media.width"
	HeightKey    = "media.height"

	PipelineKey = "convert.pipeline"
	PlanKey     = "convert.plan"
	FormatKey   = "convert.format"
	EncoderKey  = "convert.encoder"
	FramesKey   = "convert.frames"

	ProviderKey = "module.provider"
	ModuleKey   = "module.name"

	ErrorTypeKey = "error.type"
)

// TrackAttributes describes the input video track.
func TrackAttributes(container, codec string, width, height int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ContainerKey, container),
		attribute.String(CodecKey, codec),
		attribute.Int(WidthKey, width),
		attribute.Int(HeightKey, height),
	}
}

// EncodeAttributes describes an encoder attempt.
func EncodeAttributes(encoder, format string, frames int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EncoderKey, encoder),
		attribute.String(FormatKey, format),
		attribute.Int(FramesKey, frames),
	}
}

// RecordError marks the span as failed with a coarse error type.
func RecordError(span trace.Span, err error, errType string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(ErrorTypeKey, errType))
	span.SetStatus(codes.Error, err.Error())
}
