// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID       = "job_id"
	FieldOperationID = "operation_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldPipeline  = "pipeline"
	FieldPlan      = "plan"

	// Media fields
	FieldCodec      = "codec"
	FieldContainer  = "container"
	FieldFormat     = "format"
	FieldResolution = "resolution"
	FieldFPS        = "fps"
	FieldFrames     = "frames"
	FieldEncoder    = "encoder"
	FieldDevice     = "device"

	// Module loader fields
	FieldProvider = "provider"
	FieldModule   = "module"
	FieldHealth   = "health"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"
)
