// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package diagnostics

// Capability layer error codes
const (
	ErrProbePending      = "CAPABILITY_PROBE_PENDING" // No snapshot published yet
	ErrNoNativeDecode    = "NO_NATIVE_DECODE"         // ffmpeg missing or unusable for decode
	ErrNoCodecs          = "NO_DECODABLE_CODECS"      // Native decode present but no codec passed
	ErrWebPEncodeMissing = "WEBP_ENCODE_MISSING"      // libwebp not linked
)

// Encoder layer error codes
const (
	ErrNoFrameEncoder = "NO_FRAME_ENCODER"
	ErrNoTranscoder   = "NO_TRANSCODER"
)

// Module layer error codes
const (
	ErrNoProviders        = "NO_PROVIDERS_ENABLED"
	ErrProvidersUnhealthy = "PROVIDERS_UNHEALTHY" // Every enabled provider at health 0
	ErrProvidersDegraded  = "PROVIDERS_DEGRADED"
)

// ErrorMessages are the user-facing texts per code.
var ErrorMessages = map[string]string{
	ErrProbePending:      "Capabilities not detected yet",
	ErrNoNativeDecode:    "Native decode unavailable, every clip takes the full transcode path",
	ErrNoCodecs:          "No codec passed the decode probe",
	ErrWebPEncodeMissing: "ffmpeg has no WebP encoder",

	ErrNoFrameEncoder: "No frame encoder available",
	ErrNoTranscoder:   "No transcoder available",

	ErrNoProviders:        "No module provider enabled",
	ErrProvidersUnhealthy: "All module providers are failing",
	ErrProvidersDegraded:  "Some module providers are failing",
}

// SuggestedActions provides remediation guidance per error code.
var SuggestedActions = map[string][]string{
	ErrNoNativeDecode: {
		"Install ffmpeg or set ffmpeg.bin",
		"Enable modules.ffmpeg to fetch a static build",
	},
	ErrWebPEncodeMissing: {
		"Install an ffmpeg build with libwebp",
		"Enable the vips encoder",
	},
	ErrNoTranscoder: {
		"Install ffmpeg or enable modules.ffmpeg",
	},
	ErrProvidersUnhealthy: {
		"Check outbound network access to the CDN providers",
		"Review modules.providers base URLs",
	},
}
