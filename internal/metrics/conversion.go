// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics holds the Prometheus collectors exported by clipanim.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineDecisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipanim_pipeline_decision_total",
		Help: "Pipeline decisions by chosen pipeline, codec family and reason",
	}, []string{"pipeline", "family", "reason"})

	conversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipanim_conversion_duration_seconds",
		Help:    "Wall time of a conversion job by pipeline and outcome",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180},
	}, []string{"pipeline", "outcome"})

	encoderAttemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipanim_encoder_attempt_total",
		Help: "Encoder adapter attempts by adapter name and outcome",
	}, []string{"encoder", "outcome"})

	framesEncodedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipanim_frames_encoded_total",
		Help: "Frames encoded by adapter",
	}, []string{"encoder"})

	jobsSupersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipanim_jobs_superseded_total",
		Help: "Run contexts invalidated because a newer job claimed the same slot",
	})

	ffmpegProcessesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipanim_ffmpeg_processes_active",
		Help: "Currently running ffmpeg child processes",
	})
)

// RecordPipelineDecision counts one pipeline selection.
func RecordPipelineDecision(pipeline, family, reason string) {
	pipelineDecisionTotal.WithLabelValues(
		normalizePipeline(pipeline),
		normalizeFamily(family),
		normalizeLabel(reason),
	).Inc()
}

// ObserveConversion records a finished conversion. Outcome is "success", "cancelled" or "error".
func ObserveConversion(pipeline, outcome string, d time.Duration) {
	conversionDuration.WithLabelValues(normalizePipeline(pipeline), normalizeOutcome(outcome)).Observe(d.Seconds())
}

// RecordEncoderAttempt counts an adapter attempt ("success", "unavailable", "invalid_output", "error", "cancelled").
func RecordEncoderAttempt(encoder, outcome string) {
	encoderAttemptTotal.WithLabelValues(normalizeLabel(encoder), normalizeLabel(outcome)).Inc()
}

// AddFramesEncoded adds n frames to the adapter's counter.
func AddFramesEncoded(encoder string, n int) {
	if n <= 0 {
		return
	}
	framesEncodedTotal.WithLabelValues(normalizeLabel(encoder)).Add(float64(n))
}

// IncJobsSuperseded counts a superseded run context.
func IncJobsSuperseded() { jobsSupersededTotal.Inc() }

// FFmpegStarted marks a child process as running.
func FFmpegStarted() { ffmpegProcessesActive.Inc() }

// FFmpegExited undoes FFmpegStarted.
func FFmpegExited() { ffmpegProcessesActive.Dec() }

func normalizePipeline(p string) string {
	switch v := strings.ToLower(strings.TrimSpace(p)); v {
	case "hw_native_decode", "sw_native_decode", "full_transcode", "rejected":
		return v
	default:
		return "unknown"
	}
}

func normalizeFamily(f string) string {
	switch v := strings.ToLower(strings.TrimSpace(f)); v {
	case "h264", "hevc", "av1", "vp8", "vp9":
		return v
	default:
		return "other"
	}
}

func normalizeOutcome(o string) string {
	switch v := strings.ToLower(strings.TrimSpace(o)); v {
	case "success", "cancelled", "error":
		return v
	default:
		return "error"
	}
}

// normalizeLabel keeps label cardinality bounded to simple identifiers.
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > 48 {
		return "unknown"
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '-' && r != '.' {
			return "unknown"
		}
	}
	return s
}
