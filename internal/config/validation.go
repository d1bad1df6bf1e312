// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the fully merged configuration. All violations are reported together.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if cfg.DataDir == "" {
		add("dataDir must not be empty")
	}
	if strings.TrimSpace(cfg.FFmpeg.Bin) == "" {
		add("ffmpeg.bin must not be empty")
	}

	switch cfg.Capabilities.Store {
	case "file":
	case "redis":
		if cfg.Capabilities.Redis.Addr == "" {
			add("capabilities.redis.addr is required for the redis store")
		}
	default:
		add("capabilities.store %q is not one of file, redis", cfg.Capabilities.Store)
	}
	if cfg.Capabilities.QueryTimeout <= 0 {
		add("capabilities.queryTimeout must be positive")
	}

	c := cfg.Conversion
	if c.TargetFPS <= 0 || c.TargetFPS > 60 {
		add("conversion.targetFps must be in (0, 60], got %v", c.TargetFPS)
	}
	if c.MaxFrames < 1 {
		add("conversion.maxFrames must be at least 1")
	}
	if c.MaxDimension < 16 {
		add("conversion.maxDimension must be at least 16")
	}
	if c.Quality < 1 || c.Quality > 100 {
		add("conversion.quality must be in [1, 100]")
	}
	if c.Loop < 0 || c.Loop > 0xFFFF {
		add("conversion.loop must be in [0, 65535]")
	}
	if c.DownsampleThreshold < 1 {
		add("conversion.downsampleThreshold must be >= 1")
	}
	if c.ChunkMin < 1 || c.ChunkMax < c.ChunkMin {
		add("conversion chunk bounds [%d, %d] are invalid", c.ChunkMin, c.ChunkMax)
	}
	if c.MinFrameMs < 1 {
		add("conversion.minFrameMs must be at least 1")
	}
	if c.SampleSlack < 0 {
		add("conversion.sampleSlack must not be negative")
	}

	m := cfg.Modules
	if m.HealthSuccessStep < 0 || m.HealthSuccessStep > 100 {
		add("modules.healthSuccessStep must be in [0, 100]")
	}
	if m.HealthFailureStep < 0 || m.HealthFailureStep > 100 {
		add("modules.healthFailureStep must be in [0, 100]")
	}
	if m.MaxBytes <= 0 {
		add("modules.maxBytes must be positive")
	}
	seen := make(map[string]struct{}, len(m.Providers))
	for i, p := range m.Providers {
		if p.Name == "" {
			add("modules.providers[%d].name must not be empty", i)
		}
		if _, dup := seen[p.Name]; dup {
			add("modules.providers[%d]: duplicate provider %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("modules.providers[%d].baseUrl %q must be an absolute http(s) URL", i, p.BaseURL)
		}
		if p.Timeout <= 0 {
			add("modules.providers[%d].timeout must be positive", i)
		}
	}
	if m.FFmpeg.Enabled && (m.FFmpeg.Package == "" || m.FFmpeg.Version == "") {
		add("modules.ffmpeg requires package and version when enabled")
	}

	if cfg.Diagnostics.Addr != "" && cfg.Diagnostics.RateLimit < 1 {
		add("diagnostics.rateLimit must be at least 1")
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Exporter != "grpc" && cfg.Telemetry.Exporter != "http" {
			add("telemetry.exporter %q is not one of grpc, http", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate must be in [0, 1]")
		}
	}

	return errors.Join(errs...)
}
