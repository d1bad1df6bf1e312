// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values shared with packages that need a zero-config fallback.
const (
	DefaultTargetFPS           = 10.0
	DefaultMaxFrames           = 150
	DefaultMaxDimension        = 480
	DefaultQuality             = 75
	DefaultSampleSlack         = time.Second
	DefaultDownsampleThreshold = 1.05
	DefaultChunkMin            = 10
	DefaultChunkMax            = 20
	DefaultMinFrameMs          = 8
	DefaultHealthSuccessStep   = 5
	DefaultHealthFailureStep   = 15
	DefaultModuleMaxBytes      = 128 << 20
)

// DefaultProviders returns the built-in CDN list in static priority order.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: "jsdelivr", BaseURL: "https://cdn.jsdelivr.net", Priority: 1, Timeout: 30 * time.Second, Enabled: true},
		{Name: "unpkg", BaseURL: "https://unpkg.com", Priority: 2, Timeout: 30 * time.Second, Enabled: true},
		{Name: "esm.sh", BaseURL: "https://esm.sh", Priority: 3, Timeout: 30 * time.Second, Enabled: true},
	}
}

// Defaults returns a fully populated configuration.
func Defaults() AppConfig {
	dataDir := defaultDataDir()
	return AppConfig{
		LogLevel: "info",
		DataDir:  dataDir,
		FFmpeg: FFmpegConfig{
			Bin:         "ffmpeg",
			VAAPIDevice: "/dev/dri/renderD128",
			KillTimeout: 5 * time.Second,
		},
		Capabilities: CapabilitiesConfig{
			Store:        "file",
			CacheTTL:     7 * 24 * time.Hour,
			QueryTimeout: 5 * time.Second,
			Redis:        RedisConfig{Addr: "localhost:6379"},
		},
		Conversion: ConversionConfig{
			TargetFPS:           DefaultTargetFPS,
			MaxFrames:           DefaultMaxFrames,
			MaxDimension:        DefaultMaxDimension,
			Quality:             DefaultQuality,
			Loop:                0,
			SampleSlack:         DefaultSampleSlack,
			DownsampleThreshold: DefaultDownsampleThreshold,
			ChunkMin:            DefaultChunkMin,
			ChunkMax:            DefaultChunkMax,
			MinFrameMs:          DefaultMinFrameMs,
			ProgressInterval:    100 * time.Millisecond,
		},
		Modules: ModulesConfig{
			Providers:         DefaultProviders(),
			HealthSuccessStep: DefaultHealthSuccessStep,
			HealthFailureStep: DefaultHealthFailureStep,
			MaxBytes:          DefaultModuleMaxBytes,
			CacheDir:          filepath.Join(dataDir, "modules"),
			FFmpeg: ModuleSpec{
				Enabled: false,
				Package: "@ffmpeg-installer/linux-x64",
				Version: "4.1.0",
				Subpath: "/ffmpeg",
			},
		},
		Diagnostics: DiagnosticsConfig{
			RateLimit: 120,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "clipanim")
	}
	return filepath.Join(os.TempDir(), "clipanim")
}
