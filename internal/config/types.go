// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "time"

// AppConfig is the complete runtime configuration of clipanim.
type AppConfig struct {
	LogLevel     string             `yaml:"logLevel"`
	DataDir      string             `yaml:"dataDir"`
	FFmpeg       FFmpegConfig       `yaml:"ffmpeg"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Conversion   ConversionConfig   `yaml:"conversion"`
	Modules      ModulesConfig      `yaml:"modules"`
	Diagnostics  DiagnosticsConfig  `yaml:"diagnostics"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`

	// Version is injected from the binary, never read from file.
	Version string `yaml:"-"`
}

// FFmpegConfig locates the ffmpeg binary and the VAAPI render node.
type FFmpegConfig struct {
	Bin         string        `yaml:"bin"`
	VAAPIDevice string        `yaml:"vaapiDevice"`
	KillTimeout time.Duration `yaml:"killTimeout"`
}

// CapabilitiesConfig controls probing and the persisted capability snapshot.
type CapabilitiesConfig struct {
	Store        string        `yaml:"store"` // "file" or "redis"
	CacheTTL     time.Duration `yaml:"cacheTTL"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
	Redis        RedisConfig   `yaml:"redis"`
}

// RedisConfig is only consulted when the capability store is "redis".
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ConversionConfig carries the default conversion parameters and tuning knobs.
type ConversionConfig struct {
	TargetFPS           float64       `yaml:"targetFps"`
	MaxFrames           int           `yaml:"maxFrames"`
	MaxDimension        int           `yaml:"maxDimension"`
	Quality             int           `yaml:"quality"`
	Loop                int           `yaml:"loop"`
	SampleSlack         time.Duration `yaml:"sampleSlack"`
	DownsampleThreshold float64       `yaml:"downsampleThreshold"`
	ChunkMin            int           `yaml:"chunkMin"`
	ChunkMax            int           `yaml:"chunkMax"`
	MinFrameMs          int           `yaml:"minFrameMs"`
	ProgressInterval    time.Duration `yaml:"progressInterval"`
}

// ProviderConfig describes one remote module source.
type ProviderConfig struct {
	Name     string        `yaml:"name"`
	BaseURL  string        `yaml:"baseUrl"`
	Priority int           `yaml:"priority"`
	Timeout  time.Duration `yaml:"timeout"`
	Enabled  bool          `yaml:"enabled"`
}

// ModuleSpec identifies an npm-published module.
type ModuleSpec struct {
	Enabled   bool   `yaml:"enabled"`
	Package   string `yaml:"package"`
	Version   string `yaml:"version"`
	Subpath   string `yaml:"subpath"`
	Integrity string `yaml:"integrity"`
}

// ModulesConfig configures the multi-source module loader.
type ModulesConfig struct {
	Providers         []ProviderConfig `yaml:"providers"`
	HealthSuccessStep int              `yaml:"healthSuccessStep"`
	HealthFailureStep int              `yaml:"healthFailureStep"`
	MaxBytes          int64            `yaml:"maxBytes"`
	CacheDir          string           `yaml:"cacheDir"`
	FFmpeg            ModuleSpec       `yaml:"ffmpeg"`
}

// DiagnosticsConfig configures the optional debug HTTP listener.
type DiagnosticsConfig struct {
	Addr      string `yaml:"addr"`
	RateLimit int    `yaml:"rateLimit"` // requests per minute per IP
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}
