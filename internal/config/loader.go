// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > File > Defaults.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every environment key the loader consulted.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. An empty configPath skips the file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configured file path (may be empty).
func (l *Loader) Path() string { return l.configPath }

// Load builds the configuration: defaults, strict YAML file, env overrides, validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	defaultCacheDir := cfg.Modules.CacheDir

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	// Follow a relocated data dir unless the module cache was set explicitly.
	if cfg.Modules.CacheDir == defaultCacheDir || cfg.Modules.CacheDir == "" {
		cfg.Modules.CacheDir = filepath.Join(cfg.DataDir, "modules")
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file on top of cfg. Unknown fields are fatal.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// empty file
			return nil
		}
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (l *Loader) key(name string) string {
	k := EnvPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = ParseString(l.key("LOG_LEVEL"), cfg.LogLevel)
	cfg.DataDir = ParseString(l.key("DATA_DIR"), cfg.DataDir)

	cfg.FFmpeg.Bin = ParseString(l.key("FFMPEG_BIN"), cfg.FFmpeg.Bin)
	cfg.FFmpeg.VAAPIDevice = ParseString(l.key("VAAPI_DEVICE"), cfg.FFmpeg.VAAPIDevice)
	cfg.FFmpeg.KillTimeout = ParseDuration(l.key("FFMPEG_KILL_TIMEOUT"), cfg.FFmpeg.KillTimeout)

	cfg.Capabilities.Store = ParseString(l.key("CAPABILITY_STORE"), cfg.Capabilities.Store)
	cfg.Capabilities.CacheTTL = ParseDuration(l.key("CAPABILITY_CACHE_TTL"), cfg.Capabilities.CacheTTL)
	cfg.Capabilities.QueryTimeout = ParseDuration(l.key("CAPABILITY_QUERY_TIMEOUT"), cfg.Capabilities.QueryTimeout)
	cfg.Capabilities.Redis.Addr = ParseString(l.key("REDIS_ADDR"), cfg.Capabilities.Redis.Addr)
	cfg.Capabilities.Redis.Password = ParseString(l.key("REDIS_PASSWORD"), cfg.Capabilities.Redis.Password)
	cfg.Capabilities.Redis.DB = ParseInt(l.key("REDIS_DB"), cfg.Capabilities.Redis.DB)

	cfg.Conversion.TargetFPS = ParseFloat(l.key("TARGET_FPS"), cfg.Conversion.TargetFPS)
	cfg.Conversion.MaxFrames = ParseInt(l.key("MAX_FRAMES"), cfg.Conversion.MaxFrames)
	cfg.Conversion.MaxDimension = ParseInt(l.key("MAX_DIMENSION"), cfg.Conversion.MaxDimension)
	cfg.Conversion.Quality = ParseInt(l.key("QUALITY"), cfg.Conversion.Quality)
	cfg.Conversion.Loop = ParseInt(l.key("LOOP"), cfg.Conversion.Loop)
	cfg.Conversion.SampleSlack = ParseDuration(l.key("SAMPLE_SLACK"), cfg.Conversion.SampleSlack)
	cfg.Conversion.DownsampleThreshold = ParseFloat(l.key("DOWNSAMPLE_THRESHOLD"), cfg.Conversion.DownsampleThreshold)
	cfg.Conversion.ChunkMin = ParseInt(l.key("CHUNK_MIN"), cfg.Conversion.ChunkMin)
	cfg.Conversion.ChunkMax = ParseInt(l.key("CHUNK_MAX"), cfg.Conversion.ChunkMax)
	cfg.Conversion.MinFrameMs = ParseInt(l.key("MIN_FRAME_MS"), cfg.Conversion.MinFrameMs)
	cfg.Conversion.ProgressInterval = ParseDuration(l.key("PROGRESS_INTERVAL"), cfg.Conversion.ProgressInterval)

	cfg.Modules.HealthSuccessStep = ParseInt(l.key("HEALTH_SUCCESS_STEP"), cfg.Modules.HealthSuccessStep)
	cfg.Modules.HealthFailureStep = ParseInt(l.key("HEALTH_FAILURE_STEP"), cfg.Modules.HealthFailureStep)
	cfg.Modules.MaxBytes = ParseInt64(l.key("MODULE_MAX_BYTES"), cfg.Modules.MaxBytes)
	cfg.Modules.CacheDir = ParseString(l.key("MODULE_CACHE_DIR"), cfg.Modules.CacheDir)
	cfg.Modules.FFmpeg.Enabled = ParseBool(l.key("FFMPEG_MODULE_ENABLED"), cfg.Modules.FFmpeg.Enabled)
	cfg.Modules.FFmpeg.Version = ParseString(l.key("FFMPEG_MODULE_VERSION"), cfg.Modules.FFmpeg.Version)
	cfg.Modules.FFmpeg.Integrity = ParseString(l.key("FFMPEG_MODULE_INTEGRITY"), cfg.Modules.FFmpeg.Integrity)

	cfg.Diagnostics.Addr = ParseString(l.key("DIAG_ADDR"), cfg.Diagnostics.Addr)
	cfg.Diagnostics.RateLimit = ParseInt(l.key("DIAG_RATE_LIMIT"), cfg.Diagnostics.RateLimit)

	cfg.Telemetry.Enabled = ParseBool(l.key("TELEMETRY_ENABLED"), cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString(l.key("TELEMETRY_EXPORTER"), cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString(l.key("TELEMETRY_ENDPOINT"), cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(l.key("TELEMETRY_SAMPLING_RATE"), cfg.Telemetry.SamplingRate)
}
