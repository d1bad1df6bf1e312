// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/clipanim/internal/capability"
	"github.com/ManuGH/clipanim/internal/config"
	"github.com/ManuGH/clipanim/internal/convert"
	"github.com/ManuGH/clipanim/internal/decode"
	"github.com/ManuGH/clipanim/internal/encode"
	"github.com/ManuGH/clipanim/internal/ffmpeg"
	"github.com/ManuGH/clipanim/internal/jobs"
	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/modload"
	"github.com/ManuGH/clipanim/internal/telemetry"
	"github.com/ManuGH/clipanim/internal/version"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg    config.AppConfig
	holder *config.Holder

	runner    *ffmpeg.Runner
	probe     *capability.Probe
	caps      capability.Capabilities
	registry  *modload.Registry
	cache     *modload.BadgerCache
	factory   *encode.Factory
	converter *convert.Converter

	tracing *telemetry.Provider
	redis   *redis.Client
	logger  zerolog.Logger
}

// newApp builds the component graph and detects host capabilities.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg := opts.cfg
	a := &app{
		cfg:    cfg,
		holder: config.NewHolder(cfg, opts.loader),
		runner: ffmpeg.NewRunner(cfg.FFmpeg.Bin, cfg.FFmpeg.KillTimeout),
		logger: xglog.WithComponent("cli"),
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "clipanim",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.tracing = tp

	store, err := a.capabilityStore()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	vaapi := cfg.FFmpeg.VAAPIDevice
	a.probe = capability.NewProbe(capability.NewFFmpegQuerier(a.runner, vaapi),
		capability.WithStore(store),
		capability.WithCacheTTL(cfg.Capabilities.CacheTTL),
		capability.WithQueryTimeout(cfg.Capabilities.QueryTimeout),
	)
	a.caps, err = a.probe.Detect(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("detect capabilities: %w", err)
	}

	a.registry = modload.NewRegistry(providers(cfg.Modules),
		modload.WithHealthSteps(cfg.Modules.HealthSuccessStep, cfg.Modules.HealthFailureStep))

	var resolver encode.BinaryResolver
	if spec := cfg.Modules.FFmpeg; spec.Enabled {
		a.cache, err = modload.OpenBadgerCache(cfg.Modules.CacheDir)
		if err != nil {
			a.logger.Warn().Err(err).
				Str(xglog.FieldEvent, "cli.module_cache_unavailable").
				Msg("continuing without module cache")
		}
		loaderOpts := []modload.LoaderOption{modload.WithMaxBytes(cfg.Modules.MaxBytes)}
		if a.cache != nil {
			loaderOpts = append(loaderOpts, modload.WithCache(a.cache))
		}
		resolver = &convert.ModuleBinary{
			Loader: modload.NewLoader(a.registry, loaderOpts...),
			Module: modload.Module{
				Package:   spec.Package,
				Version:   spec.Version,
				Subpath:   spec.Subpath,
				Integrity: spec.Integrity,
			},
			Dir: filepath.Join(cfg.DataDir, "bin"),
		}
	}

	bounds := encode.ChunkBounds{Min: cfg.Conversion.ChunkMin, Max: cfg.Conversion.ChunkMax}
	a.factory = encode.NewFactory(
		encode.NewVipsAdapter(true, bounds, encode.Limits{}),
		encode.NewFFmpegFrameAdapter(a.runner, a.caps.WebPEncode, bounds, encode.Limits{}),
		encode.NewGIFAdapter(bounds, encode.Limits{}),
		encode.NewFFmpegTranscodeAdapter(a.runner, resolver, a.caps.WebPEncode, cfg.FFmpeg.KillTimeout),
	)

	conv := cfg.Conversion
	a.converter = convert.New(a.probe, jobs.NewSlots(), a.factory,
		func(o decode.Options) decode.Decoder { return decode.NewFFmpegDecoder(a.runner, o) },
		convert.Options{
			TargetFPS:           conv.TargetFPS,
			MaxFrames:           conv.MaxFrames,
			MaxDimension:        conv.MaxDimension,
			Quality:             conv.Quality,
			SampleSlack:         conv.SampleSlack,
			MinFrameMs:          conv.MinFrameMs,
			DownsampleThreshold: conv.DownsampleThreshold,
			ProgressInterval:    conv.ProgressInterval,
			VAAPIDevice:         vaapi,
		})
	return a, nil
}

func (a *app) capabilityStore() (capability.Store, error) {
	c := a.cfg.Capabilities
	switch c.Store {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB})
		return capability.NewRedisStore(a.redis, "clipanim", c.CacheTTL), nil
	case "file":
		return capability.NewFileStore(filepath.Join(a.cfg.DataDir, "capabilities")), nil
	default:
		return nil, fmt.Errorf("unknown capability store %q", c.Store)
	}
}

// watchConfig hot-reloads the config file and re-applies provider tuning
// to the live registry until ctx is done.
func (a *app) watchConfig(ctx context.Context) {
	if err := a.holder.StartWatcher(ctx); err != nil {
		a.logger.Warn().Err(err).Str(xglog.FieldEvent, "cli.watcher_failed").Msg("config hot reload disabled")
		return
	}
	updates := make(chan config.AppConfig, 1)
	a.holder.RegisterListener(updates)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-updates:
				a.registry.Reconfigure(providers(cfg.Modules),
					modload.WithHealthSteps(cfg.Modules.HealthSuccessStep, cfg.Modules.HealthFailureStep))
				a.logger.Info().
					Str(xglog.FieldEvent, "cli.providers_reconfigured").
					Int("providers", len(cfg.Modules.Providers)).
					Msg("module providers updated")
			}
		}
	}()
}

// Close releases stores, caches and flushes traces.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.holder != nil {
		a.holder.Stop()
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(context.WithoutCancel(ctx)))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Str(xglog.FieldEvent, "cli.close_failed").Msg("shutdown incomplete")
	}
}

func providers(cfg config.ModulesConfig) []modload.Provider {
	out := make([]modload.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		out = append(out, modload.Provider{
			Name:     p.Name,
			BaseURL:  p.BaseURL,
			Priority: p.Priority,
			Timeout:  p.Timeout,
			Enabled:  p.Enabled,
		})
	}
	return out
}
