// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encode

import (
	"context"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/clipanim/internal/log"
)

// Factory holds the adapters in preference order.
type Factory struct {
	adapters []Adapter
	logger   zerolog.Logger
}

// NewFactory returns a Factory that prefers adapters in the given order.
func NewFactory(adapters ...Adapter) *Factory {
	return &Factory{
		adapters: adapters,
		logger:   xglog.WithComponent("encode"),
	}
}

// Adapters returns every registered adapter.
func (f *Factory) Adapters() []Adapter { return f.adapters }

// Candidates returns, in preference order, the adapters of kind that support
// the format, fit the constraints and report themselves available.
func (f *Factory) Candidates(ctx context.Context, kind Kind, c Constraints) []Adapter {
	var out []Adapter
	for _, a := range f.adapters {
		if ctx.Err() != nil {
			return nil
		}
		if f.usable(ctx, a, kind, c) {
			out = append(out, a)
		}
	}
	return out
}

// GetEncoder returns the first usable adapter, or nil when none is, in
// which case the caller switches to another encoding path. Adapters after
// the first available one are not probed.
func (f *Factory) GetEncoder(ctx context.Context, kind Kind, c Constraints) Adapter {
	for _, a := range f.adapters {
		if ctx.Err() != nil {
			return nil
		}
		if f.usable(ctx, a, kind, c) {
			return a
		}
	}
	return nil
}

func (f *Factory) usable(ctx context.Context, a Adapter, kind Kind, c Constraints) bool {
	if a.Kind() != kind || !a.Supports(c.Format) {
		return false
	}
	logger := xglog.WithContext(ctx, f.logger)
	if !fits(a.Limits(), c) {
		logger.Debug().
			Str(xglog.FieldEvent, "encode.adapter_skipped").
			Str(xglog.FieldEncoder, a.Name()).
			Int(xglog.FieldFrames, c.Frames).
			Int("max_dimension", c.MaxDimension).
			Msg("adapter limits exceeded")
		return false
	}
	if !a.Available(ctx) {
		logger.Debug().
			Str(xglog.FieldEvent, "encode.adapter_unavailable").
			Str(xglog.FieldEncoder, a.Name()).
			Msg("adapter not available on this host")
		return false
	}
	return true
}
