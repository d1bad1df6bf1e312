// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/metrics"
)

const (
	defaultQueryTimeout = 5 * time.Second
	storeReadTimeout    = 2 * time.Second
)

// Querier asks the host decode/encode subsystem about single features.
type Querier interface {
	NativeDecodeAvailable(ctx context.Context) (bool, error)
	DecoderSupported(ctx context.Context, codec string, preferHardware bool) (bool, error)
	EncoderSupported(ctx context.Context, format string) (bool, error)
	HardwareAccelerationHint(ctx context.Context) (bool, error)
}

// Option configures a Probe.
type Option func(*Probe)

// WithStore sets the persistence backend. The default persists nothing.
func WithStore(s Store) Option { return func(p *Probe) { p.store = s } }

// WithCacheTTL bounds the age of a persisted snapshot Detect will accept. Zero accepts any age.
func WithCacheTTL(d time.Duration) Option { return func(p *Probe) { p.ttl = d } }

// WithQueryTimeout bounds each individual feature query.
func WithQueryTimeout(d time.Duration) Option { return func(p *Probe) { p.queryTimeout = d } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(p *Probe) { p.now = now } }

// Probe owns the process-wide capability snapshot. Once a snapshot exists it is never re-probed.
type Probe struct {
	querier      Querier
	store        Store
	ttl          time.Duration
	queryTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger

	mu    sync.RWMutex
	snap  Capabilities
	ready bool
	group singleflight.Group
}

// NewProbe creates a probe backed by q.
func NewProbe(q Querier, opts ...Option) *Probe {
	p := &Probe{
		querier:      q,
		store:        NopStore{},
		queryTimeout: defaultQueryTimeout,
		now:          time.Now,
		logger:       xglog.WithComponent("capability"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot returns the in-process snapshot, if one has been established.
func (p *Probe) Snapshot() (Capabilities, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap, p.ready
}

// GetCached returns the best snapshot available without querying the host:
// in-process, then persisted, then all-false.
func (p *Probe) GetCached() Capabilities {
	if caps, ok := p.Snapshot(); ok {
		return caps
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeReadTimeout)
	defer cancel()
	caps, found, err := p.store.Load(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "capability.store_read_failed").Msg("capability cache unreadable")
		return Capabilities{}
	}
	if !found {
		return Capabilities{}
	}
	return caps
}

// Detect returns the process snapshot, establishing it on first use from a
// fresh persisted snapshot or by probing. Concurrent callers share one probe.
// Query failures never surface; only cancellation of ctx does.
func (p *Probe) Detect(ctx context.Context) (Capabilities, error) {
	if caps, ok := p.Snapshot(); ok {
		metrics.RecordCapabilityResolution("memory")
		return caps, nil
	}

	// The shared probe must not die with the first caller.
	shared := context.WithoutCancel(ctx)
	ch := p.group.DoChan("detect", func() (any, error) {
		return p.establish(shared)
	})

	select {
	case <-ctx.Done():
		return Capabilities{}, fmt.Errorf("capability detection: %w", context.Cause(ctx))
	case res := <-ch:
		if res.Err != nil {
			return Capabilities{}, res.Err
		}
		return res.Val.(Capabilities), nil
	}
}

func (p *Probe) establish(ctx context.Context) (Capabilities, error) {
	if caps, ok := p.Snapshot(); ok {
		return caps, nil
	}

	if caps, ok := p.loadFresh(ctx); ok {
		metrics.RecordCapabilityResolution("store")
		p.publish(caps)
		p.logger.Info().Str(xglog.FieldEvent, "capability.cache_hit").Time("probed_at", caps.ProbedAt).Msg("using persisted capabilities")
		return caps, nil
	}

	start := p.now()
	caps := p.probe(ctx)
	caps.ProbedAt = p.now().UTC()
	metrics.RecordCapabilityResolution("probe")

	if err := p.store.Save(ctx, caps); err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "capability.store_write_failed").Msg("failed to persist capabilities")
	}
	p.publish(caps)
	p.logger.Info().
		Str(xglog.FieldEvent, "capability.probe_done").
		Dur("duration", p.now().Sub(start)).
		Interface("features", caps.Features()).
		Msg("capability probe complete")
	return caps, nil
}

func (p *Probe) loadFresh(ctx context.Context) (Capabilities, bool) {
	caps, found, err := p.store.Load(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "capability.store_read_failed").Msg("capability cache unreadable")
		return Capabilities{}, false
	}
	if !found {
		return Capabilities{}, false
	}
	if p.ttl > 0 && (caps.ProbedAt.IsZero() || p.now().Sub(caps.ProbedAt) > p.ttl) {
		return Capabilities{}, false
	}
	return caps, true
}

func (p *Probe) probe(ctx context.Context) Capabilities {
	var caps Capabilities

	caps.HardwareAccelerated = p.query(ctx, "hardware_hint", p.querier.HardwareAccelerationHint)
	caps.NativeDecode = p.query(ctx, "native_decode", p.querier.NativeDecodeAvailable)

	if caps.NativeDecode {
		for _, codec := range Codecs {
			codec := codec
			if caps.HardwareAccelerated {
				hw := p.query(ctx, "decode_hw_"+codec, func(ctx context.Context) (bool, error) {
					return p.querier.DecoderSupported(ctx, codec, true)
				})
				if hw {
					caps.setDecodes(codec, true)
					continue
				}
			}
			caps.setDecodes(codec, p.query(ctx, "decode_sw_"+codec, func(ctx context.Context) (bool, error) {
				return p.querier.DecoderSupported(ctx, codec, false)
			}))
		}
	}

	caps.WebPEncode = p.query(ctx, "encode_webp", func(ctx context.Context) (bool, error) {
		return p.querier.EncoderSupported(ctx, "webp")
	})
	return caps
}

// query runs one bounded feature query; errors count as unsupported.
func (p *Probe) query(ctx context.Context, name string, fn func(context.Context) (bool, error)) bool {
	qctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	ok, err := fn(qctx)
	if err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "capability.query_failed").Str("query", name).Msg("feature query failed, treating as unsupported")
		return false
	}
	return ok
}

func (p *Probe) publish(caps Capabilities) {
	p.mu.Lock()
	p.snap = caps
	p.ready = true
	p.mu.Unlock()
	for feature, ok := range caps.Features() {
		metrics.SetCapability(feature, ok)
	}
}
