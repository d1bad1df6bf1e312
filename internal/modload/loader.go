// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package modload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/metrics"
	"github.com/ManuGH/clipanim/internal/platform/httpx"
	"github.com/ManuGH/clipanim/internal/telemetry"
)

// ErrModuleLoadFailed is returned when every ranked provider failed.
var ErrModuleLoadFailed = errors.New("module load failed")

var errTooLarge = errors.New("payload exceeds size limit")

const (
	DefaultMaxBytes       = 128 << 20
	defaultProviderBudget = 30 * time.Second

	// SourceCache is the Payload.Provider of a cache hit.
	SourceCache = "cache"
)

// Payload is a verified module body.
type Payload struct {
	Module   Module
	Data     []byte
	Provider string
	URL      string
}

// HTTPError reports a non-2xx provider response.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("GET %s: status %d", e.URL, e.Status) }

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient replaces the default hardened client.
func WithHTTPClient(c *http.Client) LoaderOption { return func(l *Loader) { l.client = c } }

// WithCache enables payload caching.
func WithCache(c Cache) LoaderOption { return func(l *Loader) { l.cache = c } }

// WithMaxBytes caps the accepted payload size.
func WithMaxBytes(n int64) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// Loader fetches modules from the providers of a Registry.
type Loader struct {
	registry *Registry
	client   *http.Client
	cache    Cache
	maxBytes int64
	group    singleflight.Group
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewLoader creates a loader over reg.
func NewLoader(reg *Registry, opts ...LoaderOption) *Loader {
	l := &Loader{
		registry: reg,
		maxBytes: DefaultMaxBytes,
		tracer:   telemetry.Tracer("clipanim/modload"),
		logger:   xglog.WithComponent("modload"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		budget := defaultProviderBudget
		for _, p := range reg.All() {
			budget = max(budget, p.Timeout)
		}
		l.client = httpx.NewClient(budget)
	}
	return l
}

// Load returns the module payload. Identical concurrent loads share one
// fetch; a caller whose ctx ends stops waiting without aborting the others.
func (l *Loader) Load(ctx context.Context, m Module) (*Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	ch := l.group.DoChan(m.Key(), func() (any, error) {
		return l.load(context.WithoutCancel(ctx), m)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Payload), nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// load runs detached from caller cancellation; each attempt is still bounded
// by its provider timeout.
func (l *Loader) load(ctx context.Context, m Module) (*Payload, error) {
	ctx, span := l.tracer.Start(ctx, "modload.Load", trace.WithAttributes(
		attribute.String(telemetry.ModuleKey, m.Key()),
	))
	defer span.End()
	logger := xglog.WithContext(ctx, l.logger).With().Str(xglog.FieldModule, m.Key()).Logger()

	if p, ok := l.fromCache(m, logger); ok {
		span.SetAttributes(attribute.String(telemetry.ProviderKey, SourceCache))
		return p, nil
	}

	ranked := l.registry.Ranked()
	if len(ranked) == 0 {
		err := fmt.Errorf("%w: no enabled providers", ErrModuleLoadFailed)
		telemetry.RecordError(span, err, "no_providers")
		return nil, err
	}

	var errs []error
	for _, p := range ranked {
		start := time.Now()
		data, url, err := l.attempt(ctx, p, m)
		elapsed := time.Since(start)
		if err == nil {
			l.registry.RecordSuccess(p.Name)
			metrics.ObserveModuleFetch(p.Name, "success", elapsed)
			l.toCache(m, data, logger)
			logger.Info().
				Str(xglog.FieldEvent, "modload.loaded").
				Str(xglog.FieldProvider, p.Name).
				Str(xglog.FieldURL, url).
				Int("bytes", len(data)).
				Dur("duration", elapsed).
				Msg("module loaded")
			span.SetAttributes(attribute.String(telemetry.ProviderKey, p.Name))
			return &Payload{Module: m, Data: data, Provider: p.Name, URL: url}, nil
		}

		l.registry.RecordFailure(p.Name)
		metrics.ObserveModuleFetch(p.Name, outcomeOf(err), elapsed)
		health, _ := l.registry.Health(p.Name)
		logger.Warn().Err(err).
			Str(xglog.FieldEvent, "modload.attempt_failed").
			Str(xglog.FieldProvider, p.Name).
			Str(xglog.FieldURL, url).
			Int(xglog.FieldHealth, health).
			Dur("duration", elapsed).
			Msg("provider attempt failed")
		errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
	}

	err := fmt.Errorf("%w: %s: %w", ErrModuleLoadFailed, m.Key(), errors.Join(errs...))
	telemetry.RecordError(span, err, "exhausted")
	return nil, err
}

func (l *Loader) attempt(ctx context.Context, p Provider, m Module) ([]byte, string, error) {
	url := p.URL(m)
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProviderBudget
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, url, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, url, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, url, &HTTPError{Status: resp.StatusCode, URL: url}
	}
	if resp.ContentLength > l.maxBytes {
		return nil, url, fmt.Errorf("%w: content-length %d", errTooLarge, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, url, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, url, fmt.Errorf("%w: more than %d bytes", errTooLarge, l.maxBytes)
	}
	if err := VerifyIntegrity(data, m.Integrity); err != nil {
		return nil, url, err
	}
	return data, url, nil
}

func (l *Loader) fromCache(m Module, logger zerolog.Logger) (*Payload, bool) {
	if l.cache == nil {
		return nil, false
	}
	data, ok, err := l.cache.Get(m.Key())
	if err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "modload.cache_read_failed").Msg("module cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if err := VerifyIntegrity(data, m.Integrity); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "modload.cache_stale").Msg("cached module failed verification")
		return nil, false
	}
	metrics.ObserveModuleFetch(SourceCache, "cache", 0)
	logger.Debug().Str(xglog.FieldEvent, "modload.cache_hit").Int("bytes", len(data)).Msg("module served from cache")
	return &Payload{Module: m, Data: data, Provider: SourceCache}, true
}

func (l *Loader) toCache(m Module, data []byte, logger zerolog.Logger) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Put(m.Key(), data); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "modload.cache_write_failed").Msg("module cache write failed")
	}
}

func outcomeOf(err error) string {
	var httpErr *HTTPError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, errTooLarge):
		return "too_large"
	default:
		return "error"
	}
}

// Materialize loads m and writes it atomically into dir with the given
// mode, returning the file path. An existing file with matching content is
// left alone.
func (l *Loader) Materialize(ctx context.Context, m Module, dir string, mode os.FileMode) (string, error) {
	p, err := l.Load(ctx, m)
	if err != nil {
		return "", err
	}
	name := path.Base(m.subpath())
	if name == "" || name == "/" || name == "." {
		name = path.Base(m.Package)
	}
	target := filepath.Join(dir, sanitize(m.Package+"@"+m.Version), name)

	if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, p.Data) {
		return target, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create module dir: %w", err)
	}
	pending, err := renameio.NewPendingFile(target, renameio.WithStaticPermissions(mode))
	if err != nil {
		return "", fmt.Errorf("create pending module file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()
	if _, err := pending.Write(p.Data); err != nil {
		return "", fmt.Errorf("write module: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("commit module: %w", err)
	}
	l.logger.Info().
		Str(xglog.FieldEvent, "modload.materialized").
		Str(xglog.FieldModule, m.Key()).
		Str(xglog.FieldPath, target).
		Msg("module written to disk")
	return target, nil
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(strings.TrimPrefix(s, "@"))
}
