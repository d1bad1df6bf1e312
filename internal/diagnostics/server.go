// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/clipanim/internal/capability"
	"github.com/ManuGH/clipanim/internal/encode"
	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/modload"
)

// DefaultRateLimit is requests per minute per client IP.
const DefaultRateLimit = 120

// Options wires the handler to live components. Nil components drop their
// checker and debug endpoint.
type Options struct {
	Probe    *capability.Probe
	Factory  *encode.Factory
	Registry *modload.Registry
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer  prometheus.Gatherer
	RateLimit int
}

// Server serves /healthz, /metrics and the /debug endpoints.
type Server struct {
	opts     Options
	checkers []HealthChecker
	lkg      *LKGCache
	handler  http.Handler
	logger   zerolog.Logger
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	s := &Server{opts: opts, lkg: NewLKGCache(), logger: xglog.WithComponent("diagnostics")}
	if opts.Probe != nil {
		s.checkers = append(s.checkers, NewCapabilityChecker(opts.Probe))
	}
	if opts.Factory != nil {
		s.checkers = append(s.checkers, NewEncoderChecker(opts.Factory))
	}
	if opts.Registry != nil {
		s.checkers = append(s.checkers, NewProviderChecker(opts.Registry))
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httprate.Limit(opts.RateLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		}),
	))
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	r.Route("/debug", func(r chi.Router) {
		if opts.Probe != nil {
			r.Get("/capabilities", s.handleCapabilities)
		}
		if opts.Registry != nil {
			r.Get("/providers", s.handleProviders)
		}
	})

	s.handler = otelhttp.NewHandler(r, "diagnostics",
		otelhttp.WithFilter(shouldTrace),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info().
		Str(xglog.FieldEvent, "diagnostics.listening").
		Str("addr", ln.Addr().String()).
		Msg("diagnostics server started")

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errc
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := Collect(r.Context(), s.checkers, s.lkg)
	code := http.StatusOK
	if report.OverallStatus == Unavailable {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	caps, ok := s.opts.Probe.Snapshot()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "capabilities_pending"})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		capability.Capabilities
		Features map[string]bool `json:"features"`
	}{caps, caps.Features()})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ProviderList(s.opts.Registry))
}

// shouldTrace skips health and metrics scrapes.
func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
