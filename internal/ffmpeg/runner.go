// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ffmpeg runs ffmpeg child processes and parses their listings.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/clipanim/internal/log"
	"github.com/ManuGH/clipanim/internal/metrics"
)

// ErrNotFound is returned when no ffmpeg binary can be resolved.
var ErrNotFound = errors.New("ffmpeg binary not found")

const (
	defaultKillTimeout = 5 * time.Second
	stderrTailLines    = 12
)

// Runner starts ffmpeg processes with process-group cleanup on cancellation.
type Runner struct {
	bin         string
	killTimeout time.Duration
	logger      zerolog.Logger
}

// NewRunner returns a Runner for the binary at bin (a path or a name on PATH).
func NewRunner(bin string, killTimeout time.Duration) *Runner {
	if killTimeout <= 0 {
		killTimeout = defaultKillTimeout
	}
	return &Runner{
		bin:         bin,
		killTimeout: killTimeout,
		logger:      xglog.WithComponent("ffmpeg"),
	}
}

// Bin returns the binary the runner executes.
func (r *Runner) Bin() string { return r.bin }

// Available reports whether the binary resolves on this host.
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.bin)
	return err == nil
}

// Command builds a cancellable command. Cancelling ctx sends SIGTERM to the
// whole process group; the process is killed after the kill timeout.
func (r *Runner) Command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminateGroup(cmd) }
	cmd.WaitDelay = r.killTimeout
	return cmd
}

// Output runs ffmpeg and returns stdout. On failure the error carries the tail of stderr.
func (r *Runner) Output(ctx context.Context, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	err := r.Run(ctx, Invocation{Args: args, Stdout: &stdout})
	return stdout.Bytes(), err
}

// Invocation describes a single ffmpeg run.
type Invocation struct {
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	// OnStderrLine, when set, receives every stderr line (e.g. -progress output).
	OnStderrLine func(line string)
}

// Run executes inv and waits for exit.
func (r *Runner) Run(ctx context.Context, inv Invocation) error {
	cmd := r.Command(ctx, inv.Args...)
	cmd.Stdin = inv.Stdin
	cmd.Stdout = inv.Stdout

	tail := newLineTail(stderrTailLines)
	lw := &lineWriter{fn: func(line string) {
		tail.add(line)
		if inv.OnStderrLine != nil {
			inv.OnStderrLine(line)
		}
	}}
	// exec copies stderr on its own goroutine so WaitDelay also bounds a
	// grandchild that keeps the pipe open.
	cmd.Stderr = lw

	logger := xglog.WithContext(ctx, r.logger)
	if err := cmd.Start(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return fmt.Errorf("%w: %s", ErrNotFound, r.bin)
		}
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	metrics.FFmpegStarted()
	defer metrics.FFmpegExited()
	logger.Debug().Str(xglog.FieldEvent, "ffmpeg.start").Int("pid", cmd.Process.Pid).Strs("args", inv.Args).Msg("ffmpeg started")

	err := cmd.Wait()
	lw.flush()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg interrupted: %w", context.Cause(ctx))
	}
	logger.Debug().Err(err).Str(xglog.FieldEvent, "ffmpeg.failed").Str("stderr", tail.String()).Msg("ffmpeg exited with error")
	return &ExitError{Err: err, Stderr: tail.String()}
}

// ExitError is a non-zero ffmpeg exit with the last lines of stderr.
type ExitError struct {
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg: %v: %s", e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// lineWriter splits written bytes into lines.
type lineWriter struct {
	fn  func(string)
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		if i > 0 {
			w.fn(string(w.buf[:i]))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.fn(string(w.buf))
		w.buf = nil
	}
}

type lineTail struct {
	max   int
	lines []string
}

func newLineTail(n int) *lineTail { return &lineTail{max: n} }

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if len(t.lines) == t.max {
		t.lines = t.lines[1:]
	}
	t.lines = append(t.lines, line)
}

func (t *lineTail) String() string { return strings.Join(t.lines, " | ") }
