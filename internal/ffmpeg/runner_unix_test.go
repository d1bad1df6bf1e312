// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package ffmpeg

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The runner is binary-agnostic; /bin/sh stands in for ffmpeg.

func TestRunner_OutputAndStderrLines(t *testing.T) {
	r := NewRunner("sh", time.Second)
	var lines []string
	var stdout strings.Builder
	err := r.Run(context.Background(), Invocation{
		Args:         []string{"-c", "echo frame=1 >&2; echo progress=end >&2; printf ok"},
		Stdout:       &stdout,
		OnStderrLine: func(l string) { lines = append(lines, l) },
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", stdout.String())
	assert.Equal(t, []string{"frame=1", "progress=end"}, lines)
}

func TestRunner_ExitErrorCarriesStderr(t *testing.T) {
	r := NewRunner("sh", time.Second)
	_, err := r.Output(context.Background(), "-c", "echo 'Invalid data found' >&2; exit 3")
	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Contains(t, exitErr.Stderr, "Invalid data found")
}

func TestRunner_CancelTerminatesProcessGroup(t *testing.T) {
	r := NewRunner("sh", 500*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Output(ctx, "-c", "sleep 30 & wait")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunner_MissingBinary(t *testing.T) {
	r := NewRunner("clipanim-definitely-not-ffmpeg", time.Second)
	assert.False(t, r.Available())
	_, err := r.Output(context.Background(), "-version")
	assert.ErrorIs(t, err, ErrNotFound)
}
