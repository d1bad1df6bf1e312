// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package progress

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	updates []Update
}

func (r *recorder) sink(u Update) { r.updates = append(r.updates, u) }

func (r *recorder) percents() []float64 {
	out := make([]float64, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Percent)
	}
	return out
}

func TestReport_MonotonicAndClamped(t *testing.T) {
	rec := &recorder{}
	r := New(rec.sink, WithInterval(0))

	r.Report(5, 10)
	r.Report(3, 10) // regression is ignored
	r.Report(20, 10)
	r.Report(-4, 10)

	got := rec.percents()
	assert.Equal(t, []float64{50, 100}, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1])
	}
}

func TestStage_MapsIntoRange(t *testing.T) {
	rec := &recorder{}
	r := New(rec.sink, WithInterval(0))

	r.Stage("decode", 0, 40)
	r.Report(1, 2)
	assert.InDelta(t, 20, r.Percent(), 1e-9)

	r.Stage("encode", 40, 90)
	r.Report(1, 1)
	assert.InDelta(t, 90, r.Percent(), 1e-9)
	assert.Equal(t, "encode", rec.updates[len(rec.updates)-1].Stage)
}

func TestReport_Throttled(t *testing.T) {
	rec := &recorder{}
	r := New(rec.sink, WithInterval(time.Hour))

	for i := 1; i < 100; i++ {
		r.Report(i, 100)
	}
	require.Len(t, rec.updates, 1, "only the first update passes the throttle")

	r.Report(100, 100)
	require.Len(t, rec.updates, 2)
	assert.Equal(t, 100.0, rec.updates[1].Percent, "100%% is always delivered")
}

func TestComplete_DeliversOnce(t *testing.T) {
	rec := &recorder{}
	r := New(rec.sink, WithInterval(time.Hour))
	r.Complete()
	r.Complete()
	r.Report(10, 10)
	assert.Equal(t, []float64{100}, rec.percents())
}

func TestInactive_NoFurtherCallbacks(t *testing.T) {
	var active atomic.Bool
	active.Store(true)
	rec := &recorder{}
	r := New(rec.sink, WithInterval(0), WithActive(active.Load))

	r.Report(1, 4)
	active.Store(false)
	r.Report(2, 4)
	r.Status("still there?")
	r.Complete()

	assert.Equal(t, []float64{25}, rec.percents())
}

func TestStatus_CarriesMessage(t *testing.T) {
	rec := &recorder{}
	r := New(rec.sink)
	r.Status("probing capabilities")
	require.Len(t, rec.updates, 1)
	assert.Equal(t, "probing capabilities", rec.updates[0].Message)
}

func TestNilReporterIsSafe(t *testing.T) {
	var r *Reporter
	r.Report(1, 2)
	r.Stage("x", 0, 1)
	r.Status("x")
	r.Complete()
}
