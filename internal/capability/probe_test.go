// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package capability

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	mu      sync.Mutex
	calls   []string
	native  bool
	hw      bool
	hwCodec map[string]bool
	swCodec map[string]bool
	webp    bool
	failAll error
	block   bool
	delay   time.Duration
}

func (f *fakeQuerier) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeQuerier) wait(ctx context.Context) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.failAll
}

func (f *fakeQuerier) NativeDecodeAvailable(ctx context.Context) (bool, error) {
	f.record("native")
	if err := f.wait(ctx); err != nil {
		return true, err
	}
	return f.native, nil
}

func (f *fakeQuerier) DecoderSupported(ctx context.Context, codec string, hw bool) (bool, error) {
	if hw {
		f.record("hw:" + codec)
	} else {
		f.record("sw:" + codec)
	}
	if err := f.wait(ctx); err != nil {
		return true, err
	}
	if hw {
		return f.hwCodec[codec], nil
	}
	return f.swCodec[codec], nil
}

func (f *fakeQuerier) EncoderSupported(ctx context.Context, format string) (bool, error) {
	f.record("enc:" + format)
	if err := f.wait(ctx); err != nil {
		return true, err
	}
	return f.webp, nil
}

func (f *fakeQuerier) HardwareAccelerationHint(ctx context.Context) (bool, error) {
	f.record("hint")
	if err := f.wait(ctx); err != nil {
		return true, err
	}
	return f.hw, nil
}

func (f *fakeQuerier) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

var ignoreProbedAt = cmpopts.IgnoreFields(Capabilities{}, "ProbedAt")

func TestDetect_ProbesAndSkipsSoftwareAfterHardware(t *testing.T) {
	q := &fakeQuerier{
		native:  true,
		hw:      true,
		hwCodec: map[string]bool{CodecHEVC: true},
		swCodec: map[string]bool{CodecH264: true, CodecVP9: true},
		webp:    true,
	}
	p := NewProbe(q)

	caps, err := p.Detect(context.Background())
	require.NoError(t, err)

	want := Capabilities{NativeDecode: true, HardwareAccelerated: true, HEVC: true, H264: true, VP9: true, WebPEncode: true}
	if diff := cmp.Diff(want, caps, ignoreProbedAt); diff != "" {
		t.Fatalf("capabilities mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, caps.ProbedAt.IsZero())
	assert.False(t, q.called("sw:hevc"), "software query skipped after hardware success")
	assert.True(t, q.called("sw:h264"))
}

func TestDetect_NoNativeDecodeSkipsCodecQueries(t *testing.T) {
	q := &fakeQuerier{native: false, webp: true}
	caps, err := NewProbe(q).Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, caps.NativeDecode)
	assert.False(t, q.called("sw:h264"))
	assert.True(t, caps.WebPEncode)
}

func TestDetect_QueryFailuresAreFalse(t *testing.T) {
	q := &fakeQuerier{failAll: errors.New("subsystem exploded")}
	caps, err := NewProbe(q).Detect(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(Capabilities{}, caps, ignoreProbedAt); diff != "" {
		t.Fatalf("expected all-false (-want +got):\n%s", diff)
	}
}

func TestDetect_QueryTimeoutIsFalse(t *testing.T) {
	q := &fakeQuerier{block: true}
	start := time.Now()
	caps, err := NewProbe(q, WithQueryTimeout(20*time.Millisecond)).Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, caps.HardwareAccelerated)
	assert.False(t, caps.WebPEncode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDetect_IsMemoized(t *testing.T) {
	q := &fakeQuerier{native: true, swCodec: map[string]bool{CodecH264: true}}
	p := NewProbe(q)

	first, err := p.Detect(context.Background())
	require.NoError(t, err)
	q.swCodec[CodecH264] = false
	second, err := p.Detect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, second.H264)
}

func TestDetect_ConcurrentCallersShareOneProbe(t *testing.T) {
	q := &fakeQuerier{native: true, delay: 20 * time.Millisecond}
	p := NewProbe(q)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Detect(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	hints := 0
	for _, c := range q.calls {
		if c == "hint" {
			hints++
		}
	}
	assert.Equal(t, 1, hints)
}

func TestDetect_CancelledCallerReturnsEarly(t *testing.T) {
	q := &fakeQuerier{block: true}
	p := NewProbe(q, WithQueryTimeout(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Detect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileStore_PersistsAndFeedsNextProcess(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	q := &fakeQuerier{native: true, swCodec: map[string]bool{CodecVP9: true}}
	_, err := NewProbe(q, WithStore(NewFileStore(dir)), WithClock(clock)).Detect(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, CacheVersion+".json"))

	// A new process: GetCached reads the file, Detect trusts it within the TTL.
	q2 := &fakeQuerier{}
	p2 := NewProbe(q2, WithStore(NewFileStore(dir)), WithCacheTTL(time.Hour), WithClock(clock))
	assert.True(t, p2.GetCached().VP9)
	caps, err := p2.Detect(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.VP9)
	assert.Empty(t, q2.calls, "fresh cache must not re-probe")
}

func TestFileStore_StaleSnapshotIsReprobed(t *testing.T) {
	dir := t.TempDir()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewFileStore(dir)
	require.NoError(t, store.Save(context.Background(), Capabilities{VP9: true, ProbedAt: old}))

	var now atomic.Value
	now.Store(old.Add(48 * time.Hour))
	q := &fakeQuerier{native: true}
	caps, err := NewProbe(q, WithStore(store), WithCacheTTL(24*time.Hour),
		WithClock(func() time.Time { return now.Load().(time.Time) })).Detect(context.Background())
	require.NoError(t, err)
	assert.False(t, caps.VP9)
	assert.True(t, q.called("native"))
}

func TestGetCached_DefaultsToAllFalse(t *testing.T) {
	p := NewProbe(&fakeQuerier{native: true}, WithStore(NewFileStore(t.TempDir())))
	assert.Equal(t, Capabilities{}, p.GetCached())
	_, ok := p.Snapshot()
	assert.False(t, ok)
}

func TestGetCached_MalformedFileIsNothingCached(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o600))
	p := NewProbe(&fakeQuerier{}, WithStore(store))
	assert.Equal(t, Capabilities{}, p.GetCached())
}

func TestDecode_Lenient(t *testing.T) {
	caps, ok := Decode([]byte(`{"h264":true,"hevc":"yes","av1":1,"webpEncode":true,"extra":{}}`))
	require.True(t, ok)
	assert.True(t, caps.H264)
	assert.False(t, caps.HEVC)
	assert.False(t, caps.AV1)
	assert.True(t, caps.WebPEncode)
	assert.False(t, caps.HardwareAccelerated)

	_, ok = Decode([]byte(`[true]`))
	assert.False(t, ok)
	_, ok = Decode([]byte(`null`))
	assert.False(t, ok)
}
