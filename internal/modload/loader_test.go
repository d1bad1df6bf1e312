// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package modload

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testModule = Module{Package: "@ffmpeg-installer/linux-x64", Version: "4.1.0", Subpath: "/ffmpeg"}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func bodyHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func hangingHandler(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(10 * time.Second):
	}
}

func mirror(name, url string, priority int, timeout time.Duration) Provider {
	return Provider{Name: name, BaseURL: url, Priority: priority, Timeout: timeout, Enabled: true}
}

func TestLoader_FirstProviderSucceeds(t *testing.T) {
	paths := make(chan string, 1)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		_, _ = w.Write([]byte("binary"))
	})
	reg := NewRegistry([]Provider{mirror("a", srv.URL, 1, time.Second)})
	l := NewLoader(reg)

	p, err := l.Load(context.Background(), testModule)
	require.NoError(t, err)
	assert.Equal(t, "binary", string(p.Data))
	assert.Equal(t, "a", p.Provider)
	assert.Equal(t, "/@ffmpeg-installer/linux-x64@4.1.0/ffmpeg", <-paths)
}

func TestLoader_TimeoutFallsBackWithinBudget(t *testing.T) {
	slow := serve(t, hangingHandler)
	fast := serve(t, bodyHandler("from-fast"))

	const slowTimeout = 300 * time.Millisecond
	reg := NewRegistry([]Provider{
		mirror("slow", slow.URL, 1, slowTimeout),
		mirror("fast", fast.URL, 2, 5*time.Second),
	})
	l := NewLoader(reg)

	start := time.Now()
	p, err := l.Load(context.Background(), testModule)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "from-fast", string(p.Data))
	assert.Equal(t, "fast", p.Provider)
	assert.Less(t, elapsed, slowTimeout+2*time.Second)

	h, _ := reg.Health("slow")
	assert.Equal(t, MaxHealth-DefaultFailureStep, h)
	assert.Equal(t, "fast", reg.Ranked()[0].Name)
}

func TestLoader_NonSuccessStatusFallsBack(t *testing.T) {
	broken := serve(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) })
	good := serve(t, bodyHandler("ok"))
	reg := NewRegistry([]Provider{mirror("broken", broken.URL, 1, time.Second), mirror("good", good.URL, 2, time.Second)})

	p, err := NewLoader(reg).Load(context.Background(), testModule)
	require.NoError(t, err)
	assert.Equal(t, "good", p.Provider)
	h, _ := reg.Health("broken")
	assert.Equal(t, MaxHealth-DefaultFailureStep, h)
}

func TestLoader_IntegrityMismatchFallsBack(t *testing.T) {
	want := []byte("genuine")
	sri, err := Integrity(want, "sha384")
	require.NoError(t, err)

	tampered := serve(t, bodyHandler("tampered"))
	genuine := serve(t, bodyHandler(string(want)))
	reg := NewRegistry([]Provider{mirror("tampered", tampered.URL, 1, time.Second), mirror("genuine", genuine.URL, 2, time.Second)})

	m := testModule
	m.Integrity = sri
	p, err := NewLoader(reg).Load(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, want, p.Data)
	assert.Equal(t, "genuine", p.Provider)
}

func TestLoader_AllProvidersFail(t *testing.T) {
	a := serve(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	b := serve(t, bodyHandler("too large for the cap"))
	reg := NewRegistry([]Provider{mirror("a", a.URL, 1, time.Second), mirror("b", b.URL, 2, time.Second)})

	_, err := NewLoader(reg, WithMaxBytes(4)).Load(context.Background(), testModule)
	require.ErrorIs(t, err, ErrModuleLoadFailed)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.ErrorIs(t, err, errTooLarge)
}

func TestLoader_NoProviders(t *testing.T) {
	ps := []Provider{{Name: "off", BaseURL: "http://127.0.0.1:1", Enabled: false}}
	_, err := NewLoader(NewRegistry(ps)).Load(context.Background(), testModule)
	require.ErrorIs(t, err, ErrModuleLoadFailed)
}

func TestLoader_CacheServesAfterProvidersDisappear(t *testing.T) {
	cache, err := OpenBadgerCache("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	srv := httptest.NewServer(bodyHandler("cached-body"))
	reg := NewRegistry([]Provider{mirror("a", srv.URL, 1, time.Second)})
	l := NewLoader(reg, WithCache(cache))

	first, err := l.Load(context.Background(), testModule)
	require.NoError(t, err)
	assert.Equal(t, "a", first.Provider)
	srv.Close()

	second, err := l.Load(context.Background(), testModule)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Provider)
	assert.Equal(t, "cached-body", string(second.Data))
}

func TestLoader_CacheEntryFailingIntegrityIsRefetched(t *testing.T) {
	cache, err := OpenBadgerCache("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	m := testModule
	m.Integrity, err = Integrity([]byte("fresh"), "sha256")
	require.NoError(t, err)
	require.NoError(t, cache.Put(m.Key(), []byte("stale")))

	srv := serve(t, bodyHandler("fresh"))
	p, err := NewLoader(NewRegistry([]Provider{mirror("a", srv.URL, 1, time.Second)}), WithCache(cache)).Load(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "a", p.Provider)

	data, ok, err := cache.Get(m.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fresh", string(data))
}

func TestLoader_ConcurrentLoadsShareOneFetch(t *testing.T) {
	var hits atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		_, _ = w.Write([]byte("shared"))
	})
	l := NewLoader(NewRegistry([]Provider{mirror("a", srv.URL, 1, 5*time.Second)}))

	var wg sync.WaitGroup
	results := make([]*Payload, 5)
	errs := make([]error, 5)
	load := func(i int) {
		defer wg.Done()
		results[i], errs[i] = l.Load(context.Background(), testModule)
	}
	wg.Add(1)
	go load(0)
	<-started
	for i := 1; i < 5; i++ {
		wg.Add(1)
		go load(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", string(results[i].Data))
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoader_CallerCancellation(t *testing.T) {
	srv := serve(t, hangingHandler)
	l := NewLoader(NewRegistry([]Provider{mirror("a", srv.URL, 1, 2*time.Second)}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := l.Load(ctx, testModule)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLoader_Materialize(t *testing.T) {
	srv := serve(t, bodyHandler("#!/bin/sh\necho ffmpeg\n"))
	l := NewLoader(NewRegistry([]Provider{mirror("a", srv.URL, 1, time.Second)}))
	dir := t.TempDir()

	path, err := l.Materialize(context.Background(), testModule, dir, 0o755)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ffmpeg-installer_linux-x64@4.1.0", "ffmpeg"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho ffmpeg\n", string(data))

	again, err := l.Materialize(context.Background(), testModule, dir, 0o755)
	require.NoError(t, err)
	assert.Equal(t, path, again)
}
