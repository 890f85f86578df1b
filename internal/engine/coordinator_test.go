package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/imgcache/internal/cache"
	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/internal/fs"
	"github.com/hupe1980/imgcache/internal/hash"
	"github.com/hupe1980/imgcache/origin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// stubFetcher serves fixed bytes and counts calls. If gate is set, every
// fetch blocks until it is closed.
type stubFetcher struct {
	data    []byte
	err     error
	gate    chan struct{}
	started chan struct{}
	calls   atomic.Int64
}

func (f *stubFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	if f.calls.Add(1) == 1 && f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// recorder is a Consumer that counts deliveries.
type recorder struct {
	results chan Result
	ready   atomic.Int64
	failed  atomic.Int64
}

func newRecorder(n int) *recorder {
	return &recorder{results: make(chan Result, n)}
}

func (r *recorder) OnImageReady(res Result) {
	r.ready.Add(1)
	r.results <- res
}

func (r *recorder) OnImageFailed(res Result) {
	r.failed.Add(1)
	r.results <- res
}

func (r *recorder) next(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-r.results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

type countingMetrics struct {
	mu        sync.Mutex
	sources   []string
	fetches   int
	decodes   int
	coalesced int
}

func (m *countingMetrics) RecordRequest(source string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, source)
}

func (m *countingMetrics) RecordFetch(int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
}

func (m *countingMetrics) RecordDecode(int, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decodes++
}

func (m *countingMetrics) RecordCoalesced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coalesced++
}

type fixture struct {
	coord   *Coordinator
	memory  *cache.MemoryCache
	disk    *cache.DiskStore
	fetcher *stubFetcher
	metrics *countingMetrics
}

func newFixture(t *testing.T, f *stubFetcher, withDisk bool, mutate ...func(*Config)) *fixture {
	t.Helper()
	fx := &fixture{
		memory:  cache.NewMemoryCache(64<<20, nil),
		fetcher: f,
		metrics: &countingMetrics{},
	}
	cfg := Config{
		Memory:  fx.memory,
		Fetcher: f,
		Workers: 4,
		Metrics: fx.metrics,
	}
	if withDisk {
		d, err := cache.OpenDiskStore(cache.DiskStoreConfig{Dir: t.TempDir(), CapacityBytes: 50 << 20})
		require.NoError(t, err)
		t.Cleanup(func() { _ = d.Close() })
		fx.disk = d
		cfg.Disk = d
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	fx.coord = c
	return fx
}

func request(uri string, w, h int, token any, c Consumer) Request {
	return Request{URI: uri, Key: hash.Key(uri), Width: w, Height: h, Token: token, Consumer: c}
}

func TestCoordinator_Tiers(t *testing.T) {
	f := &stubFetcher{data: pngBytes(t, 64, 48)}
	fx := newFixture(t, f, true)
	rec := newRecorder(4)
	uri := "https://example.com/a.png"

	// Cold: network.
	require.NoError(t, fx.coord.Submit(request(uri, 0, 0, "view-1", rec)))
	res := rec.next(t)
	require.NoError(t, res.Err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Equal(t, "view-1", res.Token)
	assert.Equal(t, 64, res.Image.Width)
	assert.Equal(t, 48, res.Image.Height)
	assert.True(t, fx.disk.Contains(hash.Key(uri)))

	// Warm: memory, delivered before Submit returns.
	require.NoError(t, fx.coord.Submit(request(uri, 0, 0, "view-2", rec)))
	require.Len(t, rec.results, 1)
	res = rec.next(t)
	assert.Equal(t, SourceMemory, res.Source)
	assert.Equal(t, "view-2", res.Token)

	// Memory dropped: disk.
	fx.memory.Clear()
	require.NoError(t, fx.coord.Submit(request(uri, 0, 0, nil, rec)))
	res = rec.next(t)
	require.NoError(t, res.Err)
	assert.Equal(t, SourceDisk, res.Source)

	assert.Equal(t, int64(1), f.calls.Load())

	st := fx.coord.Stats()
	assert.Equal(t, int64(3), st.Requests)
	assert.Equal(t, int64(1), st.MemoryHits)
	assert.Equal(t, int64(1), st.DiskHits)
	assert.Equal(t, int64(1), st.Fetches)
}

func TestCoordinator_Downsamples(t *testing.T) {
	f := &stubFetcher{data: pngBytes(t, 1000, 1000)}
	fx := newFixture(t, f, true)
	rec := newRecorder(1)

	require.NoError(t, fx.coord.Submit(request("https://example.com/big.png", 100, 100, nil, rec)))
	res := rec.next(t)
	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Image.SampleSize)
	assert.Equal(t, 250, res.Image.Width)
	assert.Equal(t, 250, res.Image.Height)
	assert.Equal(t, int64(250*250*4), fx.memory.Size())
}

func TestCoordinator_ConcurrentRequestsFetchOnce(t *testing.T) {
	f := &stubFetcher{
		data:    pngBytes(t, 32, 32),
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	fx := newFixture(t, f, true)

	const n = 20
	rec := newRecorder(n)
	uri := "https://example.com/shared.png"
	for i := range n {
		require.NoError(t, fx.coord.Submit(request(uri, 0, 0, i, rec)))
	}

	<-f.started
	close(f.gate)

	tokens := make(map[any]bool)
	var first *decode.Image
	for range n {
		res := rec.next(t)
		require.NoError(t, res.Err)
		tokens[res.Token] = true
		if first == nil {
			first = res.Image
		}
		assert.Equal(t, first.Width, res.Image.Width)
	}
	require.NoError(t, fx.coord.Close())

	assert.Equal(t, int64(1), f.calls.Load())
	assert.Len(t, tokens, n, "every request gets its own delivery")
	assert.Equal(t, int64(n), rec.ready.Load())
	assert.Zero(t, rec.failed.Load())
	assert.Equal(t, 1, fx.disk.Len())
	assert.Equal(t, int64(n-1), fx.coord.Stats().Coalesced)
	assert.Zero(t, fx.coord.Stats().InFlight)
}

// slowOneFetcher blocks fetches of slow until gate is closed and serves
// every other URI immediately.
type slowOneFetcher struct {
	slow string
	gate chan struct{}
	data []byte
}

func (f *slowOneFetcher) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	if uri == f.slow {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func TestCoordinator_DuplicatesDoNotStarveOtherKeys(t *testing.T) {
	f := &slowOneFetcher{
		slow: "https://example.com/slow.png",
		gate: make(chan struct{}),
		data: pngBytes(t, 8, 8),
	}
	fx := newFixture(t, nil, true, func(c *Config) {
		c.Workers = 2
		c.Fetcher = f
	})

	slow := newRecorder(3)
	for i := range 3 {
		require.NoError(t, fx.coord.Submit(request(f.slow, 0, 0, i, slow)))
	}

	fast := newRecorder(1)
	require.NoError(t, fx.coord.Submit(request("https://example.com/fast.png", 0, 0, nil, fast)))
	res := fast.next(t)
	require.NoError(t, res.Err)
	assert.Equal(t, SourceNetwork, res.Source)
	assert.Zero(t, slow.ready.Load()+slow.failed.Load())

	close(f.gate)
	coalesced := 0
	for range 3 {
		res := slow.next(t)
		require.NoError(t, res.Err)
		if res.Coalesced {
			coalesced++
		}
	}
	assert.Equal(t, 2, coalesced)
	assert.Equal(t, int64(2), fx.coord.Stats().Coalesced)
}

func TestCoordinator_FetchFailure(t *testing.T) {
	f := &stubFetcher{err: origin.StatusError("https://example.com/404.png", http.StatusNotFound)}
	fx := newFixture(t, f, true)
	rec := newRecorder(2)

	require.NoError(t, fx.coord.Submit(request("https://example.com/404.png", 0, 0, nil, rec)))
	res := rec.next(t)
	require.NoError(t, fx.coord.Close())

	var fe *origin.FetchError
	require.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, origin.KindHTTPStatus, fe.Kind)
	assert.Nil(t, res.Image)
	assert.False(t, res.OK())

	assert.Equal(t, int64(1), rec.failed.Load())
	assert.Zero(t, rec.ready.Load())
	assert.Zero(t, fx.memory.Len())
	assert.Zero(t, fx.disk.Len())

	staged, err := os.ReadDir(filepath.Join(fx.disk.Dir(), "tmp"))
	require.NoError(t, err)
	assert.Empty(t, staged)
	assert.Equal(t, int64(1), fx.coord.Stats().Failures)
}

func TestCoordinator_DecodeFailureRemovesBlob(t *testing.T) {
	f := &stubFetcher{data: []byte("<html>not an image</html>")}
	fx := newFixture(t, f, true)
	rec := newRecorder(2)
	uri := "https://example.com/bad.png"

	require.NoError(t, fx.coord.Submit(request(uri, 0, 0, nil, rec)))
	res := rec.next(t)

	var de *decode.Error
	require.ErrorAs(t, res.Err, &de)
	assert.False(t, fx.disk.Contains(hash.Key(uri)))
	assert.Zero(t, fx.memory.Len())

	// The next request goes back to the network.
	require.NoError(t, fx.coord.Submit(request(uri, 0, 0, nil, rec)))
	_ = rec.next(t)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestCoordinator_CommitFailure(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	disk, err := cache.OpenDiskStore(cache.DiskStoreConfig{Dir: t.TempDir(), CapacityBytes: 1 << 20, FS: ffs})
	require.NoError(t, err)
	defer disk.Close()
	ffs.AddRule(".blob", fs.Fault{Ops: fs.OpRename})

	f := &stubFetcher{data: pngBytes(t, 8, 8)}
	fx := newFixture(t, f, false, func(c *Config) { c.Disk = disk })
	rec := newRecorder(1)

	require.NoError(t, fx.coord.Submit(request("https://example.com/a.png", 0, 0, nil, rec)))
	res := rec.next(t)

	var ioe *IOError
	require.ErrorAs(t, res.Err, &ioe)
	assert.Equal(t, "publish", ioe.Op)
	assert.ErrorIs(t, res.Err, fs.ErrInjected)
	assert.Zero(t, disk.Len())
	assert.Zero(t, fx.memory.Len())
}

func TestCoordinator_WithoutDisk(t *testing.T) {
	data := pngBytes(t, 40, 20)

	t.Run("DecodesDirectly", func(t *testing.T) {
		f := &stubFetcher{data: data}
		fx := newFixture(t, f, false)
		rec := newRecorder(1)

		assert.False(t, fx.coord.DiskEnabled())
		require.NoError(t, fx.coord.Submit(request("https://example.com/a.png", 0, 0, nil, rec)))
		res := rec.next(t)
		require.NoError(t, res.Err)
		assert.Equal(t, SourceNetwork, res.Source)
		assert.Equal(t, 40, res.Image.Width)
		assert.Equal(t, 1, fx.memory.Len())
	})

	t.Run("BodyTooLarge", func(t *testing.T) {
		f := &stubFetcher{data: data}
		fx := newFixture(t, f, false, func(c *Config) {
			c.MaxBlobBytes = 16
			c.IOBufferSize = 8
		})
		rec := newRecorder(1)

		require.NoError(t, fx.coord.Submit(request("https://example.com/a.png", 0, 0, nil, rec)))
		res := rec.next(t)
		assert.ErrorIs(t, res.Err, ErrBlobTooLarge)
		var ioe *IOError
		assert.ErrorAs(t, res.Err, &ioe)
		assert.Zero(t, fx.memory.Len())
	})
}

func TestCoordinator_FetchTimeout(t *testing.T) {
	f := &stubFetcher{gate: make(chan struct{})}
	defer close(f.gate)
	fx := newFixture(t, f, true, func(c *Config) { c.FetchTimeout = 20 * time.Millisecond })
	rec := newRecorder(1)

	require.NoError(t, fx.coord.Submit(request("https://example.com/slow.png", 0, 0, nil, rec)))
	res := rec.next(t)

	var fe *origin.FetchError
	require.ErrorAs(t, res.Err, &fe)
	assert.Equal(t, origin.KindTimeout, fe.Kind)
}

type panickyFetcher struct{}

func (panickyFetcher) Fetch(context.Context, string) (io.ReadCloser, error) {
	panic("fetcher bug")
}

func TestCoordinator_RecoversPanics(t *testing.T) {
	memory := cache.NewMemoryCache(1<<20, nil)
	c, err := New(Config{Memory: memory, Fetcher: panickyFetcher{}, Workers: 2})
	require.NoError(t, err)
	rec := newRecorder(4)

	require.NoError(t, c.Submit(request("https://example.com/a.png", 0, 0, nil, rec)))
	require.NoError(t, c.Submit(request("https://example.com/b.png", 0, 0, nil, rec)))
	require.NoError(t, c.Close())

	assert.Equal(t, int64(2), rec.failed.Load())
	for range 2 {
		res := rec.next(t)
		assert.ErrorIs(t, res.Err, ErrPanic)
	}
}

func TestCoordinator_CloseDrains(t *testing.T) {
	f := &stubFetcher{data: pngBytes(t, 8, 8)}
	fx := newFixture(t, f, true, func(c *Config) { c.Workers = 1 })

	const n = 10
	rec := newRecorder(n)
	for i := range n {
		uri := "https://example.com/" + string(rune('a'+i)) + ".png"
		require.NoError(t, fx.coord.Submit(request(uri, 0, 0, nil, rec)))
	}
	require.NoError(t, fx.coord.Close())

	assert.Equal(t, int64(n), rec.ready.Load()+rec.failed.Load())
	assert.ErrorIs(t, fx.coord.Submit(request("https://example.com/z.png", 0, 0, nil, rec)), ErrClosed)
	assert.ErrorIs(t, fx.coord.Close(), ErrClosed)
}

func TestCoordinator_Metrics(t *testing.T) {
	f := &stubFetcher{data: pngBytes(t, 8, 8)}
	fx := newFixture(t, f, true)
	rec := newRecorder(2)
	uri := "https://example.com/m.png"

	require.NoError(t, fx.coord.Submit(request(uri, 0, 0, nil, rec)))
	_ = rec.next(t)
	require.NoError(t, fx.coord.Submit(request(uri, 0, 0, nil, rec)))
	_ = rec.next(t)
	require.NoError(t, fx.coord.Close())

	fx.metrics.mu.Lock()
	defer fx.metrics.mu.Unlock()
	assert.Equal(t, []string{"network", "memory"}, fx.metrics.sources)
	assert.Equal(t, 1, fx.metrics.fetches)
	assert.Equal(t, 1, fx.metrics.decodes)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Fetcher: &stubFetcher{}})
	assert.Error(t, err)
	_, err = New(Config{Memory: cache.NewMemoryCache(1, nil)})
	assert.Error(t, err)
}

func TestCoordinator_NilConsumer(t *testing.T) {
	fx := newFixture(t, &stubFetcher{}, false)
	err := fx.coord.Submit(Request{URI: "u", Key: hash.Key("u")})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrClosed))
}
