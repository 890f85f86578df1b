package cache

import (
	"fmt"
	"image"
	"sync"
	"testing"

	"github.com/hupe1980/imgcache/internal/decode"
	"github.com/hupe1980/imgcache/internal/hash"
	"github.com/hupe1980/imgcache/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newImage returns an image with a footprint of w*h*4 bytes.
func newImage(w, h int) *decode.Image {
	return &decode.Image{Width: w, Height: h, SampleSize: 1, Pix: image.NewRGBA(image.Rect(0, 0, w, h))}
}

func TestMemoryCache_PutGet(t *testing.T) {
	c := NewMemoryCache(1000, nil)

	img := newImage(5, 5) // 100 bytes
	require.True(t, c.Put("k1", img))

	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Same(t, img, got)
	assert.Equal(t, int64(100), c.Size())
	assert.Equal(t, 1, c.Len())

	_, ok = c.Get("missing")
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

func TestMemoryCache_FirstWriterWins(t *testing.T) {
	c := NewMemoryCache(1000, nil)

	first := newImage(5, 5)
	second := newImage(4, 4)
	assert.True(t, c.Put("k", first))
	assert.False(t, c.Put("k", second))

	got, _ := c.Get("k")
	assert.Same(t, first, got)
	assert.Equal(t, int64(100), c.Size())
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(300, nil)
	var evicted []hash.CacheKey
	c.OnEvict(func(key hash.CacheKey, _ int64) { evicted = append(evicted, key) })

	c.Put("a", newImage(5, 5))
	c.Put("b", newImage(5, 5))
	c.Put("c", newImage(5, 5))

	// Touch a so b becomes least recently used.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", newImage(5, 5))

	_, ok = c.Get("b")
	assert.False(t, ok)
	for _, k := range []hash.CacheKey{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "key %s", k)
	}
	assert.Equal(t, []hash.CacheKey{"b"}, evicted)
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.LessOrEqual(t, c.Size(), c.Capacity())
}

func TestMemoryCache_TooLarge(t *testing.T) {
	c := NewMemoryCache(100, nil)
	c.Put("small", newImage(5, 5))

	assert.False(t, c.Put("huge", newImage(10, 10)))
	_, ok := c.Get("huge")
	assert.False(t, ok)

	// Rejection must not disturb existing entries.
	_, ok = c.Get("small")
	assert.True(t, ok)
}

func TestMemoryCache_NeverExceedsCapacity(t *testing.T) {
	c := NewMemoryCache(1000, nil)
	for i := 0; i < 200; i++ {
		c.Put(hash.CacheKey(fmt.Sprintf("k%d", i)), newImage(1+i%7, 1+i%5))
		require.LessOrEqual(t, c.Size(), int64(1000))
	}
}

func TestMemoryCache_ResourceController(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 150})
	c := NewMemoryCache(1000, rc)

	assert.True(t, c.Put("a", newImage(5, 5)))
	assert.Equal(t, int64(100), rc.MemoryUsage())

	// Cache has room but the controller does not.
	assert.False(t, c.Put("b", newImage(5, 5)))

	assert.True(t, c.Remove("a"))
	assert.Zero(t, rc.MemoryUsage())
	assert.True(t, c.Put("b", newImage(5, 5)))

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Zero(t, rc.MemoryUsage())
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache(4000, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := hash.CacheKey(fmt.Sprintf("k%d", (g*31+i)%50))
				if img, ok := c.Get(k); ok {
					assert.Equal(t, 5, img.Width)
					continue
				}
				c.Put(k, newImage(5, 5))
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), int64(4000))
	assert.Equal(t, int64(c.Len())*100, c.Size())
}

func TestShardedMemoryCache(t *testing.T) {
	c := NewShardedMemoryCache(16*1000, nil)
	assert.Equal(t, int64(16*1000), c.Capacity())

	img := newImage(5, 5)
	require.True(t, c.Put("k", img))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, img, got)
	assert.False(t, c.Put("k", newImage(5, 5)))

	for i := 0; i < 1000; i++ {
		c.Put(hash.CacheKey(fmt.Sprintf("k%d", i)), newImage(5, 5))
	}
	assert.LessOrEqual(t, c.Size(), c.Capacity())
	assert.Positive(t, c.Stats().Evictions)
}

func TestShardedMemoryCache_SmallCapacity(t *testing.T) {
	c := NewShardedMemoryCache(10, nil)
	assert.LessOrEqual(t, c.Capacity(), int64(10))
	assert.False(t, c.Put("k", newImage(1, 1)))
}

func TestShardedMemoryCache_Clear(t *testing.T) {
	c := NewShardedMemoryCache(16*1000, nil)
	for i := 0; i < 20; i++ {
		c.Put(hash.Key(fmt.Sprintf("uri-%d", i)), newImage(5, 5))
	}
	require.Positive(t, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Size())
}
