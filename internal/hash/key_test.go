package hash

import (
	"crypto/sha256"
	"hash"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	// md5("hello")
	assert.Equal(t, CacheKey("5d41402abc4b2a76b9719d911017c592"), Key("hello"))

	k := Key("https://example.com/a.png")
	assert.Len(t, k, 32)
	assert.True(t, k.Valid())
	assert.Equal(t, k, Key("https://example.com/a.png"))
	assert.NotEqual(t, k, Key("https://example.com/b.png"))
}

func TestKeyWith(t *testing.T) {
	k := KeyWith(sha256.New, "x")
	assert.Len(t, k, 64)
	assert.True(t, k.Valid())
}

func TestKeyWith_Fallback(t *testing.T) {
	t.Run("nil constructor", func(t *testing.T) {
		k := KeyWith(nil, "https://example.com/a.png")
		assert.Len(t, k, 16)
		assert.True(t, k.Valid())
		assert.Equal(t, k, KeyWith(nil, "https://example.com/a.png"))
	})

	t.Run("panicking constructor", func(t *testing.T) {
		boom := func() hash.Hash { panic("unavailable") }
		k := KeyWith(boom, "abc")
		require.Equal(t, KeyWith(nil, "abc"), k)
	})

	t.Run("empty string", func(t *testing.T) {
		// FNV-1a offset basis
		assert.Equal(t, CacheKey("cbf29ce484222325"), KeyWith(nil, ""))
	})
}

func TestCacheKey_Valid(t *testing.T) {
	assert.False(t, CacheKey("").Valid())
	assert.False(t, CacheKey("ABC").Valid())
	assert.False(t, CacheKey("../x").Valid())
	assert.True(t, CacheKey("0af9").Valid())
}

func TestCRC32C(t *testing.T) {
	// RFC 3720 test vector
	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("123456789")))

	assert.Equal(t, uint32(0xe3069283), CRC32C([]byte("1234"), []byte("56789")))
	assert.Zero(t, CRC32C())
}
