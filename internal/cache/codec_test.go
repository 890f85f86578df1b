package cache

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCodec(t *testing.T) {
	for _, name := range []string{"none", "zstd", "lz4"} {
		c, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}

	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecNone, c)

	_, err = ParseCodec("brotli")
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef, 0x00}, 4096)

	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.Name(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := codec.NewWriter(&buf)
			require.NoError(t, err)
			_, err = w.Write(data)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if codec != CodecNone {
				assert.Less(t, buf.Len(), len(data))
			}

			byTag, err := codecByTag(codec.Tag())
			require.NoError(t, err)
			r, err := byTag.NewReader(&buf)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, data, got)
		})
	}
}

func TestCodecByTag_Unknown(t *testing.T) {
	_, err := codecByTag(0xff)
	assert.Error(t, err)
}
