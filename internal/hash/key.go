package hash

import (
	"crypto/md5" //nolint:gosec // identifier digest, not a security boundary
	"encoding/hex"
	"hash"
	"hash/fnv"
	"strconv"
)

// CacheKey is the fixed-length identifier of a cached image.
// It is derived from the URI and is safe to use as a file name.
type CacheKey string

// String implements fmt.Stringer.
func (k CacheKey) String() string { return string(k) }

// Valid reports whether k looks like a derived key (lowercase hex).
func (k CacheKey) Valid() bool {
	if len(k) == 0 {
		return false
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Key derives the cache key of uri using MD5.
func Key(uri string) CacheKey {
	return KeyWith(md5.New, uri)
}

// KeyWith derives the cache key of uri using the digest built by newHash.
// If newHash is nil or panics, the key falls back to FNV-1a (64 bit).
func KeyWith(newHash func() hash.Hash, uri string) CacheKey {
	if newHash == nil {
		return fallbackKey(uri)
	}
	if k, ok := digestKey(newHash, uri); ok {
		return k
	}
	return fallbackKey(uri)
}

func digestKey(newHash func() hash.Hash, uri string) (k CacheKey, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	h := newHash()
	if h == nil {
		return "", false
	}
	_, _ = h.Write([]byte(uri))
	return CacheKey(hex.EncodeToString(h.Sum(nil))), true
}

func fallbackKey(uri string) CacheKey {
	h := fnv.New64a()
	_, _ = h.Write([]byte(uri))
	s := strconv.FormatUint(h.Sum64(), 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return CacheKey(s)
}
