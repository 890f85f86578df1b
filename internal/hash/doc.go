// Package hash derives cache keys and integrity checksums.
//
// # Cache keys
//
// Every cached image is addressed by a [Key] derived from its URI, not from
// its content. The default derivation is the MD5 digest of the URI's UTF-8
// bytes, rendered as 32 lowercase hex characters:
//
//	k := hash.Key("https://example.com/cat.jpg")
//
// [KeyWith] accepts any digest constructor. When the constructor is missing
// or fails, derivation falls back to 64-bit FNV-1a rendered as 16 hex
// characters. The fallback is deterministic and total, but its collision
// resistance is far weaker than a cryptographic digest.
//
// # CRC32-Castagnoli (CRC32C)
//
// Journal records are framed with CRC32C, which Go computes with hardware
// instructions when available. The checksum spans any number of slices:
//
//	sum := hash.CRC32C(header, key)
package hash
