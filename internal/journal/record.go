package journal

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/hupe1980/imgcache/internal/hash"
)

// RecordType identifies the type of journal record.
type RecordType uint8

const (
	// RecordClean marks a blob as committed and visible.
	RecordClean RecordType = 1
	// RecordRemove marks a blob as deleted (evicted or invalidated).
	RecordRemove RecordType = 2
	// RecordRead bumps the last access time of a blob.
	RecordRead RecordType = 3
)

func (t RecordType) String() string {
	switch t {
	case RecordClean:
		return "CLEAN"
	case RecordRemove:
		return "REMOVE"
	case RecordRead:
		return "READ"
	default:
		return "UNKNOWN"
	}
}

const (
	// crc(4) + type(1) + time(8) + size(8) + keylen(2)
	recordHeaderSize = 4 + 1 + 8 + 8 + 2
	maxKeyLen        = 128
)

var (
	ErrInvalidCRC  = errors.New("invalid journal record checksum")
	ErrInvalidType = errors.New("invalid journal record type")
	ErrKeyTooLong  = errors.New("journal record key too long")
)

// Record is a single index mutation.
type Record struct {
	Type RecordType
	Key  hash.CacheKey
	// Size is the on-disk blob size (CLEAN only).
	Size int64
	// Time is the access time in unix nanoseconds.
	Time int64
}

// EncodedLen returns the encoded length of the record.
func (r *Record) EncodedLen() int {
	return recordHeaderSize + len(r.Key)
}

// Encode writes the record to w.
// Format:
// [CRC32C: 4 bytes] [Type: 1 byte] [Time: 8 bytes] [Size: 8 bytes] [KeyLen: 2 bytes] [Key: KeyLen bytes]
// The checksum covers everything after itself.
func (r *Record) Encode(w io.Writer) error {
	if len(r.Key) > maxKeyLen {
		return ErrKeyTooLong
	}
	buf := make([]byte, r.EncodedLen())
	buf[4] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[5:], uint64(r.Time))
	binary.LittleEndian.PutUint64(buf[13:], uint64(r.Size))
	binary.LittleEndian.PutUint16(buf[21:], uint16(len(r.Key)))
	copy(buf[recordHeaderSize:], r.Key)
	binary.LittleEndian.PutUint32(buf[0:], hash.CRC32C(buf[4:]))

	_, err := w.Write(buf)
	return err
}

// Decode reads a record from r and returns the number of bytes consumed.
// A record cut short by the end of the stream yields io.ErrUnexpectedEOF;
// a clean end of stream yields io.EOF.
func Decode(r io.Reader) (*Record, int64, error) {
	header := make([]byte, recordHeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		return nil, int64(n), err
	}

	keyLen := int(binary.LittleEndian.Uint16(header[21:]))
	if keyLen > maxKeyLen {
		return nil, recordHeaderSize, ErrKeyTooLong
	}
	key := make([]byte, keyLen)
	if m, err := io.ReadFull(r, key); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, int64(recordHeaderSize + m), err
	}
	consumed := int64(recordHeaderSize + keyLen)

	if hash.CRC32C(header[4:], key) != binary.LittleEndian.Uint32(header[0:]) {
		return nil, consumed, ErrInvalidCRC
	}

	rec := &Record{
		Type: RecordType(header[4]),
		Time: int64(binary.LittleEndian.Uint64(header[5:])),
		Size: int64(binary.LittleEndian.Uint64(header[13:])),
		Key:  hash.CacheKey(key),
	}
	switch rec.Type {
	case RecordClean, RecordRemove, RecordRead:
	default:
		return nil, consumed, ErrInvalidType
	}
	return rec, consumed, nil
}
