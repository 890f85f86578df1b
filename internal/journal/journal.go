package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/imgcache/internal/fs"
)

// Durability controls the durability guarantees of the journal.
type Durability int

const (
	// DurabilityAsync relies on the OS page cache until Sync is called.
	DurabilityAsync Durability = iota
	// DurabilitySync calls fsync after every append.
	DurabilitySync
)

const (
	journalMagic      = "IMGCJRNL" // 8 bytes
	journalVersion    = 1          // 4 bytes
	journalHeaderSize = 12
)

var (
	ErrIncompatibleVersion = errors.New("incompatible journal version")
	ErrInvalidHeader       = errors.New("invalid journal header")
	// ErrCorrupt is returned by Replay when a record fails validation
	// before the end of the file. A torn tail is not corruption.
	ErrCorrupt = errors.New("journal corrupt")
)

type Options struct {
	Durability Durability
}

func DefaultOptions() Options {
	return Options{Durability: DurabilityAsync}
}

// Journal is the append-only index log of the disk cache.
type Journal struct {
	mu      sync.Mutex
	fs      fs.FileSystem
	file    fs.File
	cw      *countingWriter
	path    string
	opts    Options
	records int
	closed  bool
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Open opens or creates a journal at the given path.
func Open(fsys fs.FileSystem, path string, opts Options) (*Journal, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	offset := stat.Size()

	if offset == 0 {
		if err := writeHeader(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		offset = journalHeaderSize
	} else if err := checkHeader(f, offset); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Journal{
		fs:   fsys,
		file: f,
		cw:   &countingWriter{w: bufio.NewWriter(f), n: offset},
		path: path,
		opts: opts,
	}, nil
}

func writeHeader(f fs.File) error {
	header := make([]byte, journalHeaderSize)
	copy(header[0:8], journalMagic)
	binary.LittleEndian.PutUint32(header[8:12], uint32(journalVersion))
	if _, err := f.Write(header); err != nil {
		return err
	}
	return f.Sync()
}

func checkHeader(f io.ReaderAt, size int64) error {
	if size < journalHeaderSize {
		return fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, size, journalHeaderSize)
	}
	header := make([]byte, journalHeaderSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return err
	}
	if string(header[0:8]) != journalMagic {
		return fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, header[0:8])
	}
	if ver := binary.LittleEndian.Uint32(header[8:12]); ver != journalVersion {
		return fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, journalVersion)
	}
	return nil
}

// Append writes a record to the journal.
// It respects the configured durability mode.
func (j *Journal) Append(rec *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return os.ErrClosed
	}
	if err := rec.Encode(j.cw); err != nil {
		return err
	}
	if err := j.cw.w.Flush(); err != nil {
		return err
	}
	j.records++
	if j.opts.Durability == DurabilitySync {
		return j.file.Sync()
	}
	return nil
}

// Sync commits all appended records to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return os.ErrClosed
	}
	if err := j.cw.w.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Size returns the current size of the journal in bytes.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cw.n
}

// Appended returns the number of records appended since Open.
func (j *Journal) Appended() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records
}

// Path returns the journal file path.
func (j *Journal) Path() string { return j.path }

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return os.ErrClosed
	}
	j.closed = true

	if err := j.cw.w.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}

// Replay calls fn for every valid record in the journal at path.
//
// It returns the offset just past the last valid record. A record cut short
// by the end of the file (a torn write) ends the replay without error; the
// caller should truncate the file to the returned offset. A checksum or type
// failure returns ErrCorrupt. A missing file replays zero records.
func Replay(fsys fs.FileSystem, path string, fn func(*Record) error) (int64, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if stat.Size() == 0 {
		return 0, nil
	}
	if err := checkHeader(f, stat.Size()); err != nil {
		return 0, err
	}
	if _, err := f.Seek(journalHeaderSize, io.SeekStart); err != nil {
		return 0, err
	}

	r := bufio.NewReader(f)
	offset := int64(journalHeaderSize)
	for {
		rec, n, err := Decode(r)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return offset, nil
		default:
			return offset, fmt.Errorf("%w at offset %d: %w", ErrCorrupt, offset, err)
		}
		if err := fn(rec); err != nil {
			return offset, err
		}
		offset += n
	}
}

// Rewrite atomically replaces the journal at path with recs and opens it.
// The new journal is staged next to path and renamed into place.
func Rewrite(fsys fs.FileSystem, path string, recs []*Record, opts Options) (*Journal, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	tmpPath := path + ".tmp"
	f, err := fsys.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	if err := writeRecords(f, recs); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmpPath)
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(tmpPath)
		return nil, err
	}
	if err := fsys.Rename(tmpPath, path); err != nil {
		_ = fsys.Remove(tmpPath)
		return nil, err
	}
	return Open(fsys, path, opts)
}

func writeRecords(f fs.File, recs []*Record) error {
	if err := writeHeader(f); err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, rec := range recs {
		if err := rec.Encode(w); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}
