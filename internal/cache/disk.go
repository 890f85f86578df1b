package cache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/imgcache/internal/fs"
	"github.com/hupe1980/imgcache/internal/hash"
	"github.com/hupe1980/imgcache/internal/journal"
	"golang.org/x/sync/errgroup"
)

const (
	blobExt     = ".blob"
	journalName = "journal"
	tmpDirName  = "tmp"

	defaultCompactThreshold = 2000
)

var (
	// ErrNotFound is returned by Open when a key has no committed blob.
	ErrNotFound = errors.New("cache: blob not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache: disk store closed")
	// ErrTooLarge is returned when a single blob exceeds the store capacity.
	ErrTooLarge = errors.New("cache: blob larger than disk capacity")
	// ErrInvalidKey is returned for keys that are not safe file names.
	ErrInvalidKey = errors.New("cache: invalid key")
)

// WriteError is a disk-side failure of Write. Errors returned by the
// producer are passed through unchanged and never wrapped in WriteError.
type WriteError struct {
	Op  string // "stage", "sync", "publish", "journal"
	Key hash.CacheKey
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DiskStoreConfig holds configuration for the disk store.
type DiskStoreConfig struct {
	// Dir is the directory where blobs and the journal are stored.
	Dir string
	// CapacityBytes is the maximum on-disk size of all blobs.
	CapacityBytes int64
	// Codec compresses new blobs. Defaults to CodecNone.
	Codec Codec
	// FS is the filesystem. Defaults to fs.Default.
	FS fs.FileSystem
	// SyncEveryCommit fsyncs the journal after every committed write.
	SyncEveryCommit bool
	// CompactThreshold is the number of redundant journal records that
	// triggers a rewrite. Defaults to 2000.
	CompactThreshold int
	// Logger receives recovery and eviction events.
	Logger *slog.Logger
}

// DiskStats is a snapshot of the disk store.
type DiskStats struct {
	Entries   int
	SizeBytes int64
	Capacity  int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// DiskStore is a bounded, persistent key->blob store with LRU eviction.
//
// Blobs are staged under tmp/ and renamed into place, so readers never see
// a partial blob. The index lives in memory and is persisted through an
// append-only journal replayed on open.
type DiskStore struct {
	mu       sync.Mutex
	fs       fs.FileSystem
	dir      string
	tmpDir   string
	capacity int64
	codec    Codec
	logger   *slog.Logger
	syncEach bool
	compactN int

	journal *journal.Journal
	records int // live journal records (replayed + appended)

	items       map[hash.CacheKey]*lruEntry
	lruHead     *lruEntry
	lruTail     *lruEntry
	currentSize int64
	closed      bool
	onEvict     EvictFunc

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type lruEntry struct {
	key        hash.CacheKey
	size       int64
	atime      int64
	seq        int
	next, prev *lruEntry
}

// OpenDiskStore opens (or creates) a disk store in cfg.Dir.
//
// The index is recovered from the journal. A torn journal tail is
// truncated; a corrupt journal is discarded and the index is rebuilt by
// scanning blob files, using modification time as last access. Staging
// leftovers and blobs without an index entry are deleted.
func OpenDiskStore(cfg DiskStoreConfig) (*DiskStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache: disk store directory is required")
	}
	if cfg.CapacityBytes <= 0 {
		return nil, fmt.Errorf("cache: invalid disk capacity %d", cfg.CapacityBytes)
	}
	if cfg.FS == nil {
		cfg.FS = fs.Default
	}
	if cfg.Codec == nil {
		cfg.Codec = CodecNone
	}
	if cfg.CompactThreshold <= 0 {
		cfg.CompactThreshold = defaultCompactThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	s := &DiskStore{
		fs:       cfg.FS,
		dir:      cfg.Dir,
		tmpDir:   filepath.Join(cfg.Dir, tmpDirName),
		capacity: cfg.CapacityBytes,
		codec:    cfg.Codec,
		logger:   cfg.Logger,
		syncEach: cfg.SyncEveryCommit,
		compactN: cfg.CompactThreshold,
		items:    make(map[hash.CacheKey]*lruEntry),
	}

	if err := s.fs.MkdirAll(s.tmpDir, 0755); err != nil {
		return nil, err
	}
	s.sweepStaging()

	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DiskStore) journalPath() string {
	return filepath.Join(s.dir, journalName)
}

func (s *DiskStore) blobPath(key hash.CacheKey) string {
	return filepath.Join(s.dir, string(key)+blobExt)
}

func (s *DiskStore) sweepStaging() {
	entries, err := s.fs.ReadDir(s.tmpDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		_ = s.fs.Remove(filepath.Join(s.tmpDir, e.Name()))
	}
}

func (s *DiskStore) recover() error {
	entries := make(map[hash.CacheKey]*lruEntry)
	var seq int

	valid, err := journal.Replay(s.fs, s.journalPath(), func(r *journal.Record) error {
		seq++
		switch r.Type {
		case journal.RecordClean:
			entries[r.Key] = &lruEntry{key: r.Key, size: r.Size, atime: r.Time, seq: seq}
		case journal.RecordRead:
			if e, ok := entries[r.Key]; ok {
				e.atime = r.Time
				e.seq = seq
			}
		case journal.RecordRemove:
			delete(entries, r.Key)
		}
		return nil
	})

	onDisk, scanErr := s.scanBlobs()
	if scanErr != nil {
		return scanErr
	}

	rebuilt := false
	switch {
	case err == nil:
		if info, statErr := s.fs.Stat(s.journalPath()); statErr == nil && info.Size() > valid && valid > 0 {
			s.logger.Warn("truncating torn journal tail", "dir", s.dir, "valid", valid, "size", info.Size())
			if err := s.fs.Truncate(s.journalPath(), valid); err != nil {
				return err
			}
		}
	case errors.Is(err, journal.ErrCorrupt), errors.Is(err, journal.ErrInvalidHeader), errors.Is(err, journal.ErrIncompatibleVersion):
		s.logger.Warn("journal unreadable, rebuilding index from blobs", "dir", s.dir, "error", err)
		entries = onDisk
		rebuilt = true
	default:
		return err
	}

	// Drop index entries whose blob is gone; delete blobs nobody indexed.
	for key, e := range entries {
		d, ok := onDisk[key]
		if !ok {
			delete(entries, key)
			continue
		}
		e.size = d.size
	}
	for key := range onDisk {
		if _, ok := entries[key]; !ok {
			_ = s.fs.Remove(s.blobPath(key))
		}
	}

	ordered := make([]*lruEntry, 0, len(entries))
	for _, e := range entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].seq != ordered[j].seq {
			return ordered[i].seq < ordered[j].seq
		}
		return ordered[i].atime < ordered[j].atime
	})
	for _, e := range ordered {
		s.pushFront(e)
	}

	if rebuilt || seq > len(ordered) {
		if err := s.rewriteJournal(); err != nil {
			return err
		}
	} else {
		j, err := journal.Open(s.fs, s.journalPath(), journal.DefaultOptions())
		if err != nil {
			return err
		}
		s.journal = j
		s.records = seq
	}

	for s.currentSize > s.capacity && s.lruTail != nil {
		s.evictOne()
	}
	return nil
}

// scanBlobs stats every blob file in the store directory.
func (s *DiskStore) scanBlobs() (map[hash.CacheKey]*lruEntry, error) {
	dirEntries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		found = make(map[hash.CacheKey]*lruEntry)
		g     errgroup.Group
	)
	g.SetLimit(8)
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, blobExt) {
			continue
		}
		key := hash.CacheKey(strings.TrimSuffix(name, blobExt))
		if !key.Valid() {
			continue
		}
		g.Go(func() error {
			info, err := s.fs.Stat(filepath.Join(s.dir, name))
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			mu.Lock()
			found[key] = &lruEntry{key: key, size: info.Size(), atime: info.ModTime().UnixNano()}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// rewriteJournal replaces the journal with one CLEAN record per entry,
// oldest first. Must hold lock (or be called during open).
func (s *DiskStore) rewriteJournal() error {
	recs := make([]*journal.Record, 0, len(s.items))
	for e := s.lruTail; e != nil; e = e.prev {
		recs = append(recs, &journal.Record{Type: journal.RecordClean, Key: e.key, Size: e.size, Time: e.atime})
	}

	if s.journal != nil {
		_ = s.journal.Close()
		s.journal = nil
	}
	j, err := journal.Rewrite(s.fs, s.journalPath(), recs, journal.DefaultOptions())
	if err != nil {
		// Keep appending to whatever journal is on disk.
		if j2, openErr := journal.Open(s.fs, s.journalPath(), journal.DefaultOptions()); openErr == nil {
			s.journal = j2
		}
		return err
	}
	s.journal = j
	s.records = len(recs)
	return nil
}

// OnEvict registers fn to be called for capacity evictions.
func (s *DiskStore) OnEvict(fn EvictFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Contains reports whether key has a committed blob, without touching recency.
func (s *DiskStore) Contains(key hash.CacheKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

// touch looks up key, bumps its recency and returns its path.
func (s *DiskStore) touch(key hash.CacheKey) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", 0, ErrClosed
	}
	ent, ok := s.items[key]
	if !ok {
		s.misses.Add(1)
		return "", 0, ErrNotFound
	}
	ent.atime = time.Now().UnixNano()
	s.moveToFront(ent)
	s.appendLocked(&journal.Record{Type: journal.RecordRead, Key: key, Time: ent.atime})
	return s.blobPath(key), ent.size, nil
}

// Open returns a reader over the decoded blob for key and its on-disk size.
// It returns ErrNotFound when the key has no committed blob.
func (s *DiskStore) Open(key hash.CacheKey) (io.ReadCloser, int64, error) {
	path, size, err := s.touch(key)
	if err != nil {
		return nil, 0, err
	}

	f, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			// Blob vanished underneath the index.
			s.forget(key)
			s.misses.Add(1)
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}

	br := bufio.NewReader(f)
	tag, err := br.ReadByte()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("cache: read %s: %w", key, err)
	}
	codec, err := codecByTag(tag)
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	rc, err := codec.NewReader(br)
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	s.hits.Add(1)
	return &blobReader{ReadCloser: rc, f: f}, size, nil
}

type blobReader struct {
	io.ReadCloser
	f fs.File
}

func (r *blobReader) Close() error {
	err := r.ReadCloser.Close()
	if ferr := r.f.Close(); err == nil {
		err = ferr
	}
	return err
}

// Read returns the bytes written for key. ok=false if absent.
func (s *DiskStore) Read(key hash.CacheKey) ([]byte, bool, error) {
	rc, _, err := s.Open(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, fmt.Errorf("cache: read %s: %w", key, err)
	}
	return b, true, nil
}

// Write stores the bytes streamed by producer under key.
//
// The producer writes into a staging file; the blob becomes visible only
// after the staging file is synced and renamed into place. If the producer
// or any disk operation fails, the staging file is removed and any blob
// previously stored under key is left untouched.
func (s *DiskStore) Write(key hash.CacheKey, producer func(w io.Writer) error) error {
	if !key.Valid() {
		return ErrInvalidKey
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	tmp, err := s.fs.CreateTemp(s.tmpDir, string(key)+".*.tmp")
	if err != nil {
		return &WriteError{Op: "stage", Key: key, Err: err}
	}
	tmpName := tmp.Name()
	published := false
	defer func() {
		if !published {
			_ = s.fs.Remove(tmpName)
		}
	}()

	size, err := s.stage(tmp, key, producer)
	if err != nil {
		return err
	}
	if size > s.capacity {
		return &WriteError{Op: "stage", Key: key, Err: ErrTooLarge}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.fs.Rename(tmpName, s.blobPath(key)); err != nil {
		return &WriteError{Op: "publish", Key: key, Err: err}
	}
	published = true

	if old, ok := s.items[key]; ok {
		s.removeEntry(old)
	}
	ent := &lruEntry{key: key, size: size, atime: time.Now().UnixNano()}
	s.pushFront(ent)

	rec := &journal.Record{Type: journal.RecordClean, Key: key, Size: size, Time: ent.atime}
	if err := s.appendJournal(rec); err != nil {
		// The blob is visible but not recorded; drop it so the index
		// and the journal agree after a restart.
		_ = s.fs.Remove(s.blobPath(key))
		s.removeEntry(ent)
		return &WriteError{Op: "journal", Key: key, Err: err}
	}
	s.records++

	if s.syncEach {
		if err := s.syncJournal(); err != nil {
			// Not durable: withdraw the blob so a failed commit leaves
			// nothing visible, and record the withdrawal for replay.
			s.deleteLocked(ent)
			return &WriteError{Op: "sync", Key: key, Err: err}
		}
	}

	for s.currentSize > s.capacity && s.lruTail != nil {
		s.evictOne()
	}
	s.maybeCompactLocked()
	return nil
}

func (s *DiskStore) stage(tmp fs.File, key hash.CacheKey, producer func(w io.Writer) error) (int64, error) {
	bw := bufio.NewWriter(tmp)
	fail := func(op string, err error) (int64, error) {
		_ = tmp.Close()
		return 0, &WriteError{Op: op, Key: key, Err: err}
	}

	if err := bw.WriteByte(s.codec.Tag()); err != nil {
		return fail("stage", err)
	}
	cw, err := s.codec.NewWriter(bw)
	if err != nil {
		return fail("stage", err)
	}
	if err := producer(cw); err != nil {
		_ = cw.Close()
		_ = tmp.Close()
		return 0, err
	}
	if err := cw.Close(); err != nil {
		return fail("stage", err)
	}
	if err := bw.Flush(); err != nil {
		return fail("stage", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return fail("stage", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, &WriteError{Op: "stage", Key: key, Err: err}
	}
	return info.Size(), nil
}

// Remove deletes the blob for key. Removing an absent key is a no-op.
func (s *DiskStore) Remove(key hash.CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	ent, ok := s.items[key]
	if !ok {
		return nil
	}
	s.deleteLocked(ent)
	return nil
}

// Clear removes every blob.
func (s *DiskStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for s.lruTail != nil {
		s.deleteLocked(s.lruTail)
	}
	return s.rewriteJournal()
}

// Flush persists the index durably, compacting the journal when it has
// accumulated too many redundant records.
func (s *DiskStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.maybeCompactLocked()
	return s.syncJournal()
}

func (s *DiskStore) syncJournal() error {
	if s.journal == nil {
		return os.ErrClosed
	}
	return s.journal.Sync()
}

// Close flushes the journal and releases the store.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

// Len returns the number of committed blobs.
func (s *DiskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Size returns the on-disk size of all committed blobs.
func (s *DiskStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSize
}

// Capacity returns the configured capacity in bytes.
func (s *DiskStore) Capacity() int64 { return s.capacity }

// Dir returns the store directory.
func (s *DiskStore) Dir() string { return s.dir }

// Stats returns a snapshot of the store.
func (s *DiskStore) Stats() DiskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DiskStats{
		Entries:   len(s.items),
		SizeBytes: s.currentSize,
		Capacity:  s.capacity,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}

func (s *DiskStore) forget(key hash.CacheKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.items[key]; ok {
		s.removeEntry(ent)
		s.appendLocked(&journal.Record{Type: journal.RecordRemove, Key: key, Time: time.Now().UnixNano()})
	}
}

func (s *DiskStore) appendJournal(rec *journal.Record) error {
	if s.journal == nil {
		return os.ErrClosed
	}
	return s.journal.Append(rec)
}

func (s *DiskStore) appendLocked(rec *journal.Record) {
	if s.closed {
		return
	}
	if err := s.appendJournal(rec); err != nil {
		s.logger.Warn("journal append failed", "dir", s.dir, "type", rec.Type.String(), "key", string(rec.Key), "error", err)
		return
	}
	s.records++
}

func (s *DiskStore) maybeCompactLocked() {
	if s.records-len(s.items) <= s.compactN {
		return
	}
	if err := s.rewriteJournal(); err != nil {
		s.logger.Warn("journal compaction failed", "dir", s.dir, "error", err)
	}
}

// Internal LRU helpers (must hold lock)

func (s *DiskStore) deleteLocked(ent *lruEntry) {
	_ = s.fs.Remove(s.blobPath(ent.key))
	s.removeEntry(ent)
	s.appendLocked(&journal.Record{Type: journal.RecordRemove, Key: ent.key, Time: time.Now().UnixNano()})
}

func (s *DiskStore) evictOne() {
	ent := s.lruTail
	if ent == nil {
		return
	}
	s.deleteLocked(ent)
	s.evictions.Add(1)
	s.logger.Debug("evicted blob", "key", string(ent.key), "size", ent.size)
	if s.onEvict != nil {
		s.onEvict(ent.key, ent.size)
	}
}

// pushFront indexes a new entry as most recently used.
func (s *DiskStore) pushFront(ent *lruEntry) {
	s.items[ent.key] = ent
	s.currentSize += ent.size

	ent.prev = nil
	ent.next = s.lruHead
	if s.lruHead != nil {
		s.lruHead.prev = ent
	}
	s.lruHead = ent
	if s.lruTail == nil {
		s.lruTail = ent
	}
}

func (s *DiskStore) moveToFront(ent *lruEntry) {
	if s.lruHead == ent {
		return
	}

	// Detach
	if ent.prev != nil {
		ent.prev.next = ent.next
	}
	if ent.next != nil {
		ent.next.prev = ent.prev
	}
	if s.lruTail == ent {
		s.lruTail = ent.prev
	}

	// Attach front
	ent.next = s.lruHead
	ent.prev = nil
	if s.lruHead != nil {
		s.lruHead.prev = ent
	}
	s.lruHead = ent
	if s.lruTail == nil {
		s.lruTail = ent
	}
}

func (s *DiskStore) removeEntry(ent *lruEntry) {
	if ent.prev != nil {
		ent.prev.next = ent.next
	} else {
		s.lruHead = ent.next
	}

	if ent.next != nil {
		ent.next.prev = ent.prev
	} else {
		s.lruTail = ent.prev
	}
	ent.prev, ent.next = nil, nil

	delete(s.items, ent.key)
	s.currentSize -= ent.size
}
