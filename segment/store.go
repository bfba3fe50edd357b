package segment

// store.go: Store owns the memory-mapped bytes of one segment file and
// hands out read-only views (Getters) over its record region.

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blockforge/snapseg/internal/mmap"
)

// OpenOptions holds all parameters for opening a segment store.
type OpenOptions struct {
	FilePath string
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Store provides random access to the records of one immutable segment
// file. The file is mapped read-only for the lifetime of the store; every
// Getter and every index built over it borrows the same mapping, so the
// store must outlive them all.
type Store struct {
	f        *os.File
	mem      []byte // full mapping, nil after Close
	data     []byte // record region (past header and dictionaries)
	filePath string
	fileName string
	size     int64
	modTime  time.Time

	wordCount      uint64
	emptyWordCount uint64

	dict    *patternTable
	posDict *posTable

	logger *slog.Logger
	tracer trace.Tracer

	closed atomic.Bool
}

// Open maps the segment file read-only and parses its header and
// dictionaries.
func Open(opts OpenOptions) (s *Store, err error) {
	if opts.Tracer != nil {
		var span trace.Span
		_, span = opts.Tracer.Start(context.Background(), "Segment.Open")
		span.SetAttributes(attribute.String("segment.filepath", opts.FilePath))
		defer span.End()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "Segment_default")
	}
	_, fileName := filepath.Split(opts.FilePath)
	opts.Logger = opts.Logger.With("segment", fileName)

	f, err := os.Open(opts.FilePath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < CompressedMinSize {
		return nil, fmt.Errorf("file %s is too short (%d bytes): %w", fileName, size, ErrFormat)
	}

	mem, err := mmap.Map(f, size)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			mmap.Unmap(mem)
		}
	}()

	s = &Store{
		f:        f,
		mem:      mem,
		filePath: opts.FilePath,
		fileName: fileName,
		size:     size,
		modTime:  stat.ModTime(),
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}

	s.wordCount = binary.BigEndian.Uint64(mem[:8])
	s.emptyWordCount = binary.BigEndian.Uint64(mem[8:16])
	patternDictSize := binary.BigEndian.Uint64(mem[16:24])
	if 24+patternDictSize > uint64(size) {
		return nil, fmt.Errorf("pattern dictionary size %d exceeds file %s: %w", patternDictSize, fileName, ErrFormat)
	}
	var dictWords int
	s.dict, dictWords, err = parsePatternDict(mem[24 : 24+patternDictSize])
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", fileName, err)
	}

	pos := 24 + patternDictSize
	if pos+8 > uint64(size) {
		return nil, fmt.Errorf("file %s has no position dictionary: %w", fileName, ErrFormat)
	}
	posDictSize := binary.BigEndian.Uint64(mem[pos : pos+8])
	if pos+8+posDictSize > uint64(size) {
		return nil, fmt.Errorf("position dictionary size %d exceeds file %s: %w", posDictSize, fileName, ErrFormat)
	}
	s.posDict, err = parsePosDict(mem[pos+8 : pos+8+posDictSize])
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", fileName, err)
	}

	s.data = mem[pos+8+posDictSize:]
	s.logger.Debug("Segment opened.",
		"words", s.wordCount,
		"empty_words", s.emptyWordCount,
		"dict_patterns", dictWords,
		"record_bytes", len(s.data))
	return s, nil
}

// MakeGetter returns a new decompression cursor over the record region.
// A Getter is not safe for concurrent use, but any number of Getters may be
// used simultaneously over the same store.
func (s *Store) MakeGetter() *Getter {
	return &Getter{
		store:    s,
		dict:     s.dict,
		posDict:  s.posDict,
		fileName: s.fileName,
		cur:      bitCursor{data: s.data},
	}
}

// Count returns the total number of records in the segment.
func (s *Store) Count() int { return int(s.wordCount) }

// EmptyCount returns how many of the records are zero-length.
func (s *Store) EmptyCount() int { return int(s.emptyWordCount) }

func (s *Store) Size() int64        { return s.size }
func (s *Store) ModTime() time.Time { return s.modTime }
func (s *Store) FilePath() string   { return s.filePath }
func (s *Store) FileName() string   { return s.fileName }

// DataSize returns the byte length of the record region. Getter offsets are
// relative to it and always fall in [0, DataSize].
func (s *Store) DataSize() uint64 { return uint64(len(s.data)) }

// MadvSequential hints the kernel that the mapping will be scanned.
func (s *Store) MadvSequential() *Store {
	if s == nil || s.closed.Load() {
		return s
	}
	_ = mmap.MadviseSequential(s.mem)
	return s
}

// MadvRandom resets the access-pattern hint; pairs with MadvSequential as
// `defer s.MadvSequential().MadvRandom()`.
func (s *Store) MadvRandom() {
	if s == nil || s.closed.Load() {
		return
	}
	_ = mmap.MadviseRandom(s.mem)
}

// MadvWillNeed asks the kernel to prefault the mapping.
func (s *Store) MadvWillNeed() *Store {
	if s == nil || s.closed.Load() {
		return s
	}
	_ = mmap.MadviseWillNeed(s.mem)
	return s
}

// Close unmaps the file. It is idempotent. The caller must guarantee that
// no Getter or index view over this store is used afterwards; such use is
// detected and fails with ErrClosed instead of touching unmapped memory.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if err := mmap.Unmap(s.mem); err != nil {
		s.logger.Error("Unmap failed.", "error", err)
		firstErr = err
	}
	s.mem = nil
	s.data = nil
	if err := s.f.Close(); err != nil {
		s.logger.Error("Close failed.", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
