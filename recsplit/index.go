package recsplit

// index.go: Index is the read side, an mmap over one index file.

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

	"github.com/blockforge/snapseg/eliasfano"
	"github.com/blockforge/snapseg/filter"
	"github.com/blockforge/snapseg/internal/mmap"
)

// OpenOptions holds all parameters for opening an index.
type OpenOptions struct {
	FilePath string
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Index is an opened perfect-hash index file. Lookups are safe for
// concurrent use; the index must outlive all of them.
type Index struct {
	f        *os.File
	mem      []byte
	filePath string
	fileName string
	size     int64
	modTime  time.Time

	baseOrdinal uint64
	keyCount    uint64
	bytesPerRec int
	records     []byte
	bucketCount uint64
	bucketSize  uint16
	salt        uint32
	seeds       []uint64
	tree        splitTree
	gp          *golombParams

	enums     bool
	efOffsets *eliasfano.EliasFano
	bloom     filter.Filter

	grWords  []uint64
	efCum    *eliasfano.EliasFano
	efBitPos *eliasfano.EliasFano

	logger *slog.Logger
	tracer trace.Tracer

	closed atomic.Bool
}

// OpenIndex maps the index file read-only and parses it. The Elias-Fano
// sequences and the seed stream are copied out of the mapping into aligned
// words; the record table stays mapped.
func OpenIndex(opts OpenOptions) (idx *Index, err error) {
	if opts.Tracer != nil {
		var span trace.Span
		_, span = opts.Tracer.Start(context.Background(), "Index.Open")
		span.SetAttributes(attribute.String("index.filepath", opts.FilePath))
		defer span.End()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "Index_default")
	}
	_, fileName := filepath.Split(opts.FilePath)
	opts.Logger = opts.Logger.With("index", fileName)

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

	mem, err := mmap.Map(f, size)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			mmap.Unmap(mem)
		}
	}()

	idx = &Index{
		f:        f,
		mem:      mem,
		filePath: opts.FilePath,
		fileName: fileName,
		size:     size,
		modTime:  stat.ModTime(),
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}

	p := uint64(0)
	need := func(n uint64) error {
		if p+n > uint64(len(mem)) {
			return fmt.Errorf("file %s truncated at %d: %w", fileName, p, ErrFormat)
		}
		return nil
	}
	if err = need(17); err != nil {
		return nil, err
	}
	idx.baseOrdinal = binary.BigEndian.Uint64(mem[p:])
	idx.keyCount = binary.BigEndian.Uint64(mem[p+8:])
	idx.bytesPerRec = int(mem[p+16])
	p += 17
	if idx.bytesPerRec < 1 || idx.bytesPerRec > 8 {
		return nil, fmt.Errorf("file %s: %d bytes per record: %w", fileName, idx.bytesPerRec, ErrFormat)
	}
	if err = need(idx.keyCount * uint64(idx.bytesPerRec)); err != nil {
		return nil, err
	}
	idx.records = mem[p : p+idx.keyCount*uint64(idx.bytesPerRec)]
	p += idx.keyCount * uint64(idx.bytesPerRec)

	if err = need(17); err != nil {
		return nil, err
	}
	idx.bucketCount = binary.BigEndian.Uint64(mem[p:])
	idx.bucketSize = binary.BigEndian.Uint16(mem[p+8:])
	leafSize := binary.BigEndian.Uint16(mem[p+10:])
	idx.salt = binary.BigEndian.Uint32(mem[p+12:])
	seedCount := uint64(mem[p+16])
	p += 17
	if leafSize == 0 || leafSize > maxLeafSize {
		return nil, fmt.Errorf("file %s: leaf size %d: %w", fileName, leafSize, ErrFormat)
	}
	idx.tree = newSplitTree(leafSize)
	idx.gp = newGolombParams(idx.tree)
	// Fill the Rice parameter memo up front; concurrent lookups then only
	// read it. No bucket can hold more keys than the whole index.
	if maxM := min(idx.keyCount, 65535); maxM > 0 {
		idx.gp.param(uint16(maxM))
	}

	if err = need(seedCount * 8); err != nil {
		return nil, err
	}
	idx.seeds = make([]uint64, seedCount)
	for i := range idx.seeds {
		idx.seeds[i] = binary.BigEndian.Uint64(mem[p+uint64(i)*8:])
	}
	p += seedCount * 8

	if err = need(1); err != nil {
		return nil, err
	}
	features := mem[p]
	p++
	idx.enums = features&featureEnums != 0

	if idx.enums && idx.keyCount > 0 {
		ef, n, efErr := eliasfano.Read(mem[p:])
		if efErr != nil {
			return nil, fmt.Errorf("file %s offsets: %w: %v", fileName, ErrFormat, efErr)
		}
		idx.efOffsets = ef
		p += uint64(n)
	}
	if features&featureLessFalsePositives != 0 {
		if err = need(4); err != nil {
			return nil, err
		}
		blobLen := uint64(binary.BigEndian.Uint32(mem[p:]))
		p += 4
		if err = need(blobLen); err != nil {
			return nil, err
		}
		idx.bloom, err = filter.DeserializeBloom(mem[p : p+blobLen])
		if err != nil {
			return nil, fmt.Errorf("file %s existence filter: %w: %v", fileName, ErrFormat, err)
		}
		p += blobLen
	}

	if err = need(4); err != nil {
		return nil, err
	}
	grWordCount := uint64(binary.BigEndian.Uint32(mem[p:]))
	p += 4
	if err = need(grWordCount * 8); err != nil {
		return nil, err
	}
	idx.grWords = make([]uint64, grWordCount)
	for i := range idx.grWords {
		idx.grWords[i] = binary.LittleEndian.Uint64(mem[p+uint64(i)*8:])
	}
	p += grWordCount * 8

	if idx.keyCount > 0 {
		ef, n, efErr := eliasfano.Read(mem[p:])
		if efErr != nil {
			return nil, fmt.Errorf("file %s bucket key counts: %w: %v", fileName, ErrFormat, efErr)
		}
		idx.efCum = ef
		p += uint64(n)
		ef, _, efErr = eliasfano.Read(mem[p:])
		if efErr != nil {
			return nil, fmt.Errorf("file %s bucket seed positions: %w: %v", fileName, ErrFormat, efErr)
		}
		idx.efBitPos = ef
	}

	idx.logger.Debug("Index opened.",
		"keys", idx.keyCount,
		"buckets", idx.bucketCount,
		"enums", idx.enums,
		"existence_filter", idx.bloom != nil)
	return idx, nil
}

// BaseOrdinal returns the number of the first record this index covers.
func (idx *Index) BaseOrdinal() uint64 { return idx.baseOrdinal }

// KeyCount returns the number of keys in the build set.
func (idx *Index) KeyCount() uint64 { return idx.keyCount }

// Enums reports whether the index stores ordinals plus an offset sequence
// rather than raw offsets.
func (idx *Index) Enums() bool { return idx.enums }

// FileName returns the name of the index file.
func (idx *Index) FileName() string { return idx.fileName }

// ModTime returns the index file's modification time.
func (idx *Index) ModTime() time.Time { return idx.modTime }

func (idx *Index) record(i uint64) uint64 {
	var num [8]byte
	copy(num[8-idx.bytesPerRec:], idx.records[i*uint64(idx.bytesPerRec):(i+1)*uint64(idx.bytesPerRec)])
	return binary.BigEndian.Uint64(num[:])
}

// skipSubtree advances the reader past all seeds of a subtree of m keys.
func (idx *Index) skipSubtree(rr *riceReader, m uint16) {
	rr.readRice(idx.gp.param(m))
	if m <= idx.tree.leafSize {
		return
	}
	fanout, unit := idx.tree.splitParams(m)
	for _, size := range idx.tree.partSizes(m, fanout, unit) {
		idx.skipSubtree(rr, size)
	}
}

// Lookup returns the value stored for key: its record ordinal with Enums,
// otherwise its byte offset. For any key of the build set the second
// return is true and the value is exact; a foreign key yields an arbitrary
// value with true unless the existence filter rejects it.
func (idx *Index) Lookup(key []byte) (uint64, bool, error) {
	if idx.closed.Load() {
		return 0, false, fmt.Errorf("index %s: %w", idx.fileName, ErrClosed)
	}
	if idx.keyCount == 0 {
		return 0, false, nil
	}
	if idx.bloom != nil && !idx.bloom.Contains(key) {
		return 0, false, nil
	}

	hi, fp := hash128(idx.salt, key)
	bucket := remap(hi, idx.bucketCount)
	cum, err := idx.efCum.Get(bucket)
	if err != nil {
		return 0, false, err
	}
	cumNext, err := idx.efCum.Get(bucket + 1)
	if err != nil {
		return 0, false, err
	}
	m := uint16(cumNext - cum)
	if m == 0 {
		return 0, false, nil
	}
	bitPos, err := idx.efBitPos.Get(bucket)
	if err != nil {
		return 0, false, err
	}

	rr := riceReader{words: idx.grWords}
	rr.reset(bitPos)
	rel := uint64(0)
	level := 0
	for m > idx.tree.leafSize {
		if level >= len(idx.seeds) {
			return 0, false, fmt.Errorf("index %s: seed table exhausted at level %d: %w", idx.fileName, level, ErrFormat)
		}
		seed := rr.readRice(idx.gp.param(m)) + idx.seeds[level]
		fanout, unit := idx.tree.splitParams(m)
		sizes := idx.tree.partSizes(m, fanout, unit)
		part := remap16(remix(fp+seed), m) / unit
		for _, size := range sizes[:part] {
			idx.skipSubtree(&rr, size)
			rel += uint64(size)
		}
		m = sizes[part]
		level++
	}
	if level >= len(idx.seeds) {
		return 0, false, fmt.Errorf("index %s: seed table exhausted at level %d: %w", idx.fileName, level, ErrFormat)
	}
	seed := rr.readRice(idx.gp.param(m)) + idx.seeds[level]
	rel += uint64(remap16(remix(fp+seed), m))
	if rr.overflow {
		return 0, false, fmt.Errorf("index %s: seed stream truncated at bucket %d: %w", idx.fileName, bucket, ErrFormat)
	}

	return idx.record(cum + rel), true, nil
}

// OrdinalLookup returns the byte offset of record i. It requires the index
// to have been built with Enums.
func (idx *Index) OrdinalLookup(i uint64) (uint64, error) {
	if idx.closed.Load() {
		return 0, fmt.Errorf("index %s: %w", idx.fileName, ErrClosed)
	}
	if !idx.enums || idx.efOffsets == nil {
		return 0, fmt.Errorf("index %s has no ordinal sequence: %w", idx.fileName, ErrFormat)
	}
	if i >= idx.keyCount {
		return 0, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, idx.keyCount)
	}
	return idx.efOffsets.Get(i)
}

// Close releases the mapping and the file. It is idempotent; lookups after
// Close return ErrClosed.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := mmap.Unmap(idx.mem)
	idx.mem = nil
	idx.records = nil
	if cerr := idx.f.Close(); err == nil {
		err = cerr
	}
	idx.logger.Debug("Index closed.")
	return err
}
