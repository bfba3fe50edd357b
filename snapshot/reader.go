// Package snapshot composes a segment store with its recsplit index into a
// record reader: ordinal and keyed access to the records of one snapshot
// segment file, with an optional decoded-record cache.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/blockforge/snapseg/cache"
	"github.com/blockforge/snapseg/recsplit"
	"github.com/blockforge/snapseg/segment"
)

// ErrNoIndex is returned by keyed or ordinal reads on a reader composed
// without an index.
var ErrNoIndex = errors.New("snapshot: reader has no index")

// ReaderOptions configures a RecordReader.
type ReaderOptions struct {
	// PairLayout declares that records alternate key,value. Keyed reads
	// then verify the decoded key and return the following record.
	// Without it a record is its own value and keyed reads trust the
	// index (plus its existence filter, when present).
	PairLayout bool
	// CacheSize bounds the decoded-record cache; 0 disables caching.
	CacheSize int
	Logger    *slog.Logger
	Tracer    trace.Tracer
}

// RecordReader reads records of one segment through its index. All read
// methods are safe for concurrent use; each acquires a private getter.
type RecordReader struct {
	store *segment.Store
	index *recsplit.Index
	opts  ReaderOptions
	cache cache.Interface

	logger *slog.Logger
	owns   bool
}

// NewRecordReader composes an opened store and index. The caller keeps
// ownership of both; Close on the reader is then a no-op. index may be nil
// for purely sequential readers.
func NewRecordReader(store *segment.Store, index *recsplit.Index, opts ReaderOptions) *RecordReader {
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "SnapshotReader_default")
	}
	return &RecordReader{
		store:  store,
		index:  index,
		opts:   opts,
		cache:  cache.NewLRUCache(opts.CacheSize),
		logger: opts.Logger.With("segment", store.FileName()),
	}
}

// OpenOptions holds the file paths and options for Open.
type OpenOptions struct {
	SegmentPath string
	// IndexPath is optional; without it only sequential iteration works.
	IndexPath string
	Reader    ReaderOptions
}

// Open opens the segment and its index in parallel and composes a reader
// owning both; Close releases them.
func Open(opts OpenOptions) (*RecordReader, error) {
	var store *segment.Store
	var index *recsplit.Index

	var g errgroup.Group
	g.Go(func() error {
		var err error
		store, err = segment.Open(segment.OpenOptions{
			FilePath: opts.SegmentPath,
			Logger:   opts.Reader.Logger,
			Tracer:   opts.Reader.Tracer,
		})
		return err
	})
	if opts.IndexPath != "" {
		g.Go(func() error {
			var err error
			index, err = recsplit.OpenIndex(recsplit.OpenOptions{
				FilePath: opts.IndexPath,
				Logger:   opts.Reader.Logger,
				Tracer:   opts.Reader.Tracer,
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		if store != nil {
			store.Close()
		}
		if index != nil {
			index.Close()
		}
		return nil, err
	}

	r := NewRecordReader(store, index, opts.Reader)
	r.owns = true
	return r, nil
}

// Store returns the underlying segment store.
func (r *RecordReader) Store() *segment.Store { return r.store }

// Index returns the underlying index, or nil.
func (r *RecordReader) Index() *recsplit.Index { return r.index }

// Cache returns the decoded-record cache, e.g. to attach expvar metrics.
func (r *RecordReader) Cache() cache.Interface { return r.cache }

// Count returns the number of indexed entries when an index is present,
// otherwise the segment's record count.
func (r *RecordReader) Count() uint64 {
	if r.index != nil {
		return r.index.KeyCount()
	}
	return uint64(r.store.Count())
}

// ReadOrdinal returns the value of entry n. Requires an index built with
// Enums.
func (r *RecordReader) ReadOrdinal(n uint64) ([]byte, error) {
	if r.index == nil {
		return nil, ErrNoIndex
	}
	if rec, ok := r.cache.Get(n); ok {
		return rec, nil
	}
	offset, err := r.index.OrdinalLookup(n)
	if err != nil {
		return nil, err
	}
	g := r.store.MakeGetter()
	g.Reset(offset)
	if r.opts.PairLayout {
		// Skip the key record.
		if _, _, err := g.Skip(); err != nil {
			return nil, fmt.Errorf("entry %d key record: %w", n, err)
		}
	}
	value, _, err := g.Next(nil)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", n, err)
	}
	r.cache.Put(n, value)
	return value, nil
}

// ReadKey returns the value stored under key. The second return is false
// when the key is provably absent: the existence filter rejected it, or
// the pair layout's decoded key did not match.
func (r *RecordReader) ReadKey(key []byte) ([]byte, bool, error) {
	if r.index == nil {
		return nil, false, ErrNoIndex
	}
	loc, ok, err := r.index.Lookup(key)
	if err != nil || !ok {
		return nil, false, err
	}
	offset := loc
	if r.index.Enums() {
		if offset, err = r.index.OrdinalLookup(loc); err != nil {
			return nil, false, err
		}
	}

	g := r.store.MakeGetter()
	g.Reset(offset)
	if !r.opts.PairLayout {
		word, _, err := g.Next(nil)
		return word, err == nil, err
	}
	// Verify by decode: a foreign key that slipped past the index maps to
	// some slot, but that slot's key record won't match.
	matched, _, err := g.Match(key)
	if err != nil || !matched {
		return nil, false, err
	}
	value, _, err := g.Next(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Seek binary-searches an ordered pair segment for key and returns the
// entry number of the first key >= the target, and whether it is an exact
// match. Requires an Enums index and keys added in segment order.
func (r *RecordReader) Seek(key []byte) (uint64, bool, error) {
	if r.index == nil {
		return 0, false, ErrNoIndex
	}
	lo, hi := uint64(0), r.index.KeyCount()
	for lo < hi {
		mid := (lo + hi) / 2
		offset, err := r.index.OrdinalLookup(mid)
		if err != nil {
			return 0, false, err
		}
		g := r.store.MakeGetter()
		g.Reset(offset)
		cmp, err := g.MatchCmp(key)
		if err != nil {
			return 0, false, err
		}
		switch {
		case cmp == 0:
			return mid, true, nil
		case cmp < 0: // key sorts before this entry
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false, nil
}

// Close releases the store and index if the reader owns them (it does when
// built with Open). Readers composed with NewRecordReader leave ownership
// with the caller.
func (r *RecordReader) Close() error {
	r.cache.Clear()
	if !r.owns {
		return nil
	}
	err := r.store.Close()
	if r.index != nil {
		if cerr := r.index.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
