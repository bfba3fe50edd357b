// Package recsplit builds and queries minimal perfect hash indexes over
// the records of a segment file, following the RecSplit construction:
// keys are murmur3-hashed into buckets, each bucket is recursively split
// down to small leaves, and the brute-forced per-node seeds are stored
// Golomb-Rice coded. An index file maps each key of the build set to its
// record offset (or ordinal) with no collisions inside the set.
package recsplit

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"

	"github.com/twmb/murmur3"
)

var (
	// ErrCollision is returned by Build when two keys share a full 128-bit
	// hash. Rebuilding with a different salt resolves everything except
	// genuinely duplicate keys.
	ErrCollision = errors.New("recsplit: hash collision, rebuild with a different salt")
	// ErrClosed is returned on use of a closed index.
	ErrClosed = errors.New("recsplit: index closed")
	// ErrOutOfRange is returned by OrdinalLookup past the key count.
	ErrOutOfRange = errors.New("recsplit: ordinal out of range")
	// ErrFormat is returned when an index file cannot be parsed.
	ErrFormat = errors.New("recsplit: invalid index file")
)

const maxLeafSize = 24

// startSeeds are the per-level base seeds for the recursive splitting.
var startSeeds = []uint64{
	0x106393c187cae21a, 0x6453cec3f7376937, 0x643e521ddbd2be98, 0x3740c6412f6572cb,
	0x717d47562f1ce470, 0x4cd6eb4c63befb7c, 0x9bfd8c5e18c8da73, 0x082f20e10092a9a3,
	0x2ada2ce68d21defc, 0xe33cb4f3e7c6466b, 0x3980be458c509c59, 0xc466fd9584828e8c,
	0x45f0aabe1a61ede6, 0xf6e7b8b33ad9b98d, 0x4ef95e25f4b4983d, 0x81175195173b92d3,
	0x4e50927d8dd15978, 0x1ea2099d1fafae7f, 0x425c8a06fbaaa815, 0xcd4216006c74052a,
}

// remix is a xorshift-multiply finalizer applied to fingerprint+seed
// before slot assignment.
func remix(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// remap maps a uniform 64-bit value onto [0,n) without division.
func remap(x uint64, n uint64) uint64 {
	hi, _ := bits.Mul64(x, n)
	return hi
}

func remap16(x uint64, n uint16) uint16 {
	return uint16(remap(x, uint64(n)))
}

func hash128(salt uint32, key []byte) (uint64, uint64) {
	return murmur3.SeedSum128(uint64(salt), uint64(salt), key)
}

// splitTree captures the recursion geometry shared by builder and index:
// subtrees of at most leafSize keys are leaves; larger ones split into
// fanout parts of unit keys each (the last part takes the remainder).
type splitTree struct {
	leafSize           uint16
	primaryAggrBound   uint16
	secondaryAggrBound uint16
}

func newSplitTree(leafSize uint16) splitTree {
	primary := leafSize * uint16(math.Max(2, math.Ceil(0.35*float64(leafSize)+1./2.)))
	var secondary uint16
	if leafSize < 7 {
		secondary = primary * 2
	} else {
		secondary = primary * uint16(math.Ceil(0.21*float64(leafSize)+9./10.))
	}
	return splitTree{leafSize: leafSize, primaryAggrBound: primary, secondaryAggrBound: secondary}
}

func (t splitTree) splitParams(m uint16) (fanout, unit uint16) {
	if m > t.secondaryAggrBound {
		unit = t.secondaryAggrBound * (((m+1)/2 + t.secondaryAggrBound - 1) / t.secondaryAggrBound)
		fanout = 2
	} else if m > t.primaryAggrBound {
		unit = t.primaryAggrBound
		fanout = (m + t.primaryAggrBound - 1) / t.primaryAggrBound
	} else {
		unit = t.leafSize
		fanout = (m + t.leafSize - 1) / t.leafSize
	}
	return fanout, unit
}

func (t splitTree) partSizes(m, fanout, unit uint16) []uint16 {
	sizes := make([]uint16, fanout)
	for i := range sizes {
		sizes[i] = unit
	}
	sizes[fanout-1] = m - (fanout-1)*unit
	return sizes
}

// Config parameterizes an index build.
type Config struct {
	// KeyCount preallocates the key buffer; optional.
	KeyCount int
	// BucketSize is the expected number of keys per bucket. Defaults to 256.
	BucketSize int
	// LeafSize bounds the brute-forced bijections; in [1,24]. Defaults to 8.
	LeafSize uint16
	// Salt seeds the key hashing; builds of the same key set with
	// different salts produce different (equally valid) indexes.
	Salt uint32
	// BaseOrdinal offsets the ordinal space, e.g. the first record number
	// of the segment this index covers.
	BaseOrdinal uint64
	// Enums stores record ordinals in the hash table and an Elias-Fano
	// sequence of offsets alongside, enabling OrdinalLookup. Requires keys
	// to be added in non-decreasing offset order.
	Enums bool
	// LessFalsePositives adds an existence filter so that Lookup rejects
	// most keys outside the build set.
	LessFalsePositives bool
	// FalsePositiveRate sizes the existence filter. Defaults to 0.01.
	FalsePositiveRate float64
	// Logger receives build progress; nil means slog.Default.
	Logger *slog.Logger
}

type bucketKey struct {
	hi    uint64 // upper half of the key hash, selects the bucket
	fp    uint64 // lower half, the in-bucket fingerprint
	value uint64 // offset, or insertion ordinal with Enums
}

// Builder collects keys in memory and writes the index file.
type Builder struct {
	cfg        Config
	tree       splitTree
	gp         *golombParams
	logger     *slog.Logger
	keys       []bucketKey
	offsets    []uint64
	lfpHashes  [][2]uint64
	maxOffset  uint64
	prevOffset uint64
}

// NewBuilder validates cfg and returns an empty builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if cfg.LeafSize == 0 {
		cfg.LeafSize = 8
	}
	if cfg.LeafSize > maxLeafSize {
		return nil, fmt.Errorf("recsplit: leaf size %d above maximum %d", cfg.LeafSize, maxLeafSize)
	}
	if cfg.BucketSize == 0 {
		cfg.BucketSize = 256
	}
	if cfg.BucketSize < int(cfg.LeafSize) {
		return nil, fmt.Errorf("recsplit: bucket size %d below leaf size %d", cfg.BucketSize, cfg.LeafSize)
	}
	// Bucket fills are stored as uint16; leave ample headroom over the
	// expected size for hash skew.
	if cfg.BucketSize > 4096 {
		return nil, fmt.Errorf("recsplit: bucket size %d above maximum 4096", cfg.BucketSize)
	}
	if cfg.FalsePositiveRate == 0 {
		cfg.FalsePositiveRate = 0.01
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tree := newSplitTree(cfg.LeafSize)
	return &Builder{
		cfg:    cfg,
		tree:   tree,
		gp:     newGolombParams(tree),
		logger: logger.With("component", "recsplit"),
		keys:   make([]bucketKey, 0, cfg.KeyCount),
	}, nil
}

// AddKey registers a key and the value Lookup will return for it (a byte
// offset, or with Enums the offset goes to the ordinal sequence instead).
func (b *Builder) AddKey(key []byte, offset uint64) error {
	if b.cfg.Enums {
		if len(b.offsets) > 0 && offset < b.prevOffset {
			return fmt.Errorf("recsplit: enum offsets must be non-decreasing: %d after %d", offset, b.prevOffset)
		}
		b.offsets = append(b.offsets, offset)
		b.prevOffset = offset
	}
	if b.cfg.LessFalsePositives {
		f1, f2 := murmur3.Sum128(key)
		b.lfpHashes = append(b.lfpHashes, [2]uint64{f1, f2})
	}
	hi, lo := hash128(b.cfg.Salt, key)
	value := offset
	if b.cfg.Enums {
		value = uint64(len(b.keys))
	}
	if offset > b.maxOffset {
		b.maxOffset = offset
	}
	b.keys = append(b.keys, bucketKey{hi: hi, fp: lo, value: value})
	return nil
}

// KeyCount returns the number of keys added so far.
func (b *Builder) KeyCount() int { return len(b.keys) }

// findLeafSeed brute-forces the smallest seed mapping the fingerprints
// onto distinct slots of a leaf.
func findLeafSeed(fps []uint64, base uint64) uint64 {
	m := uint16(len(fps))
	required := uint32(1)<<m - 1
	for seed := base; ; seed++ {
		mask := uint32(0)
		ok := true
		for _, fp := range fps {
			bit := uint32(1) << remap16(remix(fp+seed), m)
			if mask&bit != 0 {
				ok = false
				break
			}
			mask |= bit
		}
		if ok && mask == required {
			return seed - base
		}
	}
}

// findSplitSeed brute-forces the smallest seed distributing the
// fingerprints into the exact part sizes.
func findSplitSeed(fps []uint64, base uint64, m, fanout, unit uint16, sizes []uint16) uint64 {
	count := make([]uint16, fanout)
	for seed := base; ; seed++ {
		for i := range count {
			count[i] = 0
		}
		for _, fp := range fps {
			count[remap16(remix(fp+seed), m)/unit]++
		}
		ok := true
		for i, want := range sizes {
			if count[i] != want {
				ok = false
				break
			}
		}
		if ok {
			return seed - base
		}
	}
}

// split recursively finds seeds for one bucket, emits them to the rice
// stream and appends the bucket's values in final slot order.
func (b *Builder) split(level int, fps, values []uint64, rw *riceWriter, out *[]uint64) error {
	if level >= len(startSeeds) {
		return fmt.Errorf("recsplit: split recursion exceeded %d levels", len(startSeeds))
	}
	m := uint16(len(fps))
	if m <= b.tree.leafSize {
		seed := findLeafSeed(fps, startSeeds[level])
		rw.appendRice(seed, b.gp.param(m))
		slots := make([]uint64, m)
		for i, fp := range fps {
			slots[remap16(remix(fp+startSeeds[level]+seed), m)] = values[i]
		}
		*out = append(*out, slots...)
		return nil
	}

	fanout, unit := b.tree.splitParams(m)
	sizes := b.tree.partSizes(m, fanout, unit)
	seed := findSplitSeed(fps, startSeeds[level], m, fanout, unit, sizes)
	rw.appendRice(seed, b.gp.param(m))

	partFps := make([][]uint64, fanout)
	partValues := make([][]uint64, fanout)
	for i, fp := range fps {
		part := remap16(remix(fp+startSeeds[level]+seed), m) / unit
		partFps[part] = append(partFps[part], fp)
		partValues[part] = append(partValues[part], values[i])
	}
	for part := range partFps {
		if err := b.split(level+1, partFps[part], partValues[part], rw, out); err != nil {
			return err
		}
	}
	return nil
}
