package filter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/twmb/murmur3"
)

// Bloom is a classic Bloom filter with double hashing over a single
// 128-bit murmur3 digest. Build sets are hashed once per key; membership
// checks never read beyond the bit array.
type Bloom struct {
	bits      []byte
	numBits   uint64
	numHashes uint32
}

var _ Filter = (*Bloom)(nil)

// NewBloom sizes a filter for numElements keys at the given false positive
// rate (e.g. 0.01 for 1%).
func NewBloom(numElements uint64, falsePositiveRate float64) (*Bloom, error) {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return nil, errors.New("filter: false positive rate must be in (0, 1)")
	}
	if numElements == 0 {
		// An index over zero keys still carries a valid, minimal filter.
		return &Bloom{bits: make([]byte, 1), numBits: 8, numHashes: 1}, nil
	}

	m := uint64(math.Ceil(float64(numElements) * math.Abs(math.Log(falsePositiveRate)) / (math.Log(2) * math.Log(2))))
	k := uint32(math.Ceil((float64(m) / float64(numElements)) * math.Log(2)))

	if m%8 != 0 {
		m = (m/8 + 1) * 8
	}
	if m == 0 {
		m = 8
	}
	if k == 0 {
		k = 1
	}

	return &Bloom{
		bits:      make([]byte, m/8),
		numBits:   m,
		numHashes: k,
	}, nil
}

// Add inserts a key.
func (b *Bloom) Add(key []byte) {
	b.AddHash(murmur3.Sum128(key))
}

// AddHash inserts a key by its precomputed 128-bit digest, for callers
// that hash once and drop the raw key.
func (b *Bloom) AddHash(h1, h2 uint64) {
	for i := uint32(0); i < b.numHashes; i++ {
		idx := (h1 + uint64(i)*h2) % b.numBits
		b.bits[idx/8] |= 1 << (idx % 8)
	}
}

// Contains reports whether key may have been added. False means the key
// was definitely never added.
func (b *Bloom) Contains(key []byte) bool {
	if b == nil || len(b.bits) == 0 {
		return false
	}
	return b.ContainsHash(murmur3.Sum128(key))
}

// ContainsHash is Contains over a precomputed digest.
func (b *Bloom) ContainsHash(h1, h2 uint64) bool {
	if b == nil || len(b.bits) == 0 {
		return false
	}
	for i := uint32(0); i < b.numHashes; i++ {
		idx := (h1 + uint64(i)*h2) % b.numBits
		if b.bits[idx/8]>>(idx%8)&1 == 0 {
			return false
		}
	}
	return true
}

// Bytes serializes the filter: numBits u64le, numHashes u32le, bit array.
func (b *Bloom) Bytes() []byte {
	buf := make([]byte, 12+len(b.bits))
	binary.LittleEndian.PutUint64(buf[0:8], b.numBits)
	binary.LittleEndian.PutUint32(buf[8:12], b.numHashes)
	copy(buf[12:], b.bits)
	return buf
}

// DeserializeBloom parses the output of Bytes. The bit array aliases data.
func DeserializeBloom(data []byte) (*Bloom, error) {
	if len(data) < 12 {
		return nil, errors.New("filter: bloom data too short")
	}
	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint32(data[8:12])
	bits := data[12:]
	if numBits == 0 || numHashes == 0 || uint64(len(bits)*8) != numBits {
		return nil, fmt.Errorf("filter: inconsistent bloom sizes: numBits %d, numHashes %d, have %d bits",
			numBits, numHashes, len(bits)*8)
	}
	return &Bloom{
		bits:      bits,
		numBits:   numBits,
		numHashes: numHashes,
	}, nil
}
