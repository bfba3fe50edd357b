// Package eliasfano implements the Elias-Fano encoding of monotone
// non-decreasing sequences of unsigned integers, with a jump table for
// constant-time random access. A sequence of n values bounded by u takes
// roughly n*(2+log2(u/n)) bits plus the jump table.
package eliasfano

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/bits"
)

// ErrOutOfRange is returned by Get for an index past the last element.
var ErrOutOfRange = errors.New("eliasfano: index out of range")

const (
	log2q      uint64 = 8
	q          uint64 = 1 << log2q
	qMask             = q - 1
	superQ     uint64 = 1 << 14
	superQMask        = superQ - 1
	qPerSuperQ        = superQ / q
	// One absolute 64-bit position per super block plus qPerSuperQ
	// 32-bit relative offsets packed two per word.
	superQSize = 1 + qPerSuperQ/2
)

// EliasFano holds a built or deserialized sequence. The zero value is not
// usable; call New or Read.
type EliasFano struct {
	data          []uint64
	lowerBits     []uint64
	upperBits     []uint64
	jump          []uint64
	lowerBitsMask uint64
	count         uint64 // number of elements minus one
	u             uint64 // strict upper bound on values
	l             uint64 // width of the explicit lower bits
	i             uint64 // next insertion index
	last          uint64 // last value added
	maxOffset     uint64
	minOffset     uint64
	built         bool
}

// New returns an encoder for exactly count values, all at most maxValue.
// count must be positive.
func New(count uint64, maxValue uint64) *EliasFano {
	if count == 0 {
		panic("eliasfano: count must be positive")
	}
	ef := &EliasFano{
		count:     count - 1,
		maxOffset: maxValue,
		u:         maxValue + 1,
	}
	ef.deriveFields()
	return ef
}

func (ef *EliasFano) deriveFields() int {
	if ef.u/(ef.count+1) == 0 {
		ef.l = 0
	} else {
		ef.l = 63 ^ uint64(bits.LeadingZeros64(ef.u/(ef.count+1)))
	}
	ef.lowerBitsMask = (uint64(1) << ef.l) - 1

	wordsLowerBits := int(((ef.count+1)*ef.l+63)/64 + 1)
	wordsUpperBits := int((ef.count + 1 + (ef.u >> ef.l) + 63) / 64)
	jumpWords := jumpSizeWords(ef.count)
	totalWords := wordsLowerBits + wordsUpperBits + jumpWords

	if ef.data == nil {
		ef.data = make([]uint64, totalWords)
	}
	ef.lowerBits = ef.data[:wordsLowerBits]
	ef.upperBits = ef.data[wordsLowerBits : wordsLowerBits+wordsUpperBits]
	ef.jump = ef.data[wordsLowerBits+wordsUpperBits:]
	return totalWords
}

func jumpSizeWords(count uint64) int {
	return int((count/superQ + 1) * superQSize)
}

// Add appends the next value. Values must be non-decreasing; Add panics on
// out-of-order or surplus input so that encoding bugs surface at build
// time rather than as corrupt files.
func (ef *EliasFano) Add(value uint64) {
	if ef.i > ef.count {
		panic("eliasfano: too many values")
	}
	if value > ef.maxOffset {
		panic(fmt.Sprintf("eliasfano: value %d above bound %d", value, ef.maxOffset))
	}
	if ef.i > 0 && value < ef.last {
		panic(fmt.Sprintf("eliasfano: value %d after %d breaks monotonicity", value, ef.last))
	}
	if ef.i == 0 {
		ef.minOffset = value
	}
	ef.last = value
	if ef.l != 0 {
		idx64 := ef.l * ef.i / 64
		shift := ef.l * ef.i % 64
		ef.lowerBits[idx64] |= (value & ef.lowerBitsMask) << shift
		if shift+ef.l > 64 {
			ef.lowerBits[idx64+1] |= (value & ef.lowerBitsMask) >> (64 - shift)
		}
	}
	high := (value >> ef.l) + ef.i
	ef.upperBits[high/64] |= uint64(1) << (high % 64)
	ef.i++
}

// Build finalizes the sequence and fills the jump table. It must be called
// after exactly count Adds and before Get.
func (ef *EliasFano) Build() {
	if ef.i != ef.count+1 {
		panic(fmt.Sprintf("eliasfano: built with %d of %d values", ef.i, ef.count+1))
	}
	var c, lastSuperQ uint64
	for i, word := range ef.upperBits {
		for b := uint64(0); b < 64; b++ {
			if word&(uint64(1)<<b) == 0 {
				continue
			}
			bitPos := uint64(i)*64 + b
			if c&superQMask == 0 {
				ef.jump[(c/superQ)*superQSize] = bitPos
				lastSuperQ = bitPos
			}
			if c&qMask == 0 {
				offset := bitPos - lastSuperQ
				idx64 := (c/superQ)*superQSize + 1 + (c%superQ)/q/2
				shift := 32 * ((c % superQ) / q % 2)
				ef.jump[idx64] |= offset << shift
			}
			c++
		}
	}
	ef.built = true
}

// Get returns the i-th value.
func (ef *EliasFano) Get(i uint64) (uint64, error) {
	if i > ef.count {
		return 0, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, ef.count+1)
	}
	lower := i * ef.l
	idx64 := lower / 64
	shift := lower % 64
	lower = ef.lowerBits[idx64] >> shift
	if shift > 0 {
		lower |= ef.lowerBits[idx64+1] << (64 - shift)
	}

	jumpSuperQ := (i / superQ) * superQSize
	jumpInsideSuperQ := (i % superQ) / q
	idx64 = jumpSuperQ + 1 + jumpInsideSuperQ/2
	shift = 32 * (jumpInsideSuperQ % 2)
	mask := uint64(0xffffffff) << shift
	jump := ef.jump[jumpSuperQ] + (ef.jump[idx64]&mask)>>shift

	currWord := jump / 64
	window := ef.upperBits[currWord] & (^uint64(0) << (jump % 64))
	d := int(i & qMask)
	for bitCount := bits.OnesCount64(window); bitCount <= d; bitCount = bits.OnesCount64(window) {
		currWord++
		window = ef.upperBits[currWord]
		d -= bitCount
	}
	for ; d > 0; d-- {
		window &= window - 1
	}
	sel := uint64(bits.TrailingZeros64(window))

	return (currWord*64+sel-i)<<ef.l | (lower & ef.lowerBitsMask), nil
}

// Count returns the number of elements in the sequence.
func (ef *EliasFano) Count() uint64 { return ef.count + 1 }

// Min returns the first (smallest) value.
func (ef *EliasFano) Min() uint64 {
	if ef.built || ef.i > 0 {
		return ef.minOffset
	}
	return 0
}

// Max returns the bound the sequence was built with, which for segment
// offset sequences is the last value.
func (ef *EliasFano) Max() uint64 { return ef.maxOffset }

// AppendTo serializes the sequence: count-1 and u as big-endian 64-bit
// values followed by the data words in little-endian order.
func (ef *EliasFano) AppendTo(w io.Writer) error {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], ef.count)
	if _, err := w.Write(num[:]); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(num[:], ef.u)
	if _, err := w.Write(num[:]); err != nil {
		return err
	}
	for _, word := range ef.data {
		binary.LittleEndian.PutUint64(num[:], word)
		if _, err := w.Write(num[:]); err != nil {
			return err
		}
	}
	return nil
}

// SizeBytes returns the serialized size, header included.
func (ef *EliasFano) SizeBytes() int { return 16 + len(ef.data)*8 }

// Read deserializes a sequence from the front of data and returns it
// together with the number of bytes consumed. The words are copied out of
// data, so the mapping they came from may outlive or predecease the result.
func Read(data []byte) (*EliasFano, int, error) {
	if len(data) < 16 {
		return nil, 0, errors.New("eliasfano: truncated header")
	}
	ef := &EliasFano{
		count: binary.BigEndian.Uint64(data[:8]),
		u:     binary.BigEndian.Uint64(data[8:16]),
	}
	ef.maxOffset = ef.u - 1
	ef.i = ef.count + 1
	ef.built = true

	totalWords := func() int {
		if ef.u/(ef.count+1) == 0 {
			ef.l = 0
		} else {
			ef.l = 63 ^ uint64(bits.LeadingZeros64(ef.u/(ef.count+1)))
		}
		return int(((ef.count+1)*ef.l+63)/64+1) +
			int((ef.count+1+(ef.u>>ef.l)+63)/64) +
			jumpSizeWords(ef.count)
	}()
	size := 16 + totalWords*8
	if len(data) < size {
		return nil, 0, fmt.Errorf("eliasfano: need %d bytes, have %d", size, len(data))
	}
	ef.data = make([]uint64, totalWords)
	for i := range ef.data {
		ef.data[i] = binary.LittleEndian.Uint64(data[16+i*8:])
	}
	ef.deriveFields()
	if min, err := ef.Get(0); err == nil {
		ef.minOffset = min
	}
	return ef, size, nil
}
