package segment

// dict.go: canonical prefix-code dictionaries for patterns and positions.

import (
	"encoding/binary"
	"fmt"
)

// codeword associates one canonical code with a pattern, or with a pointer
// to a deeper table when the code is longer than the table width.
type codeword struct {
	pattern []byte        // literal bytes the code expands to
	ptr     *patternTable // deeper table for codes longer than 9 bits
	code    uint16
	len     byte // number of bits in the code; 0 for table pointers
}

// patternTable is a lookup table over the next bitLen bits of the stream.
// Short codes occupy several slots so that a single peek resolves them.
type patternTable struct {
	patterns []*codeword
	bitLen   int
}

// Tables wider than the threshold store codewords sparsely and are searched
// linearly. Lowering the threshold trades decode speed for table memory.
// Must be set before Open; 9 disables condensing (no table is wider).
var condenseTableBitThreshold = 9

// SetTableCondensity makes pattern tables wider than fromBitSize use the
// condensed (sparse, linear-probed) representation. Accepts 3..9.
func SetTableCondensity(fromBitSize int) {
	if fromBitSize < 3 || fromBitSize > 9 {
		panic("segment: table condensity must be in range 3..9")
	}
	condenseTableBitThreshold = fromBitSize
}

func newPatternTable(bitLen int) *patternTable {
	pt := &patternTable{bitLen: bitLen}
	if bitLen <= condenseTableBitThreshold {
		pt.patterns = make([]*codeword, 1<<bitLen)
	}
	return pt
}

func (pt *patternTable) insertWord(cw *codeword) {
	if pt.bitLen <= condenseTableBitThreshold {
		codeStep := uint16(1) << cw.len
		codeFrom, codeTo := cw.code, cw.code+codeStep
		if pt.bitLen != int(cw.len) && cw.len > 0 {
			codeTo = codeFrom | uint16(1)<<pt.bitLen
		}
		for c := codeFrom; c < codeTo; c += codeStep {
			pt.patterns[c] = cw
		}
		return
	}
	pt.patterns = append(pt.patterns, cw)
}

func (pt *patternTable) search(code uint16) *codeword {
	if pt.bitLen <= condenseTableBitThreshold {
		return pt.patterns[code]
	}
	for _, cur := range pt.patterns {
		if cur.code == code {
			return cur
		}
		d := code - cur.code
		if d&1 != 0 {
			continue
		}
		if checkDistance(int(cur.len), int(d)) {
			return cur
		}
	}
	return nil
}

// condensedWordDistances[p] holds the code distances at which a codeword of
// length p repeats inside a 9-bit-wide table.
var condensedWordDistances = buildCondensedWordDistances()

func checkDistance(power int, d int) bool {
	for _, dist := range condensedWordDistances[power] {
		if dist == d {
			return true
		}
	}
	return false
}

func buildCondensedWordDistances() [][]int {
	dist2 := make([][]int, 10)
	for i := 1; i <= 9; i++ {
		dl := make([]int, 0)
		for j := 1 << i; j < 512; j += 1 << i {
			dl = append(dl, j)
		}
		dist2[i] = dl
	}
	return dist2
}

// posTable is the position analog of patternTable. Positions are small
// integers, so the table stores them inline instead of via codewords.
type posTable struct {
	pos    []uint64
	lens   []byte
	ptrs   []*posTable
	bitLen int
}

func newPosTable(bitLen int) *posTable {
	size := 1 << bitLen
	return &posTable{
		bitLen: bitLen,
		pos:    make([]uint64, size),
		lens:   make([]byte, size),
		ptrs:   make([]*posTable, size),
	}
}

// parsePatternDict reads the serialized pattern dictionary and builds its
// decode table. A zero-entry dictionary returns a nil table: the segment is
// raw-only.
func parsePatternDict(data []byte) (*patternTable, int, error) {
	var depths []uint64
	var patterns [][]byte
	var maxDepth uint64

	for i := uint64(0); i < uint64(len(data)); {
		depth, ns := binary.Uvarint(data[i:])
		if ns <= 0 {
			return nil, 0, fmt.Errorf("pattern dict truncated at %d: %w", i, ErrFormat)
		}
		if depth > maxPatternDepth {
			return nil, 0, fmt.Errorf("pattern depth %d exceeds %d: %w", depth, maxPatternDepth, ErrFormat)
		}
		if n := len(depths); n > 0 && depth < depths[n-1] {
			return nil, 0, fmt.Errorf("pattern depths not in canonical order: %w", ErrFormat)
		}
		if depth > maxDepth {
			maxDepth = depth
		}
		i += uint64(ns)
		l, n := binary.Uvarint(data[i:])
		if n <= 0 {
			return nil, 0, fmt.Errorf("pattern dict truncated at %d: %w", i, ErrFormat)
		}
		i += uint64(n)
		if i+l > uint64(len(data)) {
			return nil, 0, fmt.Errorf("pattern of %d bytes exceeds dictionary bounds: %w", l, ErrFormat)
		}
		depths = append(depths, depth)
		patterns = append(patterns, data[i:i+l])
		i += l
	}
	if len(patterns) == 0 {
		return nil, 0, nil
	}

	bitLen := int(maxDepth)
	if maxDepth > 9 {
		bitLen = 9
	}
	table := newPatternTable(bitLen)
	if n := buildPatternTable(table, depths, patterns, 0, 0, 0, maxDepth); n != len(depths) {
		return nil, 0, fmt.Errorf("pattern depths do not form a canonical code: %w", ErrFormat)
	}
	return table, len(patterns), nil
}

// parsePosDict reads the serialized position dictionary and builds its
// decode table. A zero-entry dictionary returns a nil table.
func parsePosDict(data []byte) (*posTable, error) {
	var depths []uint64
	var positions []uint64
	var maxDepth uint64

	for i := uint64(0); i < uint64(len(data)); {
		depth, ns := binary.Uvarint(data[i:])
		if ns <= 0 {
			return nil, fmt.Errorf("position dict truncated at %d: %w", i, ErrFormat)
		}
		if depth > maxPositionDepth {
			return nil, fmt.Errorf("position depth %d exceeds %d: %w", depth, maxPositionDepth, ErrFormat)
		}
		if n := len(depths); n > 0 && depth < depths[n-1] {
			return nil, fmt.Errorf("position depths not in canonical order: %w", ErrFormat)
		}
		if depth > maxDepth {
			maxDepth = depth
		}
		i += uint64(ns)
		pos, n := binary.Uvarint(data[i:])
		if n <= 0 {
			return nil, fmt.Errorf("position dict truncated at %d: %w", i, ErrFormat)
		}
		i += uint64(n)
		depths = append(depths, depth)
		positions = append(positions, pos)
	}
	if len(positions) == 0 {
		return nil, nil
	}

	bitLen := int(maxDepth)
	if maxDepth > 9 {
		bitLen = 9
	}
	table := newPosTable(bitLen)
	if n := buildPosTable(depths, positions, table, 0, 0, 0, maxDepth); n != len(depths) {
		return nil, fmt.Errorf("position depths do not form a canonical code: %w", ErrFormat)
	}
	return table, nil
}

// buildPatternTable assigns canonical codes to the depth-ordered pattern
// list by walking the implicit code tree. Returns how many entries were
// placed; a count short of len(depths) means the depth list is not a valid
// canonical assignment.
func buildPatternTable(table *patternTable, depths []uint64, patterns [][]byte, code uint16, bits int, depth uint64, maxDepth uint64) int {
	if len(depths) == 0 {
		return 0
	}
	if depth == depths[0] {
		table.insertWord(&codeword{code: code, pattern: patterns[0], len: byte(bits)})
		return 1
	}
	if bits == 9 {
		bitLen := int(maxDepth)
		if maxDepth > 9 {
			bitLen = 9
		}
		cw := &codeword{code: code, ptr: newPatternTable(bitLen)}
		table.insertWord(cw)
		return buildPatternTable(cw.ptr, depths, patterns, 0, 0, depth, maxDepth)
	}
	if maxDepth == 0 {
		return 0
	}
	b0 := buildPatternTable(table, depths, patterns, code, bits+1, depth+1, maxDepth-1)
	return b0 + buildPatternTable(table, depths[b0:], patterns[b0:], uint16(1)<<bits|code, bits+1, depth+1, maxDepth-1)
}

func buildPosTable(depths []uint64, positions []uint64, table *posTable, code uint16, bits int, depth uint64, maxDepth uint64) int {
	if len(depths) == 0 {
		return 0
	}
	if depth == depths[0] {
		p := positions[0]
		if table.bitLen == bits {
			table.pos[code] = p
			table.lens[code] = byte(bits)
			table.ptrs[code] = nil
		} else {
			codeStep := uint16(1) << bits
			codeTo := code | uint16(1)<<table.bitLen
			for c := code; c < codeTo; c += codeStep {
				table.pos[c] = p
				table.lens[c] = byte(bits)
				table.ptrs[c] = nil
			}
		}
		return 1
	}
	if bits == 9 {
		bitLen := int(maxDepth)
		if maxDepth > 9 {
			bitLen = 9
		}
		newTable := newPosTable(bitLen)
		table.pos[code] = 0
		table.lens[code] = 0
		table.ptrs[code] = newTable
		return buildPosTable(depths, positions, newTable, 0, 0, depth, maxDepth)
	}
	if maxDepth == 0 {
		return 0
	}
	b0 := buildPosTable(depths, positions, table, code, bits+1, depth+1, maxDepth-1)
	return b0 + buildPosTable(depths[b0:], positions[b0:], table, uint16(1)<<bits|code, bits+1, depth+1, maxDepth-1)
}
