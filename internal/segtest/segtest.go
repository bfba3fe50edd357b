// Package segtest builds small, reference-compatible segment files for
// tests. It implements just enough of the write path (greedy pattern
// coverage, Huffman depth assignment, canonical code emission) to exercise
// the decoder; it is not a production compressor.
package segtest

import (
	"bytes"
	"container/heap"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// Builder accumulates words and writes them as one segment file.
type Builder struct {
	patterns [][]byte
	words    [][]byte
	compress []bool
}

// NewBuilder returns a builder with a fixed candidate pattern dictionary.
// Passing no patterns produces raw-only segments with empty dictionaries.
func NewBuilder(patterns ...[]byte) *Builder {
	sorted := make([][]byte, len(patterns))
	copy(sorted, patterns)
	// Longest first so greedy coverage prefers bigger substitutions.
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	return &Builder{patterns: sorted}
}

// AddWord appends a word that may be dictionary-compressed.
func (b *Builder) AddWord(w []byte) {
	b.words = append(b.words, append([]byte(nil), w...))
	b.compress = append(b.compress, true)
}

// AddRawWord appends a word stored uncompressed regardless of matches.
func (b *Builder) AddRawWord(w []byte) {
	b.words = append(b.words, append([]byte(nil), w...))
	b.compress = append(b.compress, false)
}

type placement struct {
	start   int
	pattern int
}

// coverWord greedily places the longest matching pattern at each position,
// left to right, without overlaps.
func (b *Builder) coverWord(w []byte) []placement {
	var out []placement
	for i := 0; i < len(w); {
		matched := false
		for pi, p := range b.patterns {
			if len(p) > 0 && len(p) <= len(w)-i && bytes.Equal(w[i:i+len(p)], p) {
				out = append(out, placement{start: i, pattern: pi})
				i += len(p)
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return out
}

// Build writes the segment to path and returns the byte offset of each
// record within the record region, in input order.
func (b *Builder) Build(path string) ([]uint64, error) {
	covers := make([][]placement, len(b.words))
	patternUses := make([]uint64, len(b.patterns))
	posUses := map[uint64]uint64{}
	for i, w := range b.words {
		if !b.compress[i] || len(w) == 0 {
			continue
		}
		c := b.coverWord(w)
		if len(c) == 0 {
			continue
		}
		covers[i] = c
		posUses[uint64(len(w))+1]++
		posUses[0]++
		last := 0
		for _, pl := range c {
			posUses[uint64(pl.start-last)+1]++
			last = pl.start
			patternUses[pl.pattern]++
		}
	}

	patternCodes := buildPatternCodes(b.patterns, patternUses)
	posCodes := buildPosCodes(posUses)

	var out bytes.Buffer
	var wordCount, emptyCount uint64
	for _, w := range b.words {
		wordCount++
		if len(w) == 0 {
			emptyCount++
		}
	}
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], wordCount)
	out.Write(num[:])
	binary.BigEndian.PutUint64(num[:], emptyCount)
	out.Write(num[:])

	writeDict(&out, patternCodes.serialize())
	writeDict(&out, posCodes.serialize())

	recordStart := out.Len()
	offsets := make([]uint64, 0, len(b.words))
	var varBuf [binary.MaxVarintLen64]byte
	for i, w := range b.words {
		offsets = append(offsets, uint64(out.Len()-recordStart))
		c := covers[i]
		if len(c) == 0 {
			out.WriteByte(0x00)
			n := binary.PutUvarint(varBuf[:], uint64(len(w)))
			out.Write(varBuf[:n])
			out.Write(w)
			continue
		}
		out.WriteByte(0x01)
		bw := bitWriter{out: &out}
		if err := posCodes.encode(&bw, uint64(len(w))+1); err != nil {
			return nil, err
		}
		covered := make([]bool, len(w))
		last := 0
		for _, pl := range c {
			if err := posCodes.encode(&bw, uint64(pl.start-last)+1); err != nil {
				return nil, err
			}
			last = pl.start
			if err := patternCodes.encode(&bw, pl.pattern); err != nil {
				return nil, err
			}
			for j := range b.patterns[pl.pattern] {
				covered[pl.start+j] = true
			}
		}
		if err := posCodes.encode(&bw, 0); err != nil {
			return nil, err
		}
		bw.flush()
		for j, cov := range covered {
			if !cov {
				out.WriteByte(w[j])
			}
		}
	}

	return offsets, os.WriteFile(path, out.Bytes(), 0o644)
}

func writeDict(out *bytes.Buffer, dict []byte) {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], uint64(len(dict)))
	out.Write(num[:])
	out.Write(dict)
}

// bitWriter packs code bits least-significant first within each byte,
// mirroring the reference HuffmanCoder.
type bitWriter struct {
	out        *bytes.Buffer
	outputBits int
	outputByte byte
}

func (bw *bitWriter) write(code uint64, codeBits int) {
	for codeBits > 0 {
		bitsUsed := codeBits
		if bw.outputBits+codeBits > 8 {
			bitsUsed = 8 - bw.outputBits
		}
		mask := uint64(1)<<bitsUsed - 1
		bw.outputByte |= byte((code & mask) << bw.outputBits)
		code >>= bitsUsed
		codeBits -= bitsUsed
		bw.outputBits += bitsUsed
		if bw.outputBits == 8 {
			bw.out.WriteByte(bw.outputByte)
			bw.outputBits = 0
			bw.outputByte = 0
		}
	}
}

func (bw *bitWriter) flush() {
	if bw.outputBits > 0 {
		bw.out.WriteByte(bw.outputByte)
		bw.outputBits = 0
		bw.outputByte = 0
	}
}

// huffman depth assignment

type huffNode struct {
	uses  uint64
	tie   int
	leaf  int // leaf index, or -1 for internal nodes
	left  *huffNode
	right *huffNode
}

type huffHeap []*huffNode

func (h huffHeap) Len() int { return len(h) }
func (h huffHeap) Less(i, j int) bool {
	if h[i].uses != h[j].uses {
		return h[i].uses < h[j].uses
	}
	return h[i].tie < h[j].tie
}
func (h huffHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *huffHeap) Push(x interface{}) { *h = append(*h, x.(*huffNode)) }
func (h *huffHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// huffmanDepths returns the code length for each leaf. A single leaf gets
// depth 0 (a zero-bit code), matching the decoder's bitLen==0 tables.
func huffmanDepths(uses []uint64) []uint64 {
	depths := make([]uint64, len(uses))
	if len(uses) <= 1 {
		return depths
	}
	h := make(huffHeap, 0, len(uses))
	tie := 0
	for i, u := range uses {
		h = append(h, &huffNode{uses: u, tie: tie, leaf: i})
		tie++
	}
	heap.Init(&h)
	for h.Len() > 1 {
		a := heap.Pop(&h).(*huffNode)
		b := heap.Pop(&h).(*huffNode)
		tie++
		heap.Push(&h, &huffNode{uses: a.uses + b.uses, tie: tie, leaf: -1, left: a, right: b})
	}
	root := h[0]
	var walk func(n *huffNode, depth uint64)
	walk = func(n *huffNode, depth uint64) {
		if n.leaf >= 0 {
			depths[n.leaf] = depth
			return
		}
		walk(n.left, depth+1)
		walk(n.right, depth+1)
	}
	walk(root, 0)
	return depths
}

// canonical code assignment, mirroring the decoder's recursive table build

type codeEntry struct {
	code uint64
	bits int
}

// assignCodes walks the implicit canonical code tree over the depth-sorted
// entries and records each entry's on-wire code. Entries deeper than 9 bits
// get a 9-bit table-pointer prefix followed by their inner code, exactly as
// the decoder chains tables.
func assignCodes(depths []uint64, out []codeEntry) {
	var rec func(i int, code uint64, bits int, depth, maxDepth uint64, prefix uint64, prefixBits int) int
	maxDepth := uint64(0)
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}
	rec = func(i int, code uint64, bits int, depth, maxDepth uint64, prefix uint64, prefixBits int) int {
		if i >= len(depths) {
			return 0
		}
		if depth == depths[i] {
			out[i] = codeEntry{code: prefix | code<<prefixBits, bits: prefixBits + bits}
			return 1
		}
		if bits == 9 {
			return rec(i, 0, 0, depth, maxDepth, prefix|code<<prefixBits, prefixBits+9)
		}
		if maxDepth == 0 {
			return 0
		}
		b0 := rec(i, code, bits+1, depth+1, maxDepth-1, prefix, prefixBits)
		return b0 + rec(i+b0, uint64(1)<<bits|code, bits+1, depth+1, maxDepth-1, prefix, prefixBits)
	}
	rec(0, 0, 0, 0, maxDepth, 0, 0)
}

// pattern dictionary

type patternDict struct {
	patterns [][]byte // depth-sorted
	depths   []uint64
	codes    []codeEntry
	index    map[int]int // original pattern index -> sorted position
}

func buildPatternCodes(patterns [][]byte, uses []uint64) *patternDict {
	type entry struct {
		orig  int
		depth uint64
	}
	var used []entry
	var usedUses []uint64
	for i, u := range uses {
		if u > 0 {
			used = append(used, entry{orig: i})
			usedUses = append(usedUses, u)
		}
	}
	depths := huffmanDepths(usedUses)
	for i := range used {
		used[i].depth = depths[i]
	}
	sort.SliceStable(used, func(i, j int) bool { return used[i].depth < used[j].depth })

	d := &patternDict{index: map[int]int{}}
	for pos, e := range used {
		d.patterns = append(d.patterns, patterns[e.orig])
		d.depths = append(d.depths, e.depth)
		d.index[e.orig] = pos
	}
	d.codes = make([]codeEntry, len(d.depths))
	assignCodes(d.depths, d.codes)
	return d
}

func (d *patternDict) serialize() []byte {
	var buf bytes.Buffer
	var varBuf [binary.MaxVarintLen64]byte
	for i, p := range d.patterns {
		n := binary.PutUvarint(varBuf[:], d.depths[i])
		buf.Write(varBuf[:n])
		n = binary.PutUvarint(varBuf[:], uint64(len(p)))
		buf.Write(varBuf[:n])
		buf.Write(p)
	}
	return buf.Bytes()
}

func (d *patternDict) encode(bw *bitWriter, origIdx int) error {
	pos, ok := d.index[origIdx]
	if !ok {
		return fmt.Errorf("segtest: pattern %d has no code", origIdx)
	}
	bw.write(d.codes[pos].code, d.codes[pos].bits)
	return nil
}

// position dictionary

type posDict struct {
	values []uint64
	depths []uint64
	codes  map[uint64]codeEntry
}

func buildPosCodes(uses map[uint64]uint64) *posDict {
	values := make([]uint64, 0, len(uses))
	for v := range uses {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	useList := make([]uint64, len(values))
	for i, v := range values {
		useList[i] = uses[v]
	}
	depths := huffmanDepths(useList)

	type entry struct {
		value, depth uint64
	}
	entries := make([]entry, len(values))
	for i := range values {
		entries[i] = entry{value: values[i], depth: depths[i]}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].depth < entries[j].depth })

	d := &posDict{codes: map[uint64]codeEntry{}}
	for _, e := range entries {
		d.values = append(d.values, e.value)
		d.depths = append(d.depths, e.depth)
	}
	codes := make([]codeEntry, len(d.values))
	assignCodes(d.depths, codes)
	for i, v := range d.values {
		d.codes[v] = codes[i]
	}
	return d
}

func (d *posDict) serialize() []byte {
	var buf bytes.Buffer
	var varBuf [binary.MaxVarintLen64]byte
	for i, v := range d.values {
		n := binary.PutUvarint(varBuf[:], d.depths[i])
		buf.Write(varBuf[:n])
		n = binary.PutUvarint(varBuf[:], v)
		buf.Write(varBuf[:n])
	}
	return buf.Bytes()
}

func (d *posDict) encode(bw *bitWriter, value uint64) error {
	ce, ok := d.codes[value]
	if !ok {
		return fmt.Errorf("segtest: position %d has no code", value)
	}
	bw.write(ce.code, ce.bits)
	return nil
}
