package recsplit

import (
	"math"
	"math/bits"
)

// Golomb-Rice coding of the per-node seeds. Each seed is written as its
// quotient in unary (q zero bits then a one) followed by log2golomb fixed
// remainder bits, packed least-significant-bit first into 64-bit words.

type riceWriter struct {
	words    []uint64
	bitCount uint64
}

func (w *riceWriter) grow(target uint64) {
	need := int((target + 63) / 64)
	for len(w.words) < need {
		w.words = append(w.words, 0)
	}
}

func (w *riceWriter) appendFixed(v uint64, width int) {
	if width == 0 {
		return
	}
	w.grow(w.bitCount + uint64(width))
	v &= uint64(1)<<width - 1
	idx := w.bitCount / 64
	shift := w.bitCount % 64
	w.words[idx] |= v << shift
	if shift+uint64(width) > 64 {
		w.words[idx+1] |= v >> (64 - shift)
	}
	w.bitCount += uint64(width)
}

func (w *riceWriter) appendUnary(q uint64) {
	w.grow(w.bitCount + q + 1)
	w.bitCount += q
	w.words[w.bitCount/64] |= uint64(1) << (w.bitCount % 64)
	w.bitCount++
}

func (w *riceWriter) appendRice(v uint64, log2golomb int) {
	w.appendUnary(v >> log2golomb)
	w.appendFixed(v, log2golomb)
}

// riceReader decodes the stream the writer produces. Reads past the end of
// words return zero and set the sticky overflow flag instead of panicking;
// callers check it once after a descent and report the file as corrupt.
type riceReader struct {
	words    []uint64
	bitPos   uint64
	overflow bool
}

func (r *riceReader) reset(bitPos uint64) {
	r.bitPos = bitPos
	r.overflow = false
}

func (r *riceReader) readUnary() uint64 {
	var q uint64
	for {
		idx := r.bitPos / 64
		if idx >= uint64(len(r.words)) {
			r.overflow = true
			return 0
		}
		window := r.words[idx] >> (r.bitPos % 64)
		if window != 0 {
			z := uint64(bits.TrailingZeros64(window))
			r.bitPos += z + 1
			return q + z
		}
		q += 64 - r.bitPos%64
		r.bitPos += 64 - r.bitPos%64
	}
}

func (r *riceReader) readFixed(width int) uint64 {
	if width == 0 {
		return 0
	}
	idx := r.bitPos / 64
	if idx >= uint64(len(r.words)) {
		r.overflow = true
		return 0
	}
	shift := r.bitPos % 64
	v := r.words[idx] >> shift
	if shift+uint64(width) > 64 {
		if idx+1 >= uint64(len(r.words)) {
			r.overflow = true
			return 0
		}
		v |= r.words[idx+1] << (64 - shift)
	}
	r.bitPos += uint64(width)
	return v & (uint64(1)<<width - 1)
}

func (r *riceReader) readRice(log2golomb int) uint64 {
	return r.readUnary()<<log2golomb | r.readFixed(log2golomb)
}

// golombParams derives, per subtree size, the Rice parameter used for its
// seed. The parameter is the floored log2 of the expected number of seed
// trials, computed from the exact success probability of the uniform
// assignment. Builder and index derive the identical table from the split
// geometry alone.
type golombParams struct {
	tree  splitTree
	byLen []int16
}

func newGolombParams(tree splitTree) *golombParams {
	return &golombParams{tree: tree, byLen: []int16{0, 0}}
}

func (g *golombParams) param(m uint16) int {
	for s := uint16(len(g.byLen)); s <= m; s++ {
		g.byLen = append(g.byLen, int16(riceParamFor(g.tree, s)))
	}
	return int(g.byLen[m])
}

func riceParamFor(tree splitTree, m uint16) int {
	var logp float64
	if m <= tree.leafSize {
		// All m keys must land in distinct slots: p = m! / m^m.
		logp = lgamma(float64(m)+1) - float64(m)*math.Log(float64(m))
	} else {
		// Multinomial probability of hitting the exact part sizes.
		fanout, unit := tree.splitParams(m)
		logp = lgamma(float64(m) + 1)
		for _, size := range tree.partSizes(m, fanout, unit) {
			logp -= lgamma(float64(size) + 1)
			logp += float64(size) * math.Log(float64(size)/float64(m))
		}
	}
	trials := math.Exp(-logp)
	if trials <= 1 {
		return 0
	}
	return int(math.Floor(math.Log2(trials)))
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
