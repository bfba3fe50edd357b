package segment

// bitcursor.go: bit-granularity cursor over the record region.

import "encoding/binary"

// bitCursor reads the record bit stream. Bits are consumed least-significant
// first within each byte; this matches the on-disk order produced by the
// reference coder and must not change.
//
// The cursor only moves forward. Callers rewind by restoring a saved (p, bit)
// pair through reset.
type bitCursor struct {
	data []byte
	p    uint64 // byte position
	bit  int    // bit position within data[p], 0..7
}

func (c *bitCursor) reset(p uint64) {
	c.p = p
	c.bit = 0
}

// atEnd reports whether the cursor is positioned at or past the end of the
// region. A partially consumed byte still counts as available.
func (c *bitCursor) atEnd() bool {
	return c.p >= uint64(len(c.data))
}

// peekCode returns up to bitLen low-order bits at the current position
// without consuming them. Bits past the end of the region read as zero,
// mirroring the reference decoder; code tables reject them as invalid.
func (c *bitCursor) peekCode(bitLen int) uint16 {
	code := uint16(c.data[c.p]) >> c.bit
	if 8-c.bit < bitLen && int(c.p)+1 < len(c.data) {
		code |= uint16(c.data[c.p+1]) << (8 - c.bit)
	}
	return code & (uint16(1)<<bitLen - 1)
}

// skip consumes n bits.
func (c *bitCursor) skip(n int) {
	c.bit += n
	c.p += uint64(c.bit / 8)
	c.bit %= 8
}

// byteAlign rounds the cursor up to the next byte boundary.
func (c *bitCursor) byteAlign() {
	if c.bit > 0 {
		c.p++
		c.bit = 0
	}
}

// readUvarint reads a byte-aligned unsigned varint at the cursor.
func (c *bitCursor) readUvarint() (uint64, bool) {
	v, n := binary.Uvarint(c.data[c.p:])
	if n <= 0 {
		return 0, false
	}
	c.p += uint64(n)
	return v, true
}
