package segment

// getter.go: Getter decodes records from the store's record region.

import (
	"bytes"
	"fmt"
	"io"
)

// Getter is a cursor over the record region of one Store. The full cursor
// state is the byte offset plus the bit offset within that byte, so a
// Getter can be repositioned in O(1) with Reset.
//
// A Getter is not safe for concurrent use; create one per goroutine.
type Getter struct {
	store    *Store
	dict     *patternTable
	posDict  *posTable
	fileName string
	cur      bitCursor
}

// FileName returns the name of the segment file this getter reads.
func (g *Getter) FileName() string { return g.fileName }

func (g *Getter) ready() error {
	if g.store.closed.Load() {
		return fmt.Errorf("getter on %s: %w", g.fileName, ErrClosed)
	}
	return nil
}

// Reset repositions the getter to a byte offset within the record region.
// It performs no reads.
func (g *Getter) Reset(offset uint64) {
	g.cur.reset(offset)
}

// HasNext reports whether the cursor is before the end of the record
// region. It returns false on a closed store.
func (g *Getter) HasNext() bool {
	return !g.store.closed.Load() && !g.cur.atEnd()
}

// nextPos decodes one position symbol. When clean is set the cursor is
// first rounded up to a byte boundary (each record starts byte-aligned).
func (g *Getter) nextPos(clean bool) (uint64, error) {
	if clean {
		g.cur.byteAlign()
	}
	table := g.posDict
	if table.bitLen == 0 {
		return table.pos[0], nil
	}
	for {
		if g.cur.atEnd() {
			return 0, fmt.Errorf("%s: position stream truncated at %d: %w", g.fileName, g.cur.p, ErrCorrupted)
		}
		code := g.cur.peekCode(table.bitLen)
		if l := table.lens[code]; l > 0 {
			g.cur.skip(int(l))
			return table.pos[code], nil
		}
		if table = table.ptrs[code]; table == nil {
			return 0, fmt.Errorf("%s: invalid position code at %d: %w", g.fileName, g.cur.p, ErrCorrupted)
		}
		g.cur.skip(9)
	}
}

// nextPattern decodes one pattern symbol and returns its literal bytes.
func (g *Getter) nextPattern() ([]byte, error) {
	table := g.dict
	if table == nil {
		return nil, fmt.Errorf("%s: pattern code in segment without pattern dictionary: %w", g.fileName, ErrCorrupted)
	}
	if table.bitLen == 0 {
		return table.patterns[0].pattern, nil
	}
	for {
		if g.cur.atEnd() {
			return nil, fmt.Errorf("%s: pattern stream truncated at %d: %w", g.fileName, g.cur.p, ErrCorrupted)
		}
		code := g.cur.peekCode(table.bitLen)
		cw := table.search(code)
		if cw == nil {
			return nil, fmt.Errorf("%s: invalid pattern code at %d: %w", g.fileName, g.cur.p, ErrCorrupted)
		}
		if cw.len > 0 {
			g.cur.skip(int(cw.len))
			return cw.pattern, nil
		}
		if table = cw.ptr; table == nil {
			return nil, fmt.Errorf("%s: invalid pattern code at %d: %w", g.fileName, g.cur.p, ErrCorrupted)
		}
		g.cur.skip(9)
	}
}

// Next decodes the record at the current offset, appends it to buf and
// returns the result together with the offset of the following record.
// buf may be grown; its contents beyond the returned length are undefined.
// A record is either fully reconstructed or an error is returned; partial
// output is never visible to the caller.
//
// Returns io.EOF when the cursor is at the end of the record region.
func (g *Getter) Next(buf []byte) ([]byte, uint64, error) {
	if err := g.ready(); err != nil {
		return nil, 0, err
	}
	if g.cur.atEnd() {
		return nil, 0, io.EOF
	}

	marker := g.cur.data[g.cur.p]
	g.cur.reset(g.cur.p + 1)
	switch marker {
	case RawMarker:
		return g.nextRaw(buf)
	case CompressedMarker:
		return g.nextCompressed(buf)
	default:
		return nil, 0, fmt.Errorf("%s: record marker 0x%02x at %d: %w", g.fileName, marker, g.cur.p-1, ErrUnknownFormat)
	}
}

func (g *Getter) nextRaw(buf []byte) ([]byte, uint64, error) {
	wordLen, ok := g.cur.readUvarint()
	if !ok {
		return nil, 0, fmt.Errorf("%s: raw record length truncated at %d: %w", g.fileName, g.cur.p, ErrCorrupted)
	}
	if g.cur.p+wordLen > uint64(len(g.cur.data)) {
		return nil, 0, fmt.Errorf("%s: raw record of %d bytes exceeds region: %w", g.fileName, wordLen, ErrCorrupted)
	}
	if buf == nil {
		// nil is the caller's "not found" marker; a decoded empty record
		// must stay distinguishable from it.
		buf = []byte{}
	}
	buf = append(buf, g.cur.data[g.cur.p:g.cur.p+wordLen]...)
	g.cur.reset(g.cur.p + wordLen)
	return buf, g.cur.p, nil
}

func (g *Getter) nextCompressed(buf []byte) ([]byte, uint64, error) {
	if g.posDict == nil {
		return nil, 0, fmt.Errorf("%s: compressed record in segment without position dictionary: %w", g.fileName, ErrCorrupted)
	}
	savePos := g.cur.p
	wordLen, err := g.nextPos(true)
	if err != nil {
		return nil, 0, err
	}
	if wordLen == 0 {
		return nil, 0, fmt.Errorf("%s: zero length code at %d: %w", g.fileName, savePos, ErrCorrupted)
	}
	wordLen-- // stored as len+1; 0 is the placement terminator
	if wordLen == 0 {
		g.cur.byteAlign()
		if buf == nil {
			buf = []byte{}
		}
		return buf, g.cur.p, nil
	}

	bufOffset := len(buf)
	if len(buf)+int(wordLen) > cap(buf) {
		newBuf := make([]byte, len(buf)+int(wordLen))
		copy(newBuf, buf)
		buf = newBuf
	} else {
		buf = buf[:len(buf)+int(wordLen)]
	}

	// Pass 1: place patterns at their decoded offsets.
	bufPos := bufOffset
	for {
		pos, err := g.nextPos(false)
		if err != nil {
			return nil, 0, err
		}
		if pos == 0 {
			break
		}
		bufPos += int(pos) - 1 // deltas are relative to the previous placement
		pattern, err := g.nextPattern()
		if err != nil {
			return nil, 0, err
		}
		if bufPos+len(pattern) > len(buf) {
			return nil, 0, fmt.Errorf("%s: pattern placement at %d beyond record length %d: %w",
				g.fileName, bufPos-bufOffset, wordLen, ErrCorrupted)
		}
		copy(buf[bufPos:], pattern)
	}
	g.cur.byteAlign()
	postLoopPos := g.cur.p

	// Pass 2: replay the position stream to size the gaps between patterns
	// and fill them with literals from the byte-aligned tail.
	g.cur.reset(savePos)
	if _, err := g.nextPos(true); err != nil {
		return nil, 0, err
	}
	bufPos = bufOffset
	lastUncovered := bufOffset
	for {
		pos, err := g.nextPos(false)
		if err != nil {
			return nil, 0, err
		}
		if pos == 0 {
			break
		}
		bufPos += int(pos) - 1
		if bufPos > lastUncovered {
			dif := uint64(bufPos - lastUncovered)
			if postLoopPos+dif > uint64(len(g.cur.data)) {
				return nil, 0, fmt.Errorf("%s: literal run truncated at %d: %w", g.fileName, postLoopPos, ErrCorrupted)
			}
			copy(buf[lastUncovered:bufPos], g.cur.data[postLoopPos:postLoopPos+dif])
			postLoopPos += dif
		}
		pattern, err := g.nextPattern()
		if err != nil {
			return nil, 0, err
		}
		lastUncovered = bufPos + len(pattern)
	}
	if bufOffset+int(wordLen) > lastUncovered {
		dif := uint64(bufOffset + int(wordLen) - lastUncovered)
		if postLoopPos+dif > uint64(len(g.cur.data)) {
			return nil, 0, fmt.Errorf("%s: literal run truncated at %d: %w", g.fileName, postLoopPos, ErrCorrupted)
		}
		copy(buf[lastUncovered:bufOffset+int(wordLen)], g.cur.data[postLoopPos:postLoopPos+dif])
		postLoopPos += dif
	}
	g.cur.reset(postLoopPos)
	return buf, postLoopPos, nil
}

// Skip performs the position bookkeeping of Next without materializing the
// record. It returns the offset of the following record and the length of
// the skipped one.
func (g *Getter) Skip() (uint64, int, error) {
	if err := g.ready(); err != nil {
		return 0, 0, err
	}
	if g.cur.atEnd() {
		return 0, 0, io.EOF
	}

	marker := g.cur.data[g.cur.p]
	g.cur.reset(g.cur.p + 1)
	switch marker {
	case RawMarker:
		wordLen, ok := g.cur.readUvarint()
		if !ok {
			return 0, 0, fmt.Errorf("%s: raw record length truncated at %d: %w", g.fileName, g.cur.p, ErrCorrupted)
		}
		if g.cur.p+wordLen > uint64(len(g.cur.data)) {
			return 0, 0, fmt.Errorf("%s: raw record of %d bytes exceeds region: %w", g.fileName, wordLen, ErrCorrupted)
		}
		g.cur.reset(g.cur.p + wordLen)
		return g.cur.p, int(wordLen), nil
	case CompressedMarker:
		return g.skipCompressed()
	default:
		return 0, 0, fmt.Errorf("%s: record marker 0x%02x at %d: %w", g.fileName, marker, g.cur.p-1, ErrUnknownFormat)
	}
}

func (g *Getter) skipCompressed() (uint64, int, error) {
	if g.posDict == nil {
		return 0, 0, fmt.Errorf("%s: compressed record in segment without position dictionary: %w", g.fileName, ErrCorrupted)
	}
	wordLen, err := g.nextPos(true)
	if err != nil {
		return 0, 0, err
	}
	if wordLen == 0 {
		return 0, 0, fmt.Errorf("%s: zero length code at %d: %w", g.fileName, g.cur.p, ErrCorrupted)
	}
	wordLen--
	if wordLen == 0 {
		g.cur.byteAlign()
		return g.cur.p, 0, nil
	}

	// A single pass suffices: the gaps' total size is wordLen minus the
	// bytes covered by patterns, and the literals follow the aligned tail.
	var uncovered uint64
	var bufPos, lastUncovered int
	for {
		pos, err := g.nextPos(false)
		if err != nil {
			return 0, 0, err
		}
		if pos == 0 {
			break
		}
		bufPos += int(pos) - 1
		pattern, err := g.nextPattern()
		if err != nil {
			return 0, 0, err
		}
		if bufPos+len(pattern) > int(wordLen) {
			return 0, 0, fmt.Errorf("%s: pattern placement at %d beyond record length %d: %w",
				g.fileName, bufPos, wordLen, ErrCorrupted)
		}
		if bufPos > lastUncovered {
			uncovered += uint64(bufPos - lastUncovered)
		}
		lastUncovered = bufPos + len(pattern)
	}
	g.cur.byteAlign()
	if int(wordLen) > lastUncovered {
		uncovered += wordLen - uint64(lastUncovered)
	}
	if g.cur.p+uncovered > uint64(len(g.cur.data)) {
		return 0, 0, fmt.Errorf("%s: literal run truncated at %d: %w", g.fileName, g.cur.p, ErrCorrupted)
	}
	g.cur.reset(g.cur.p + uncovered)
	return g.cur.p, int(wordLen), nil
}

// Match decodes the record at the current offset and compares it with word.
// On a match the cursor advances past the record and the offset of the next
// record is returned; otherwise the cursor is left untouched.
func (g *Getter) Match(word []byte) (bool, uint64, error) {
	save := g.cur
	decoded, nextOffset, err := g.Next(nil)
	if err != nil {
		g.cur = save
		return false, save.p, err
	}
	if !bytes.Equal(decoded, word) {
		g.cur = save
		return false, save.p, nil
	}
	return true, nextOffset, nil
}

// MatchPrefix reports whether the record at the current offset starts with
// prefix. The cursor is never moved.
func (g *Getter) MatchPrefix(prefix []byte) (bool, error) {
	save := g.cur
	decoded, _, err := g.Next(nil)
	g.cur = save
	if err != nil {
		return false, err
	}
	return bytes.HasPrefix(decoded, prefix), nil
}

// MatchCmp lexicographically compares word with the record at the current
// offset: 0 if equal, -1 if word sorts before it, 1 after. The cursor
// advances past the record only on equality.
func (g *Getter) MatchCmp(word []byte) (int, error) {
	save := g.cur
	decoded, nextOffset, err := g.Next(nil)
	if err != nil {
		g.cur = save
		return 0, err
	}
	cmp := bytes.Compare(word, decoded)
	if cmp == 0 {
		g.cur.reset(nextOffset)
	} else {
		g.cur = save
	}
	return cmp, nil
}
