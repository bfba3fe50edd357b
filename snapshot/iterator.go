package snapshot

import (
	"io"

	"github.com/blockforge/snapseg/segment"
)

// Iterator walks the segment's records sequentially from offset 0. For
// pair layouts every step yields a key and a value; otherwise the key is
// nil and the value is the record itself. An Iterator is not safe for
// concurrent use; create one per goroutine.
type Iterator struct {
	g    *segment.Getter
	pair bool
}

// Iterator returns a fresh iterator positioned at the first record.
func (r *RecordReader) Iterator() *Iterator {
	return &Iterator{g: r.store.MakeGetter(), pair: r.opts.PairLayout}
}

// HasNext reports whether another entry can be read.
func (it *Iterator) HasNext() bool {
	return it.g.HasNext()
}

// Next decodes the next entry. It returns io.EOF past the last one.
func (it *Iterator) Next() (key []byte, value []byte, err error) {
	if !it.pair {
		value, _, err = it.g.Next(nil)
		return nil, value, err
	}
	key, _, err = it.g.Next(nil)
	if err != nil {
		return nil, nil, err
	}
	value, _, err = it.g.Next(nil)
	if err == io.EOF {
		// A key with no value record means the file is cut short.
		return nil, nil, io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

// Reset repositions the iterator at the first record.
func (it *Iterator) Reset() {
	it.g.Reset(0)
}
