package segment

// format.go: constants and errors for the segment file format.

import "errors"

// Segment file header layout (all fields big-endian):
//
//	word_count         u64
//	empty_word_count   u64
//	pattern_dict_size  u64
//	pattern_dict       { depth uvarint, len uvarint, bytes }*
//	position_dict_size u64
//	position_dict      { depth uvarint, value uvarint }*
//	records            encoded records, each starting at a byte boundary
//
// Each record opens with a one-byte format marker.
const (
	// RawMarker starts a record stored as uvarint(length) + literal bytes.
	RawMarker = 0x00
	// CompressedMarker starts a dictionary-compressed record: a bit-packed
	// stream of position/pattern codes followed by byte-aligned literals.
	CompressedMarker = 0x01
)

// CompressedMinSize is the smallest well-formed segment file: the three
// header words plus an empty position dictionary size field.
const CompressedMinSize = 32

// Depth bounds for dictionary entries. Deeper entries mean a longer code
// than any conforming compressor emits, so they are rejected at parse time.
const (
	maxPatternDepth  = 64
	maxPositionDepth = 2048
)

var (
	// ErrFormat reports a malformed header or dictionary.
	ErrFormat = errors.New("segment: invalid format")
	// ErrCorrupted reports a decode-time inconsistency in the record stream.
	ErrCorrupted = errors.New("segment: corrupted data")
	// ErrUnknownFormat reports a reserved record format marker.
	ErrUnknownFormat = errors.New("segment: unknown record format marker")
	// ErrClosed reports an operation on a closed store or one of its views.
	ErrClosed = errors.New("segment: store is closed")
)
