package recsplit

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiceRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 7, 63, 64, 1000, 1 << 20}
	for _, p := range []int{0, 1, 3, 8} {
		var w riceWriter
		for _, v := range values {
			w.appendRice(v, p)
		}
		r := riceReader{words: w.words}
		for i, want := range values {
			require.Equal(t, want, r.readRice(p), "param %d value %d", p, i)
		}
		assert.False(t, r.overflow)
	}
}

func TestRiceReaderOverflow(t *testing.T) {
	// An empty stream: the first unary read runs off the end.
	r := riceReader{}
	assert.Zero(t, r.readUnary())
	assert.True(t, r.overflow)

	// A fixed read whose width crosses past the last word.
	var w riceWriter
	w.appendFixed(0x7f, 7)
	r = riceReader{words: w.words}
	r.reset(60)
	r.readFixed(8)
	assert.True(t, r.overflow)

	// reset clears the flag.
	r.reset(0)
	assert.False(t, r.overflow)
	assert.Equal(t, uint64(0x7f), r.readFixed(7))
	assert.False(t, r.overflow)
}

// A lookup over a truncated seed stream must fail with ErrFormat, never
// read out of bounds.
func TestLookupTruncatedSeedStream(t *testing.T) {
	b, err := NewBuilder(Config{KeyCount: 100, Salt: 42})
	require.NoError(t, err)
	keys := make([][]byte, 100)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key%06d", i))
		require.NoError(t, b.AddKey(keys[i], uint64(i)*16))
	}
	path := filepath.Join(t.TempDir(), "v1-truncated.idx")
	require.NoError(t, b.Build(path))

	idx, err := OpenIndex(OpenOptions{FilePath: path})
	require.NoError(t, err)
	defer idx.Close()

	for _, key := range keys {
		_, ok, err := idx.Lookup(key)
		require.NoError(t, err)
		require.True(t, ok)
	}

	idx.grWords = idx.grWords[:0]
	var failed int
	for _, key := range keys {
		_, _, err := idx.Lookup(key)
		if assert.Error(t, err) {
			assert.ErrorIs(t, err, ErrFormat)
			failed++
		}
	}
	assert.Equal(t, len(keys), failed)
}
