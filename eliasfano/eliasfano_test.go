package eliasfano

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSequence(t *testing.T, values []uint64) *EliasFano {
	t.Helper()
	ef := New(uint64(len(values)), values[len(values)-1])
	for _, v := range values {
		ef.Add(v)
	}
	ef.Build()
	return ef
}

func TestExactSmall(t *testing.T) {
	values := []uint64{0, 0, 3, 7, 7, 12, 1000}
	ef := buildSequence(t, values)

	require.Equal(t, uint64(len(values)), ef.Count())
	assert.Equal(t, uint64(0), ef.Min())
	assert.Equal(t, uint64(1000), ef.Max())
	for i, want := range values {
		got, err := ef.Get(uint64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got, "index %d", i)
	}
}

func TestOutOfRange(t *testing.T) {
	ef := buildSequence(t, []uint64{1, 2, 3})
	_, err := ef.Get(3)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = ef.Get(1 << 40)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSingleValue(t *testing.T) {
	for _, v := range []uint64{0, 1, 255, 1 << 40} {
		ef := buildSequence(t, []uint64{v})
		got, err := ef.Get(0)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

// Crosses several q-blocks and one superQ boundary so the jump table is
// actually consulted.
func TestExactLarge(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	const n = 3 * 16384
	values := make([]uint64, n)
	var acc uint64
	for i := range values {
		acc += uint64(rnd.Intn(500))
		values[i] = acc
	}
	ef := buildSequence(t, values)

	for i, want := range values {
		got, err := ef.Get(uint64(i))
		require.NoError(t, err)
		require.Equal(t, want, got, "index %d", i)
	}
}

func TestDenseSequence(t *testing.T) {
	values := make([]uint64, 5000)
	for i := range values {
		values[i] = uint64(i) // l becomes 0
	}
	ef := buildSequence(t, values)
	for i, want := range values {
		got, err := ef.Get(uint64(i))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	values := make([]uint64, 20000)
	for i := range values {
		values[i] = uint64(rnd.Int63n(1 << 30))
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	ef := buildSequence(t, values)

	var buf bytes.Buffer
	require.NoError(t, ef.AppendTo(&buf))
	require.Equal(t, ef.SizeBytes(), buf.Len())

	// Trailing bytes must be left untouched.
	serialized := append(buf.Bytes(), 0xde, 0xad)
	got, n, err := Read(serialized)
	require.NoError(t, err)
	require.Equal(t, ef.SizeBytes(), n)

	require.Equal(t, ef.Count(), got.Count())
	assert.Equal(t, ef.Min(), got.Min())
	assert.Equal(t, ef.Max(), got.Max())
	for i, want := range values {
		v, err := got.Get(uint64(i))
		require.NoError(t, err)
		require.Equal(t, want, v, "index %d", i)
	}
}

func TestReadTruncated(t *testing.T) {
	ef := buildSequence(t, []uint64{5, 6, 7})
	var buf bytes.Buffer
	require.NoError(t, ef.AppendTo(&buf))

	_, _, err := Read(buf.Bytes()[:10])
	assert.Error(t, err)
	_, _, err = Read(buf.Bytes()[:buf.Len()-1])
	assert.Error(t, err)
}

func TestAddPanics(t *testing.T) {
	ef := New(2, 10)
	ef.Add(3)
	ef.Add(10)
	assert.Panics(t, func() { ef.Add(11) }, "surplus add")

	assert.Panics(t, func() {
		bad := New(1, 5)
		bad.Add(6)
	}, "value above bound")

	assert.Panics(t, func() {
		short := New(3, 5)
		short.Add(1)
		short.Build()
	}, "build before all values added")
}

func TestAddRejectsDecreasing(t *testing.T) {
	ef := New(2, 5)
	ef.Add(5)
	assert.Panics(t, func() { ef.Add(3) }, "decreasing value")

	// Equal values remain legal.
	flat := New(3, 7)
	flat.Add(7)
	flat.Add(7)
	flat.Add(7)
	flat.Build()
	for i := uint64(0); i < 3; i++ {
		got, err := flat.Get(i)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), got)
	}
}
