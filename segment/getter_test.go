package segment_test

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockforge/snapseg/internal/segtest"
	"github.com/blockforge/snapseg/segment"
)

func buildSegment(t *testing.T, patterns [][]byte, words [][]byte) (string, []uint64) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "v1-test.seg")
	b := segtest.NewBuilder(patterns...)
	for _, w := range words {
		b.AddWord(w)
	}
	offsets, err := b.Build(path)
	require.NoError(t, err)
	return path, offsets
}

func openSegment(t *testing.T, path string) *segment.Store {
	t.Helper()
	s, err := segment.Open(segment.OpenOptions{FilePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetterRawRoundTrip(t *testing.T) {
	path, offsets := buildSegment(t, nil, [][]byte{[]byte("hello")})
	s := openSegment(t, path)

	require.Equal(t, 1, s.Count())
	require.Equal(t, 0, s.EmptyCount())
	require.Equal(t, uint64(0), offsets[0])

	g := s.MakeGetter()
	require.True(t, g.HasNext())
	word, next, err := g.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), word)
	assert.Equal(t, s.DataSize(), next)

	require.False(t, g.HasNext())
	_, _, err = g.Next(nil)
	assert.ErrorIs(t, err, io.EOF)
}

func TestGetterPatternRoundTrip(t *testing.T) {
	path, _ := buildSegment(t, [][]byte{[]byte("ab")}, [][]byte{[]byte("abcd")})
	s := openSegment(t, path)

	g := s.MakeGetter()
	word, _, err := g.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), word)
	assert.False(t, g.HasNext())
}

func TestGetterMixedRoundTrip(t *testing.T) {
	patterns := [][]byte{[]byte("long_common_prefix_"), []byte("suffix"), []byte("ab")}
	words := [][]byte{
		[]byte("long_common_prefix_0001"),
		{},
		[]byte("x"),
		[]byte("long_common_prefix_0002_suffix"),
		[]byte("absolutely_absurd_ab"),
		{},
		[]byte("no match here"),
		[]byte("suffixsuffixsuffix"),
	}
	path, offsets := buildSegment(t, patterns, words)
	s := openSegment(t, path)

	require.Equal(t, len(words), s.Count())
	require.Equal(t, 2, s.EmptyCount())

	g := s.MakeGetter()
	for i, want := range words {
		require.True(t, g.HasNext(), "word %d", i)
		word, next, err := g.Next(nil)
		require.NoError(t, err, "word %d", i)
		assert.Equal(t, want, word, "word %d", i)
		if i+1 < len(words) {
			assert.Equal(t, offsets[i+1], next, "offset after word %d", i)
		} else {
			assert.Equal(t, s.DataSize(), next)
		}
	}
	require.False(t, g.HasNext())

	// Random access: each offset decodes its own word.
	for i := len(words) - 1; i >= 0; i-- {
		g.Reset(offsets[i])
		word, _, err := g.Next(nil)
		require.NoError(t, err)
		assert.Equal(t, words[i], word, "word %d via Reset", i)
	}
}

func TestGetterAppendsToBuf(t *testing.T) {
	path, _ := buildSegment(t, [][]byte{[]byte("ab")}, [][]byte{[]byte("abcd")})
	s := openSegment(t, path)

	g := s.MakeGetter()
	buf := []byte("prefix:")
	word, _, err := g.Next(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("prefix:abcd"), word)
}

func TestGetterSkip(t *testing.T) {
	patterns := [][]byte{[]byte("pattern"), []byte("xy")}
	words := [][]byte{
		[]byte("pattern at start"),
		[]byte("tail is pattern"),
		{},
		[]byte("raw only word"),
		[]byte("xyxy pattern xyxy"),
	}
	path, offsets := buildSegment(t, patterns, words)
	s := openSegment(t, path)

	g := s.MakeGetter()
	for i, want := range words {
		next, n, err := g.Skip()
		require.NoError(t, err, "word %d", i)
		assert.Equal(t, len(want), n, "length of word %d", i)
		if i+1 < len(words) {
			assert.Equal(t, offsets[i+1], next)
		} else {
			assert.Equal(t, s.DataSize(), next)
		}
	}
	_, _, err := g.Skip()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOffsetMonotonicity(t *testing.T) {
	var words [][]byte
	for i := 0; i < 100; i++ {
		if i%7 == 0 {
			words = append(words, nil)
			continue
		}
		words = append(words, []byte(fmt.Sprintf("record_%04d_payload", i)))
	}
	path, _ := buildSegment(t, [][]byte{[]byte("record_"), []byte("_payload")}, words)
	s := openSegment(t, path)

	g := s.MakeGetter()
	var prev uint64
	for i := 0; i < s.Count(); i++ {
		next, _, err := g.Skip()
		require.NoError(t, err)
		require.Greater(t, next, prev, "record %d", i)
		prev = next
	}
	require.Equal(t, s.DataSize(), prev)
	require.False(t, g.HasNext())
}

func TestMatch(t *testing.T) {
	path, offsets := buildSegment(t, [][]byte{[]byte("key")}, [][]byte{
		[]byte("key0001"), []byte("key0002"),
	})
	s := openSegment(t, path)

	g := s.MakeGetter()
	ok, next, err := g.Match([]byte("key0002"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), next, "cursor stays on mismatch")

	ok, next, err = g.Match([]byte("key0001"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, offsets[1], next)

	ok, _, err = g.Match([]byte("key0002"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchPrefix(t *testing.T) {
	path, _ := buildSegment(t, [][]byte{[]byte("key")}, [][]byte{[]byte("key0001")})
	s := openSegment(t, path)

	g := s.MakeGetter()
	for _, tc := range []struct {
		prefix []byte
		want   bool
	}{
		{nil, true},
		{[]byte("key"), true},
		{[]byte("key0001"), true},
		{[]byte("key0002"), false},
		{[]byte("key00010"), false},
		{[]byte("zzz"), false},
	} {
		got, err := g.MatchPrefix(tc.prefix)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "prefix %q", tc.prefix)
	}
	// The cursor never moved; the word is still fully readable.
	word, _, err := g.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("key0001"), word)
}

func TestMatchCmp(t *testing.T) {
	path, offsets := buildSegment(t, [][]byte{[]byte("key")}, [][]byte{
		[]byte("key0001"), []byte("key0002"),
	})
	s := openSegment(t, path)

	g := s.MakeGetter()
	cmp, err := g.MatchCmp([]byte("key0000"))
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)
	cmp, err = g.MatchCmp([]byte("key0002"))
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	cmp, err = g.MatchCmp([]byte("key0001"))
	require.NoError(t, err)
	require.Equal(t, 0, cmp)

	// Equality advanced the cursor.
	g2 := s.MakeGetter()
	g2.Reset(offsets[1])
	word, _, err := g2.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("key0002"), word)
	word, _, err = g.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("key0002"), word)
}

func TestUseAfterClose(t *testing.T) {
	path, _ := buildSegment(t, nil, [][]byte{[]byte("hello")})
	s, err := segment.Open(segment.OpenOptions{FilePath: path})
	require.NoError(t, err)

	g := s.MakeGetter()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	assert.False(t, g.HasNext())
	_, _, err = g.Next(nil)
	assert.ErrorIs(t, err, segment.ErrClosed)
	_, _, err = g.Skip()
	assert.ErrorIs(t, err, segment.ErrClosed)
}

func TestOpenTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1-short.seg")
	require.NoError(t, os.WriteFile(path, make([]byte, 31), 0o644))
	_, err := segment.Open(segment.OpenOptions{FilePath: path})
	assert.ErrorIs(t, err, segment.ErrFormat)
}

func TestOpenTruncatedDict(t *testing.T) {
	path, _ := buildSegment(t, [][]byte{[]byte("pattern")}, [][]byte{[]byte("a pattern here")})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Claim a pattern dictionary larger than the file.
	data[16+7] = 0xff
	broken := filepath.Join(t.TempDir(), "v1-broken.seg")
	require.NoError(t, os.WriteFile(broken, data, 0o644))
	_, err = segment.Open(segment.OpenOptions{FilePath: broken})
	assert.ErrorIs(t, err, segment.ErrFormat)
}

func TestUnknownRecordMarker(t *testing.T) {
	path, offsets := buildSegment(t, nil, [][]byte{[]byte("hello")})
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// With both dictionaries empty the record region starts at byte 32.
	data[32+offsets[0]] = 0x07
	broken := filepath.Join(t.TempDir(), "v1-marker.seg")
	require.NoError(t, os.WriteFile(broken, data, 0o644))

	s := openSegment(t, broken)
	g := s.MakeGetter()
	_, _, err = g.Next(nil)
	assert.ErrorIs(t, err, segment.ErrUnknownFormat)
	_, _, err = g.Skip()
	assert.ErrorIs(t, err, segment.ErrUnknownFormat)
}

func TestCondensedPatternTable(t *testing.T) {
	segment.SetTableCondensity(3)
	defer segment.SetTableCondensity(9)

	// Enough distinct patterns with skewed use counts to force code depths
	// past the lowered condensing threshold.
	var patterns [][]byte
	var words [][]byte
	for i := 0; i < 12; i++ {
		p := []byte(fmt.Sprintf("<pat%02d>", i))
		patterns = append(patterns, p)
		for j := 0; j <= i; j++ {
			words = append(words, append([]byte(fmt.Sprintf("w%d_%d_", i, j)), p...))
		}
	}
	path, _ := buildSegment(t, patterns, words)
	s := openSegment(t, path)

	g := s.MakeGetter()
	for i, want := range words {
		word, _, err := g.Next(nil)
		require.NoError(t, err, "word %d", i)
		require.Equal(t, want, word, "word %d", i)
	}
}

func TestEmptyWordRoundTrip(t *testing.T) {
	path, _ := buildSegment(t, nil, [][]byte{{}, []byte("a"), {}})
	s := openSegment(t, path)

	require.Equal(t, 3, s.Count())
	require.Equal(t, 2, s.EmptyCount())

	g := s.MakeGetter()
	word, _, err := g.Next(nil)
	require.NoError(t, err)
	assert.NotNil(t, word)
	assert.Len(t, word, 0)

	word, _, err = g.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), word)

	word, _, err = g.Next(nil)
	require.NoError(t, err)
	assert.Len(t, word, 0)
}
