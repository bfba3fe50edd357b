package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBloomParameters(t *testing.T) {
	for _, tc := range []struct {
		elements uint64
		fpr      float64
		wantErr  bool
	}{
		{100, 0.01, false},
		{0, 0.01, false},
		{100, 0, true},
		{100, 1, true},
		{100, -0.5, true},
	} {
		b, err := NewBloom(tc.elements, tc.fpr)
		if tc.wantErr {
			assert.Error(t, err, "elements=%d fpr=%v", tc.elements, tc.fpr)
			continue
		}
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.NotZero(t, b.numBits)
		assert.NotZero(t, b.numHashes)
	}
}

func TestBloomMembership(t *testing.T) {
	b, err := NewBloom(1000, 0.01)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		b.Add([]byte(fmt.Sprintf("member-%d", i)))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, b.Contains([]byte(fmt.Sprintf("member-%d", i))), "no false negatives")
	}

	falsePositives := 0
	for i := 0; i < 10000; i++ {
		if b.Contains([]byte(fmt.Sprintf("stranger-%d", i))) {
			falsePositives++
		}
	}
	// Target rate is 1%; allow generous slack to keep the test stable.
	assert.Less(t, falsePositives, 500)
}

func TestBloomSerializeRoundTrip(t *testing.T) {
	b, err := NewBloom(50, 0.05)
	require.NoError(t, err)
	b.Add([]byte("alpha"))
	b.Add([]byte("beta"))

	got, err := DeserializeBloom(b.Bytes())
	require.NoError(t, err)
	assert.True(t, got.Contains([]byte("alpha")))
	assert.True(t, got.Contains([]byte("beta")))
	assert.Equal(t, b.Bytes(), got.Bytes())
}

func TestDeserializeBloomErrors(t *testing.T) {
	_, err := DeserializeBloom(nil)
	assert.Error(t, err)
	_, err = DeserializeBloom(make([]byte, 11))
	assert.Error(t, err)

	b, err := NewBloom(10, 0.1)
	require.NoError(t, err)
	_, err = DeserializeBloom(b.Bytes()[:len(b.Bytes())-1])
	assert.Error(t, err)
}

func TestBloomImplementsFilter(t *testing.T) {
	b, err := NewBloom(16, 0.01)
	require.NoError(t, err)
	b.Add([]byte("alpha"))

	var f Filter = b
	assert.True(t, f.Contains([]byte("alpha")))
	assert.NotEmpty(t, f.Bytes())
}
