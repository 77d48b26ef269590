package keycodec

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeTuple(t *testing.T, parts ...string) []byte {
	t.Helper()
	b := NewBuilder()
	for _, p := range parts {
		b.AppendString(p)
	}
	return b.Bytes()
}

func TestStringComponentsPreserveOrder(t *testing.T) {
	words := []string{"banana", "apple", "cherry", "", "app"}
	encoded := make([][]byte, len(words))
	for i, w := range words {
		encoded[i] = encodeTuple(t, w)
	}
	sort.Slice(encoded, func(i, j int) bool { return Compare(encoded[i], encoded[j]) < 0 })

	sorted := make([]string, len(words))
	copy(sorted, words)
	sort.Strings(sorted)
	for i, enc := range encoded {
		val, _, ok := DecodeBytesComponent(enc)
		require.True(t, ok)
		require.Equal(t, sorted[i], string(val))
	}
}

func TestEmbeddedNulRoundTrips(t *testing.T) {
	original := []byte("a\x00b\x00\x00c")
	enc := NewBuilder().AppendBytes(original).Bytes()
	val, rest, ok := DecodeBytesComponent(enc)
	require.True(t, ok)
	require.Empty(t, rest)
	require.Equal(t, original, val)
}

func TestIntComponentsPreserveNumericOrder(t *testing.T) {
	values := []int64{-100, -1, 0, 1, 42, 1 << 40}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = NewBuilder().AppendInt64(v).Bytes()
	}
	for i := 1; i < len(encoded); i++ {
		require.Less(t, Compare(encoded[i-1], encoded[i]), 0)
	}
}

func TestMultiComponentConcatenationOrdersByFirstComponent(t *testing.T) {
	a := encodeTuple(t, "alice", "z")
	b := encodeTuple(t, "bob", "a")
	require.Less(t, Compare(a, b), 0)
}

func TestCommonPrefixDepth(t *testing.T) {
	a := encodeTuple(t, "users", "42", "name")
	b := encodeTuple(t, "users", "42", "email")
	c := encodeTuple(t, "users", "7", "name")
	require.Equal(t, 2, CommonPrefixDepth(a, b))
	require.Equal(t, 1, CommonPrefixDepth(a, c))
}

func TestNudgeRightIsStrictlyGreaterAndBoundsPrefixedKeys(t *testing.T) {
	key := encodeTuple(t, "m")
	probe := Nudge(key, Right)
	require.Greater(t, Compare(probe, key), 0)

	child := encodeTuple(t, "m", "anything")
	require.LessOrEqual(t, Compare(probe, child), 0)
}

func TestNudgeLeftIsStrictlyLess(t *testing.T) {
	key := encodeTuple(t, "m")
	probe := Nudge(key, Left)
	require.Less(t, Compare(probe, key), 0)
}

func TestNudgeLeftOfEmptyIsNil(t *testing.T) {
	require.Nil(t, Nudge(nil, Left))
}

func TestLeftEdgeSentinel(t *testing.T) {
	require.True(t, LeftEdge(nil))
	require.False(t, LeftEdge(encodeTuple(t, "x")))
}
