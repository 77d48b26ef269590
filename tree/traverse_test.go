package tree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"blinkkv/keycodec"
)

func putRaw(t *testing.T, tr *Tree, lc *LevelCache, key, val string) {
	t.Helper()
	_, err := tr.Store([]byte(key), []byte(val), nil, 0, lc)
	require.NoError(t, err)
}

func TestTraverseForwardOrderedWalk(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	putRaw(t, tr, &lc, "b", "2")
	putRaw(t, tr, &lc, "a", "1")
	putRaw(t, tr, &lc, "c", "3")

	res, ok, err := tr.Traverse(nil, GT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a"), res.Key)

	res, ok, err = tr.Traverse([]byte("a"), GT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), res.Key)

	res, ok, err = tr.Traverse([]byte("b"), GT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("c"), res.Key)

	_, ok, err = tr.Traverse([]byte("c"), GT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTraverseBackwardOrderedWalk(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	putRaw(t, tr, &lc, "a", "1")
	putRaw(t, tr, &lc, "b", "2")
	putRaw(t, tr, &lc, "c", "3")

	res, ok, err := tr.Traverse(nil, LT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("c"), res.Key)

	res, ok, err = tr.Traverse([]byte("c"), LT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), res.Key)

	res, ok, err = tr.Traverse([]byte("b"), LT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a"), res.Key)

	_, ok, err = tr.Traverse([]byte("a"), LT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTraverseInclusiveDirections(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	putRaw(t, tr, &lc, "a", "1")
	putRaw(t, tr, &lc, "b", "2")

	res, ok, err := tr.Traverse([]byte("a"), GTEQ, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("a"), res.Key)

	res, ok, err = tr.Traverse([]byte("b"), LTEQ, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("b"), res.Key)
}

func TestTraverseEQDelegatesToFetch(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	putRaw(t, tr, &lc, "k", "v")

	res, ok, err := tr.Traverse([]byte("k"), EQ, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, res.Exact)
	require.Equal(t, []byte("v"), res.Value)

	_, ok, err = tr.Traverse([]byte("missing"), EQ, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTraverseRejectsInvalidDirection(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	_, _, err := tr.Traverse([]byte("k"), Direction(99), true, -1, 0, 0, nil, nil, &lc)
	require.ErrorIs(t, err, ErrInvalidDirection)
}

func TestTraverseAcrossManyPageSplits(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	const n = 5000
	for i := 0; i < n; i++ {
		putRaw(t, tr, &lc, keyAt(i), keyAt(i))
	}
	require.Greater(t, tr.Vol.Stats.Splits.Load(), uint64(0))

	count := 0
	var cursor []byte
	for {
		res, ok, err := tr.Traverse(cursor, GT, true, -1, 0, 0, nil, nil, &lc)
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
		cursor = res.Key
		require.LessOrEqual(t, count, n)
	}
	require.Equal(t, n, count)
}

func keyAt(i int) string {
	const digits = "0123456789"
	s := make([]byte, 5)
	for j := 4; j >= 0; j-- {
		s[j] = digits[i%10]
		i /= 10
	}
	return "k" + string(s)
}

// TestTraverseDeepVersusSibling: from a starting key with children
// (A.1, A.2), a non-deep forward traverse
// should surface the next *sibling*-level key (B) rather than A's own
// children, while a deep traverse should surface A.1 itself.
func TestTraverseDeepVersusSibling(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	keyA := keycodec.NewBuilder().AppendString("A").Bytes()
	keyA1 := keycodec.NewBuilder().AppendString("A").AppendString("1").Bytes()
	keyA2 := keycodec.NewBuilder().AppendString("A").AppendString("2").Bytes()
	keyB := keycodec.NewBuilder().AppendString("B").Bytes()

	for _, k := range [][]byte{keyA, keyA1, keyA2, keyB} {
		_, err := tr.Store(k, k, nil, 0, &lc)
		require.NoError(t, err)
	}

	deepRes, ok, err := tr.Traverse(keyA, GT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, keyA1, deepRes.Key)

	notDeepRes, ok, err := tr.Traverse(keyA, GT, false, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, keyB, notDeepRes.Key)
}

func TestTraverseWithVisitorStopsEarly(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	putRaw(t, tr, &lc, "a", "1")
	putRaw(t, tr, &lc, "b", "2")
	putRaw(t, tr, &lc, "c", "3")

	var seen []string
	_, _, err := tr.Traverse(nil, GT, true, -1, 0, 0, nil, func(key, value []byte) bool {
		seen = append(seen, string(key))
		return len(seen) < 2
	}, &lc)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, seen)
}
