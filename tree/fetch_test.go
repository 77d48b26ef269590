package tree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchMissingKeyNotFound(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	res, err := tr.Fetch([]byte("nope"), nil, -1, &lc)
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestFetchRejectsEmptyKey(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	_, err := tr.Fetch(nil, nil, -1, &lc)
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestFetchMaxBytesTruncates(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	_, err := tr.Store([]byte("k"), []byte("0123456789"), nil, 0, &lc)
	require.NoError(t, err)

	res, err := tr.Fetch([]byte("k"), nil, 4, &lc)
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []byte("0123"), res.Value)
}

func TestFetchAfterMVCCRemoveSeesTombstone(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	txn := beginTxn(t, tr)
	_, err := tr.Store([]byte("k"), []byte("v"), txn, FlagMVCC, &lc)
	require.NoError(t, err)
	tr.TxIndex.Commit(txn)

	rmTxn := beginTxn(t, tr)
	existed, err := tr.Remove([]byte("k"), rmTxn, FlagMVCC, &lc)
	require.NoError(t, err)
	require.True(t, existed)
	tr.TxIndex.Commit(rmTxn)

	res, err := tr.Fetch([]byte("k"), nil, -1, &lc)
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestFetchFindsEachStoredKey(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	keys := []string{"apple", "banana", "cherry", "date", "elderberry", "fig", "grape"}
	for i, k := range keys {
		_, err := tr.Store([]byte(k), []byte{byte(i)}, nil, 0, &lc)
		require.NoError(t, err)
	}
	for i, k := range keys {
		res, err := tr.Fetch([]byte(k), nil, -1, &lc)
		require.NoError(t, err)
		require.True(t, res.Found)
		require.Equal(t, []byte{byte(i)}, res.Value)
	}
}
