package tree

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoveRawDeletesKey(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	putRaw(t, tr, &lc, "k", "v")
	existed, err := tr.Remove([]byte("k"), nil, 0, &lc)
	require.NoError(t, err)
	require.True(t, existed)

	res, err := tr.Fetch([]byte("k"), nil, -1, &lc)
	require.NoError(t, err)
	require.False(t, res.Found)

	_, err = tr.Remove([]byte("k"), nil, 0, &lc)
	require.ErrorIs(t, err, ErrNoEffect)
}

func TestRemoveRejectsEmptyKeyAndReadOnly(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	_, err := tr.Remove(nil, nil, 0, &lc)
	require.ErrorIs(t, err, ErrEmptyKey)

	tr.Vol.ReadOnly = true
	_, err = tr.Remove([]byte("k"), nil, 0, &lc)
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestRemoveRangeSpanningPages(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	const n = 2000
	for i := 0; i < n; i++ {
		putRaw(t, tr, &lc, rangeKey(i), fmt.Sprintf("payload-%04d-%032d", i, i))
	}
	require.Greater(t, tr.Vol.Stats.Splits.Load(), uint64(0), "the range must span more than one leaf")

	removed, err := tr.RemoveRange([]byte(rangeKey(500)), []byte(rangeKey(1500)), nil, 0, &lc)
	require.NoError(t, err)
	require.Equal(t, 1000, removed)

	// Everything in [500, 1500) is gone; everything outside survives.
	count := 0
	var cursor []byte
	for {
		res, ok, err := tr.Traverse(cursor, GT, true, -1, 0, 0, nil, nil, &lc)
		require.NoError(t, err)
		if !ok {
			break
		}
		idx := keyIndex(t, res.Key)
		require.True(t, idx < 500 || idx >= 1500, "key %s should have been removed", res.Key)
		count++
		cursor = res.Key
	}
	require.Equal(t, 1000, count)
}

func TestRemoveAllLeavesTreeUsable(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	for i := 0; i < 50; i++ {
		putRaw(t, tr, &lc, rangeKey(i), "v")
	}
	removed, err := tr.RemoveAll(nil, 0, &lc)
	require.NoError(t, err)
	require.Equal(t, 50, removed)

	_, ok, err := tr.Traverse(nil, GT, true, -1, 0, 0, nil, nil, &lc)
	require.NoError(t, err)
	require.False(t, ok)

	// The emptied tree accepts new keys.
	putRaw(t, tr, &lc, "again", "v")
	res, err := tr.Fetch([]byte("again"), nil, -1, &lc)
	require.NoError(t, err)
	require.True(t, res.Found)
}

func TestRemoveJoinReclaimsUnderfullPages(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	const n = 1500
	for i := 0; i < n; i++ {
		putRaw(t, tr, &lc, rangeKey(i), fmt.Sprintf("payload-%04d-%032d", i, i))
	}
	require.Greater(t, tr.Vol.Stats.Splits.Load(), uint64(0))

	for i := 0; i < n-10; i++ {
		_, err := tr.Remove([]byte(rangeKey(i)), nil, 0, &lc)
		require.NoError(t, err)
	}
	require.Greater(t, tr.Vol.Stats.Joins.Load()+tr.Vol.Stats.Rebalances.Load(), uint64(0),
		"draining most of the tree must trigger page joins or rebalances")
}

func TestStoreMVCCConflictingWriterRollsBack(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	t1 := beginTxn(t, tr)

	t2 := beginTxn(t, tr)
	var t2LC LevelCache
	_, err := tr.Store([]byte("K"), []byte("from-t2"), t2, FlagMVCC, &t2LC)
	require.NoError(t, err)
	tr.TxIndex.Commit(t2)

	// t2 committed after t1 started, so t1's write to the same key must
	// roll back rather than silently overwrite.
	_, err = tr.Store([]byte("K"), []byte("from-t1"), t1, FlagMVCC|FlagWait, &lc)
	require.ErrorIs(t, err, ErrRollback)
	tr.TxIndex.Abort(t1)
}

func TestRemoveMVCCTombstoneInvisibleToLaterReaders(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	w := beginTxn(t, tr)
	_, err := tr.Store([]byte("doomed"), []byte("v"), w, FlagMVCC, &lc)
	require.NoError(t, err)
	tr.TxIndex.Commit(w)

	rm := beginTxn(t, tr)
	existed, err := tr.Remove([]byte("doomed"), rm, FlagMVCC, &lc)
	require.NoError(t, err)
	require.True(t, existed)

	// Before the delete commits, an outside reader still sees the value.
	var outsideLC LevelCache
	res, err := tr.Fetch([]byte("doomed"), nil, -1, &outsideLC)
	require.NoError(t, err)
	require.True(t, res.Found)

	tr.TxIndex.Commit(rm)

	res, err = tr.Fetch([]byte("doomed"), nil, -1, &outsideLC)
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestRemoveMVCCRequiresTransaction(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	_, err := tr.Remove([]byte("k"), nil, FlagMVCC, &lc)
	require.ErrorIs(t, err, ErrRollback)
}

func TestRemoveTreeInvalidatesAndReclaims(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache
	for i := 0; i < 200; i++ {
		putRaw(t, tr, &lc, rangeKey(i), "v")
	}
	require.True(t, tr.Valid())
	require.NoError(t, tr.RemoveTree())
	require.False(t, tr.Valid())

	// The tree's pages are back on the free list, so the next allocation
	// reuses one instead of growing the file.
	pages := tr.Vol.PageCount()
	ptr, _ := tr.Vol.AllocPage()
	require.NotZero(t, ptr)
	require.Equal(t, pages, tr.Vol.PageCount())
}

// TestRemoveLeftEdgeUnderConcurrentTraversal drives tombstone removes
// and re-inserts against the left edge of the tree while readers walk
// it forward, checking that every single pass still observes keys in
// strictly ascending order.
func TestRemoveLeftEdgeUnderConcurrentTraversal(t *testing.T) {
	tr := openTestTree(t)
	var setupLC LevelCache
	const n = 400
	for i := 0; i < n; i++ {
		putRaw(t, tr, &setupLC, rangeKey(i), "v")
	}

	stop := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		var lc LevelCache
		for round := 0; ; round++ {
			select {
			case <-stop:
				return
			default:
			}
			key := []byte(rangeKey(round % 8))
			txn := tr.TxIndex.Begin()
			if _, err := tr.Remove(key, txn, FlagMVCC, &lc); err != nil && err != ErrNoEffect && err != ErrRollback {
				t.Errorf("remove %s: %v", key, err)
				return
			}
			tr.TxIndex.Commit(txn)

			txn = tr.TxIndex.Begin()
			if _, err := tr.Store(key, []byte("v"), txn, FlagMVCC, &lc); err != nil && err != ErrRollback {
				t.Errorf("reinsert %s: %v", key, err)
				return
			}
			tr.TxIndex.Commit(txn)
		}
	}()

	var readers sync.WaitGroup
	for r := 0; r < 3; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			var lc LevelCache
			for pass := 0; pass < 20; pass++ {
				var prev []byte
				var cursor []byte
				for {
					res, ok, err := tr.Traverse(cursor, GT, true, -1, 0, 0, nil, nil, &lc)
					if err != nil {
						t.Errorf("traverse: %v", err)
						return
					}
					if !ok {
						break
					}
					if prev != nil && cmp(res.Key, prev) <= 0 {
						t.Errorf("traversal went backwards: %q after %q", res.Key, prev)
						return
					}
					prev = append(prev[:0], res.Key...)
					cursor = res.Key
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-writerDone
}

func rangeKey(i int) string { return fmt.Sprintf("r%04d", i) }

func keyIndex(t *testing.T, key []byte) int {
	t.Helper()
	var idx int
	_, err := fmt.Sscanf(string(key), "r%d", &idx)
	require.NoError(t, err)
	return idx
}

// TestRemoveFreesLongRecordPagesForReuse drives the full reclamation
// loop: a removed long record's chain pages must come back out of the
// free list when the next long record is written, instead of growing
// the file.
func TestRemoveFreesLongRecordPagesForReuse(t *testing.T) {
	tr := openTestTree(t)
	var lc LevelCache

	big := make([]byte, 64<<10)
	for i := range big {
		big[i] = byte(i)
	}
	_, err := tr.Store([]byte("big"), big, nil, 0, &lc)
	require.NoError(t, err)
	grown := tr.Vol.PageCount()

	_, err = tr.Remove([]byte("big"), nil, 0, &lc)
	require.NoError(t, err)

	// With no readers open the freed chain is immediately reusable; the
	// re-store may add at most a free-list node page beyond the old size.
	_, err = tr.Store([]byte("big"), big, nil, 0, &lc)
	require.NoError(t, err)
	require.LessOrEqual(t, tr.Vol.PageCount(), grown+1,
		"a re-stored long record must recycle the reclaimed chain pages")
}
