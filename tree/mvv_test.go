package tree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blinkkv/txnindex"
)

func newTestIndex() (*txnindex.TimestampAllocator, *txnindex.TransactionIndex) {
	clock := &txnindex.TimestampAllocator{}
	return clock, txnindex.New(clock)
}

// commitVersion runs one whole writer lifecycle and returns the handle
// it minted.
func commitVersion(ix *txnindex.TransactionIndex, value string) (txnindex.VersionHandle, MVVVersion) {
	txn := ix.Begin()
	vh := txn.NextVersionHandle()
	ix.Commit(txn)
	return vh, MVVVersion{VH: vh, Value: []byte(value)}
}

func TestVisitFetchPicksLatestCommittedVersion(t *testing.T) {
	clock, ix := newTestIndex()
	_, v1 := commitVersion(ix, "old")
	_, v2 := commitVersion(ix, "new")

	got, ok := VisitFetch([]MVVVersion{v1, v2}, ix, clock.Current(), 0)
	require.True(t, ok)
	require.Equal(t, []byte("new"), got.Value)
}

func TestVisitFetchHonorsReaderSnapshot(t *testing.T) {
	clock, ix := newTestIndex()
	_, v1 := commitVersion(ix, "old")
	snapshotTS := clock.Current()
	_, v2 := commitVersion(ix, "new")

	got, ok := VisitFetch([]MVVVersion{v1, v2}, ix, snapshotTS, 0)
	require.True(t, ok)
	require.Equal(t, []byte("old"), got.Value, "a version committed after the snapshot must stay invisible")
}

func TestVisitFetchSkipsUncommittedVersions(t *testing.T) {
	clock, ix := newTestIndex()
	txn := ix.Begin()
	vh := txn.NextVersionHandle()

	_, ok := VisitFetch([]MVVVersion{{VH: vh, Value: []byte("pending")}}, ix, clock.Current(), 0)
	require.False(t, ok)
	ix.Abort(txn)
}

func TestVisitStoreIgnoresVersionsCommittedBeforeWriterBegan(t *testing.T) {
	_, ix := newTestIndex()
	_, v1 := commitVersion(ix, "settled")

	writer := ix.Begin()
	max, err := VisitStore([]MVVVersion{v1}, ix, writer, time.Second)
	require.NoError(t, err)
	require.Equal(t, v1.VH, max)
	ix.Abort(writer)
}

func TestVisitStoreRollsBackOnConcurrentCommit(t *testing.T) {
	_, ix := newTestIndex()
	writer := ix.Begin()
	_, conflicting := commitVersion(ix, "raced-ahead")

	_, err := VisitStore([]MVVVersion{conflicting}, ix, writer, time.Second)
	require.ErrorIs(t, err, ErrRollback)
	ix.Abort(writer)
}

func TestVisitStoreTimesOutOnActiveWriter(t *testing.T) {
	_, ix := newTestIndex()
	other := ix.Begin()
	vh := other.NextVersionHandle()

	writer := ix.Begin()
	_, err := VisitStore([]MVVVersion{{VH: vh, Value: []byte("pending")}}, ix, writer, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrWWTimedOut)
	ix.Abort(other)
	ix.Abort(writer)
}

func TestVisitStoreToleratesAbortedWriter(t *testing.T) {
	_, ix := newTestIndex()
	other := ix.Begin()
	vh := other.NextVersionHandle()
	ix.Abort(other)

	writer := ix.Begin()
	_, err := VisitStore([]MVVVersion{{VH: vh, Value: []byte("discarded")}}, ix, writer, time.Second)
	require.NoError(t, err)
	ix.Abort(writer)
}

func TestPruneDropsShadowedCommittedVersions(t *testing.T) {
	_, ix := newTestIndex()
	_, v1 := commitVersion(ix, "v1")
	_, v2 := commitVersion(ix, "v2")
	_, v3 := commitVersion(ix, "v3")

	// No active readers: everything committed is behind the threshold,
	// so only the newest version survives.
	kept, dropped := Prune([]MVVVersion{v1, v2, v3}, ix, ix.MinActiveReaderTS())
	require.Len(t, kept, 1)
	require.Equal(t, []byte("v3"), kept[0].Value)
	require.Len(t, dropped, 2)
}

func TestPruneKeepsVersionsAnActiveReaderStillNeeds(t *testing.T) {
	_, ix := newTestIndex()
	_, v1 := commitVersion(ix, "v1")
	reader := ix.Begin()
	_, v2 := commitVersion(ix, "v2")

	kept, dropped := Prune([]MVVVersion{v1, v2}, ix, ix.MinActiveReaderTS())
	require.Len(t, kept, 2, "v1 is the version the open reader would resolve; it must survive")
	require.Empty(t, dropped)
	ix.Abort(reader)
}

func TestPruneKeepsUncommittedVersions(t *testing.T) {
	_, ix := newTestIndex()
	_, v1 := commitVersion(ix, "committed")
	txn := ix.Begin()
	pending := MVVVersion{VH: txn.NextVersionHandle(), Value: []byte("pending")}

	kept, _ := Prune([]MVVVersion{v1, pending}, ix, ix.MinActiveReaderTS())
	require.Len(t, kept, 2)
	ix.Abort(txn)
}

func TestAntiValueVersionHidesKey(t *testing.T) {
	clock, ix := newTestIndex()
	_, v1 := commitVersion(ix, "alive")

	txn := ix.Begin()
	anti := MVVVersion{VH: txn.NextVersionHandle(), Anti: true}
	ix.Commit(txn)

	got, ok := VisitFetch([]MVVVersion{v1, anti}, ix, clock.Current(), 0)
	require.True(t, ok)
	require.True(t, got.Anti, "the newest visible version is the tombstone")
}

func TestEncodeDecodeMVVPreservesVersionOrderAndTombstones(t *testing.T) {
	_, ix := newTestIndex()
	_, v1 := commitVersion(ix, "first")
	_, v2 := commitVersion(ix, "second")
	anti := MVVVersion{VH: txnindex.NewVersionHandle(999, 1), Anti: true}

	decoded := DecodeMVV(EncodeMVV([]MVVVersion{v1, v2, anti}))
	require.Len(t, decoded, 3)
	require.Equal(t, v1.VH, decoded[0].VH)
	require.Equal(t, []byte("second"), decoded[1].Value)
	require.True(t, decoded[2].Anti)
}
