package txnindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCommitStatusVisibility(t *testing.T) {
	clock := &TimestampAllocator{}
	ix := New(clock)

	writer := ix.Begin()
	vh := writer.NextVersionHandle()

	reader := ix.Begin()
	_, visible := ix.CommitStatus(vh, reader.StartTS, 0)
	require.False(t, visible, "an uncommitted write must not be visible to another reader")

	ix.Commit(writer)

	laterReader := ix.Begin()
	commitTS, visible := ix.CommitStatus(vh, laterReader.StartTS, 0)
	require.True(t, visible)
	require.Greater(t, commitTS, uint64(0))
}

func TestReaderSeesOwnUncommittedWrites(t *testing.T) {
	clock := &TimestampAllocator{}
	ix := New(clock)
	txn := ix.Begin()
	vh := txn.NextVersionHandle()
	_, visible := ix.CommitStatus(vh, txn.StartTS, txn.step)
	require.True(t, visible)
}

func TestWWDependencyRollsBackOnConflictingCommit(t *testing.T) {
	clock := &TimestampAllocator{}
	ix := New(clock)

	t1 := ix.Begin()
	vhFromT2 := func() VersionHandle {
		t2 := ix.Begin()
		vh := t2.NextVersionHandle()
		ix.Commit(t2)
		return vh
	}()

	result := ix.WWDependency(vhFromT2, t1, time.Second)
	require.NotEqual(t, WWNone, result)
	require.NotEqual(t, WWAborted, result)
	require.NotEqual(t, WWTimedOut, result)
}

func TestWWDependencyIgnoresAbortedWriter(t *testing.T) {
	clock := &TimestampAllocator{}
	ix := New(clock)

	t1 := ix.Begin()
	t2 := ix.Begin()
	vh := t2.NextVersionHandle()
	ix.Abort(t2)

	result := ix.WWDependency(vh, t1, time.Second)
	require.Equal(t, WWAborted, result)
}

func TestWWDependencyTimesOutOnStillActiveWriter(t *testing.T) {
	clock := &TimestampAllocator{}
	ix := New(clock)

	t1 := ix.Begin()
	t2 := ix.Begin()
	vh := t2.NextVersionHandle()

	result := ix.WWDependency(vh, t1, 10*time.Millisecond)
	require.Equal(t, WWTimedOut, result)
	ix.Abort(t2)
}

func TestMinActiveReaderTSAdvancesAsReadersEnd(t *testing.T) {
	clock := &TimestampAllocator{}
	ix := New(clock)
	r1 := ix.Begin()
	r2 := ix.Begin()
	require.Equal(t, r1.StartTS, ix.MinActiveReaderTS())
	ix.Abort(r1)
	require.Equal(t, r2.StartTS, ix.MinActiveReaderTS())
	ix.Abort(r2)
	require.Greater(t, ix.MinActiveReaderTS(), r2.StartTS)
}
