package journal

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T, maxUnflushed int64) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.log")
	m, err := Open(path, maxUnflushed)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestAppendAndReadAllRoundTrips(t *testing.T) {
	m := openTestJournal(t, 0)

	require.NoError(t, m.LogPageWrite(1, 1, []byte("hello")))
	require.NoError(t, m.LogPageWrite(2, 1, []byte("world")))
	require.NoError(t, m.LogCommit(100))
	require.NoError(t, m.Sync())

	records, err := m.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, RecordPageWrite, records[0].Type)
	require.Equal(t, uint64(1), records[0].PageAddr)
	require.Equal(t, []byte("hello"), records[0].Data)
	require.Equal(t, RecordCommit, records[2].Type)
	require.Equal(t, uint64(100), records[2].PageAddr)
}

func TestReopenPreservesExistingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	m1, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, m1.LogPageWrite(5, 1, []byte("first")))
	require.NoError(t, m1.Sync())
	require.NoError(t, m1.Close())

	m2, err := Open(path, 0)
	require.NoError(t, err)
	defer m2.Close()
	require.NoError(t, m2.LogPageWrite(6, 1, []byte("second")))
	require.NoError(t, m2.Sync())

	records, err := m2.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(5), records[0].PageAddr)
	require.Equal(t, uint64(6), records[1].PageAddr)
}

func TestTruncateDropsRecords(t *testing.T) {
	m := openTestJournal(t, 0)
	require.NoError(t, m.LogPageWrite(1, 1, []byte("stale")))
	require.NoError(t, m.LogCheckpoint())
	require.NoError(t, m.Sync())
	require.NoError(t, m.Truncate())

	records, err := m.ReadAll()
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestThrottleBlocksUntilSync(t *testing.T) {
	m := openTestJournal(t, 8)
	require.NoError(t, m.LogPageWrite(1, 1, make([]byte, 64)))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, m.LogPageWrite(2, 1, make([]byte, 64)))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second append should have been throttled before Sync")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, m.Sync())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("throttled append never woke after Sync")
	}
	wg.Wait()
}

func TestChecksumMismatchIsDetected(t *testing.T) {
	m := openTestJournal(t, 0)
	require.NoError(t, m.LogPageWrite(1, 1, []byte("payload")))
	require.NoError(t, m.Sync())

	// Corrupt one byte of the payload in place.
	offset := int64(headerSize + 21)
	_, err := m.file.WriteAt([]byte{'X'}, offset)
	require.NoError(t, err)

	_, err = m.ReadAll()
	require.Error(t, err)
}
