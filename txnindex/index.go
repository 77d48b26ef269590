package txnindex

import (
	"sync"
	"time"
)

// Status is a transaction's lifecycle state.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

// Transaction is the TransactionIndex's record of one writer. Its
// StartTS doubles as the high bits of every VersionHandle it mints.
type Transaction struct {
	StartTS  uint64
	status   Status
	commitTS uint64
	step     uint16
	reader   *Reader
	done     chan struct{}
	mu       sync.Mutex
}

// NextVersionHandle mints the version handle for the transaction's
// next write; each handle is strictly greater than every one the
// transaction minted before it.
func (t *Transaction) NextVersionHandle() VersionHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.step++
	return NewVersionHandle(t.StartTS, t.step)
}

func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// CurrentStep returns the highest step minted so far, i.e. the step a
// reader belonging to this same transaction uses to see its own writes.
func (t *Transaction) CurrentStep() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.step
}

// WWResult is the outcome of a write-write dependency check: zero means
// no dependency, WWAborted means the dependency resolved in the
// caller's favor, WWTimedOut means the wait exceeded its budget, and
// any other value is a committer timestamp the caller must treat as a
// conflict (roll back).
type WWResult uint64

const (
	WWNone WWResult = 0
	// WWAborted is a sentinel distinct from any real commit timestamp.
	// Timestamps are issued from 1, so ^uint64(0) can never collide.
	WWAborted  WWResult = WWResult(^uint64(0))
	WWTimedOut WWResult = WWResult(^uint64(0) - 1)
)

// TransactionIndex resolves version handles to transaction outcomes:
// commit status for readers, write-write dependencies for writers.
type TransactionIndex struct {
	clock *TimestampAllocator

	mu      sync.Mutex
	byStart map[uint64]*Transaction
	readers ActiveReaders
}

func New(clock *TimestampAllocator) *TransactionIndex {
	return &TransactionIndex{clock: clock, byStart: make(map[uint64]*Transaction)}
}

// Begin registers a new active transaction/reader snapshot at the
// current timestamp.
func (ix *TransactionIndex) Begin() *Transaction {
	ts := ix.clock.UpdateTimestamp()
	ix.mu.Lock()
	defer ix.mu.Unlock()
	t := &Transaction{StartTS: ts, status: StatusActive, done: make(chan struct{})}
	t.reader = ix.readers.Begin(ts, 0)
	ix.byStart[ts] = t
	return t
}

// Commit finalizes t at a fresh commit timestamp and makes its
// versions visible to new readers.
func (ix *TransactionIndex) Commit(t *Transaction) uint64 {
	commitTS := ix.clock.UpdateTimestamp()
	t.mu.Lock()
	t.status = StatusCommitted
	t.commitTS = commitTS
	close(t.done)
	t.mu.Unlock()
	ix.mu.Lock()
	ix.readers.End(t.reader)
	ix.mu.Unlock()
	return commitTS
}

// Abort finalizes t as rolled back.
func (ix *TransactionIndex) Abort(t *Transaction) {
	t.mu.Lock()
	if t.status == StatusActive {
		t.status = StatusAborted
		close(t.done)
	}
	t.mu.Unlock()
	ix.mu.Lock()
	ix.readers.End(t.reader)
	ix.mu.Unlock()
}

// MinActiveReaderTS is the threshold under which a committed version is
// safe to prune or a freed page is safe to reuse.
func (ix *TransactionIndex) MinActiveReaderTS() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ts, ok := ix.readers.MinActive(); ok {
		return ts
	}
	return ix.clock.Current() + 1
}

// CommittedAt answers whether vh's owning transaction has committed,
// independent of any particular reader's visibility window; used by
// MVV pruning, which reasons about commit order directly rather than
// one reader's snapshot.
func (ix *TransactionIndex) CommittedAt(vh VersionHandle) (commitTS uint64, committed bool) {
	owner := ix.lookup(vh.Timestamp())
	if owner == nil {
		return 0, false
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	if owner.status == StatusCommitted {
		return owner.commitTS, true
	}
	return 0, false
}

func (ix *TransactionIndex) lookup(ts uint64) *Transaction {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.byStart[ts]
}

// CommitStatus answers the fetch-side question: is vh visible to a
// reader snapshotted at (readerTS, readerStep)? A reader always sees
// its own transaction's writes up to its current step, and otherwise
// only versions committed at or before its start timestamp.
func (ix *TransactionIndex) CommitStatus(vh VersionHandle, readerTS uint64, readerStep uint16) (commitTS uint64, visible bool) {
	owner := ix.lookup(vh.Timestamp())
	if owner == nil {
		return 0, false
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	if owner.StartTS == readerTS {
		return readerTS, vh.Step() <= readerStep
	}
	switch owner.status {
	case StatusCommitted:
		if owner.commitTS <= readerTS {
			return owner.commitTS, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// WWDependency answers the store-side question for a version already
// present in an MVV: does it block this writer from proceeding?
func (ix *TransactionIndex) WWDependency(vh VersionHandle, writer *Transaction, maxWait time.Duration) WWResult {
	owner := ix.lookup(vh.Timestamp())
	if owner == nil || owner.StartTS == writer.StartTS {
		return WWNone
	}
	owner.mu.Lock()
	status := owner.status
	done := owner.done
	owner.mu.Unlock()
	if status == StatusActive {
		select {
		case <-done:
		case <-time.After(maxWait):
			return WWTimedOut
		}
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	switch owner.status {
	case StatusAborted:
		return WWAborted
	case StatusCommitted:
		if owner.commitTS <= writer.StartTS {
			// Committed before the writer's snapshot began: the writer
			// is building on it, not racing it.
			return WWNone
		}
		return WWResult(owner.commitTS)
	default:
		return WWTimedOut
	}
}
