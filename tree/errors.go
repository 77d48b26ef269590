// Package tree implements the B-link tree access core: the claim
// coordinator, search engine, MVV codec, and the store/traverse/remove
// paths that operate on pages handed out by storage.BufferPool. Keys are
// opaque order-preserving byte strings (see the keycodec package);
// values carry either a raw payload, a multi-version container, a
// long-record descriptor, or a tombstone.
package tree

import (
	"errors"
	"fmt"
)

// Transient: handled internally with all claims released before retry.
var (
	ErrRetry              = errors.New("tree: retry")
	ErrWWTimedOut         = errors.New("tree: write-write wait timed out")
	ErrVersionsOutOfOrder = errors.New("tree: mvv versions out of order")
)

// Transactional.
var ErrRollback = errors.New("tree: transaction must roll back")

// Contract violations (caller errors).
var (
	ErrKeyTooLong       = errors.New("tree: key exceeds maximum encoded size")
	ErrEmptyKey         = errors.New("tree: key must not be empty")
	ErrInvalidDirection = errors.New("tree: invalid traverse direction")
	ErrWrongThread      = errors.New("tree: handle used from a different owner")
	ErrReadOnly         = errors.New("tree: volume is read-only")
	ErrTreeNotFound     = errors.New("tree: not found")
	ErrNoEffect         = errors.New("tree: operation had no effect")
)

// External.
var ErrInterrupted = errors.New("tree: interrupted while waiting")

// CorruptionError is the fatal, surfaced error raised when the tree
// structure itself cannot be trusted: invalid page type, a child
// pointer out of range, a level-zero page claiming
// to precede its own left edge, or walk-right exceeding its bound. The
// affected operation fails; the volume's CorruptionEvents counter is
// bumped so callers can observe it without parsing log text.
type CorruptionError struct {
	Tree     string
	Level    int
	PageAddr uint64
	Key      []byte
	Detail   string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("tree: corruption in %q at level %d page %d (key %x): %s",
		e.Tree, e.Level, e.PageAddr, e.Key, e.Detail)
}

// Is lets callers match CorruptionError with errors.Is(err, ErrCorrupt).
func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupt }

var ErrCorrupt = errors.New("tree: corruption")
