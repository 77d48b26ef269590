// Package txnindex implements the transaction index and timestamp
// allocator the tree core builds its MVCC on: version handles,
// commit-status lookup for readers, write-write dependency resolution
// for writers, and the active-reader minimum timestamp that gates MVV
// pruning and page reuse.
package txnindex

import "fmt"

// VersionHandle encodes the writing transaction's start timestamp and
// its logical step within that transaction. Timestamps occupy the high
// 48 bits, steps the low 16, which keeps VersionHandle comparisons
// consistent with commit order.
type VersionHandle uint64

const stepBits = 16
const stepMask = (1 << stepBits) - 1

// NewVersionHandle packs a timestamp and step into a VersionHandle.
func NewVersionHandle(ts uint64, step uint16) VersionHandle {
	return VersionHandle((ts << stepBits) | uint64(step))
}

func (vh VersionHandle) Timestamp() uint64 { return uint64(vh) >> stepBits }

// Step returns the logical step within the owning transaction.
func (vh VersionHandle) Step() uint16 { return uint16(uint64(vh) & stepMask) }

func (vh VersionHandle) String() string {
	return fmt.Sprintf("vh(ts=%d,step=%d)", vh.Timestamp(), vh.Step())
}

// Less orders version handles by (timestamp, step), which is also
// commit order once both are committed.
func (vh VersionHandle) Less(other VersionHandle) bool { return vh < other }
