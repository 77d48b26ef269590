package txnindex

import "sync/atomic"

// TimestampAllocator hands out a monotonically increasing logical
// clock. Every commit and every reader snapshot is stamped from here,
// which is what makes VersionHandle ordering consistent with commit
// order.
type TimestampAllocator struct {
	counter uint64
}

// UpdateTimestamp returns the next timestamp, strictly greater than any
// previously issued value.
func (a *TimestampAllocator) UpdateTimestamp() uint64 {
	return atomic.AddUint64(&a.counter, 1)
}

// Current returns the most recently issued timestamp without advancing
// the clock, used to stamp a new reader's start timestamp.
func (a *TimestampAllocator) Current() uint64 {
	return atomic.LoadUint64(&a.counter)
}
