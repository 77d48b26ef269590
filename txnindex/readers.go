package txnindex

import "container/heap"

// Reader represents one active read snapshot: a start timestamp and
// the logical step within the owner's own transaction (so a transaction
// sees its own uncommitted writes up to its current step).
type Reader struct {
	StartTS uint64
	Step    uint16
	index   int // heap bookkeeping
}

// readerHeap is a min-heap of active readers ordered by StartTS.
type readerHeap []*Reader

func (h readerHeap) Len() int            { return len(h) }
func (h readerHeap) Less(i, j int) bool  { return h[i].StartTS < h[j].StartTS }
func (h readerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *readerHeap) Push(x interface{}) {
	r := x.(*Reader)
	r.index = len(*h)
	*h = append(*h, r)
}
func (h *readerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}

// ActiveReaders tracks every open read snapshot so the index can answer
// "what is the oldest timestamp any reader might still need visibility
// for" — the threshold that gates MVV pruning and page reclamation
// (storage.FreeList.minReclaimable).
type ActiveReaders struct {
	h readerHeap
}

// Begin registers a new reader snapshot and returns a handle to End it.
func (a *ActiveReaders) Begin(startTS uint64, step uint16) *Reader {
	r := &Reader{StartTS: startTS, Step: step}
	heap.Push(&a.h, r)
	return r
}

// End removes a reader snapshot.
func (a *ActiveReaders) End(r *Reader) {
	if r.index < 0 || r.index >= len(a.h) || a.h[r.index] != r {
		return
	}
	heap.Remove(&a.h, r.index)
	r.index = -1
}

// MinActive returns the smallest start timestamp among active readers,
// or ok=false if there are none (callers then use "now" as the
// threshold, i.e. everything committed is prunable).
func (a *ActiveReaders) MinActive() (ts uint64, ok bool) {
	if len(a.h) == 0 {
		return 0, false
	}
	return a.h[0].StartTS, true
}
