package tree

import "sync"

// TreeHandle is the claim coordinator on a tree's root metadata (root
// address, depth, generation): reader for lookups and leaf-level
// mutation, writer for anything that changes the root pointer or depth.
// The upgrade path is serialized through a dedicated mutex so at most
// one reader-to-writer upgrade is ever in flight.
type TreeHandle struct {
	mu        sync.RWMutex
	upgrading sync.Mutex
}

// TreeClaim is an opaque reader or writer claim on the tree handle.
type TreeClaim struct {
	writer bool
	held   bool
}

func (c TreeClaim) Writer() bool { return c.writer }

// ClaimReader blocks until a reader claim is available.
func (h *TreeHandle) ClaimReader() TreeClaim {
	h.mu.RLock()
	return TreeClaim{writer: false, held: true}
}

// ClaimWriter blocks until an exclusive claim is available.
func (h *TreeHandle) ClaimWriter() TreeClaim {
	h.mu.Lock()
	return TreeClaim{writer: true, held: true}
}

// Release gives up c. Releasing an already-released claim is a no-op,
// so callers may defer Release unconditionally after a successful
// Upgrade (which consumes the original claim).
func (h *TreeHandle) Release(c TreeClaim) {
	if !c.held {
		return
	}
	if c.writer {
		h.mu.Unlock()
	} else {
		h.mu.RUnlock()
	}
}

// Upgrade converts a reader claim into a writer claim. The conversion is
// not atomic with respect to the tree's metadata (another writer may run
// between the release and reacquire), so callers must re-validate
// anything read under the reader claim before trusting it; a failed
// upgrade (another upgrade already in flight) releases the reader claim
// and returns ok=false, which the caller treats as a retryable event.
func (h *TreeHandle) Upgrade(c TreeClaim) (TreeClaim, bool) {
	if c.writer {
		return c, true
	}
	if !h.upgrading.TryLock() {
		h.mu.RUnlock()
		return TreeClaim{}, false
	}
	h.mu.RUnlock()
	h.mu.Lock()
	h.upgrading.Unlock()
	return TreeClaim{writer: true, held: true}, true
}
