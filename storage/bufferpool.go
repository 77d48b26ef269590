package storage

import "sync"

// BufferPool hands out claims on pages (reader or writer) and tracks
// dirtiness so a claim's Release can mark a page for the next
// checkpoint. Rather than a caching pool with eviction, it keeps every
// page resident via the volume's mmap and only adds the latch layer on
// top: one entry per page address, created lazily and never evicted
// (pages are cheap, one sync.RWMutex each).
type BufferPool struct {
	vol *Volume

	mu      sync.Mutex
	latches map[uint64]*pageLatch
}

type pageLatch struct {
	mu sync.RWMutex
}

func NewBufferPool(vol *Volume) *BufferPool {
	return &BufferPool{vol: vol, latches: make(map[uint64]*pageLatch)}
}

func (bp *BufferPool) latchFor(ptr uint64) *pageLatch {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	l, ok := bp.latches[ptr]
	if !ok {
		l = &pageLatch{}
		bp.latches[ptr] = l
	}
	return l
}

// PageClaim is a pinned, latched page. Exactly one writer or many
// readers may hold a claim on a given address at once.
type PageClaim struct {
	Addr   uint64
	Page   Page
	Writer bool

	pool  *BufferPool
	latch *pageLatch
}

// Get claims a page for read or write. wait controls whether to block
// for a contended latch; when wait is false and the latch is held, Get
// returns ok=false instead of blocking, letting the caller translate
// this into a retryable error.
func (bp *BufferPool) Get(addr uint64, writer, wait bool) (PageClaim, bool) {
	l := bp.latchFor(addr)
	if writer {
		if wait {
			l.mu.Lock()
		} else if !l.mu.TryLock() {
			return PageClaim{}, false
		}
	} else {
		if wait {
			l.mu.RLock()
		} else if !l.mu.TryRLock() {
			return PageClaim{}, false
		}
	}
	return PageClaim{Addr: addr, Page: bp.vol.pageGetRaw(addr), Writer: writer, pool: bp, latch: l}, true
}

// Release unlatches the page. touched marks the page dirty (bumping
// its generation) before releasing.
func (bp *BufferPool) Release(c PageClaim, touched bool) {
	if touched {
		c.Page.BumpGeneration()
	}
	if c.Writer {
		c.latch.mu.Unlock()
	} else {
		c.latch.mu.RUnlock()
	}
}

// Upgrade releases a reader claim and reacquires the same address as a
// writer. Because this is not atomic, callers must re-validate anything
// they read under the reader claim; a failed upgrade is a retryable
// event by convention at the caller.
func (bp *BufferPool) Upgrade(c PageClaim, wait bool) (PageClaim, bool) {
	bp.Release(c, false)
	return bp.Get(c.Addr, true, wait)
}
