package tree

const maxDepth = 20 // tree depth never exceeds this

// FoundAt is a position within a page: a key-block index combined with
// an exact bit recording whether the key at that position equals the
// search key.
type FoundAt struct {
	At    uint16
	Exact bool
}

// lcEntry is one LevelCache[level] slot. It lets a traversal skip the
// top-down descent when the last-used page is still valid for the
// requested key.
type lcEntry struct {
	valid bool

	pageAddr     uint64
	found        FoundAt
	bufferGen    uint64 // Page.Generation() at cache time
	treeGen      uint64 // Tree.generation at cache time
	lastInsertAt uint16
}

// LevelCache holds one entry per tree level plus the working state the
// range-remove path needs while descending both edges of a deletion
// window in lockstep.
type LevelCache struct {
	entries [maxDepth + 1]lcEntry

	// remove-range working fields, populated by remove.go's descent.
	leftAddr, rightAddr   [maxDepth + 1]uint64
	leftFound, rightFound [maxDepth + 1]FoundAt
}

// Peek returns the cached entry for level without re-validating it
// against a live page (the caller must claim the page and compare
// Page.Generation() against the returned entry's buffer generation
// itself, since validating requires a claim anyway). ok is false if the
// tree generation has moved on or nothing was ever cached here.
func (lc *LevelCache) Peek(level int, currentTreeGen uint64) (lcEntry, bool) {
	e := lc.entries[level]
	if !e.valid || e.treeGen != currentTreeGen {
		return lcEntry{}, false
	}
	return e, true
}

// Set installs a fresh cache entry after a successful search or store.
func (lc *LevelCache) Set(level int, pageAddr uint64, found FoundAt, bufferGen, treeGen uint64) {
	lc.entries[level] = lcEntry{
		valid: true, pageAddr: pageAddr, found: found,
		bufferGen: bufferGen, treeGen: treeGen,
	}
}

// SetLastInsertAt records a sequence hint the store path uses to bias
// the next insert on the same page toward an append-friendly slot.
func (lc *LevelCache) SetLastInsertAt(level int, at uint16) {
	lc.entries[level].lastInsertAt = at
}

// Invalidate resets a level cache entry (tree generation changed, or a
// page was found to be stale during descent).
func (lc *LevelCache) Invalidate(level int) { lc.entries[level] = lcEntry{} }

// InvalidateAll resets every level, used when the tree's generation
// advances (a new root was installed).
func (lc *LevelCache) InvalidateAll() {
	for i := range lc.entries {
		lc.entries[i] = lcEntry{}
	}
}
