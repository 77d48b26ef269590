package tree

import (
	"bytes"

	"blinkkv/storage"
)

// cmp is the tree's total order: unsigned lexicographic comparison of
// encoded key bytes. keycodec guarantees its output already compares
// this way, so the tree never needs an application-supplied comparator.
func cmp(a, b []byte) int { return bytes.Compare(a, b) }

// maxWalkRightHops bounds the B-link walk-right loop; exceeding it is
// reported as corruption rather than looping forever on a broken chain.
const maxWalkRightHops = 50

func (t *Tree) expectedPageType(level int) uint8 {
	if level == 0 {
		return storage.PageTypeData
	}
	return storage.IndexPageType(level)
}

func (t *Tree) corrupt(level int, addr uint64, key []byte, detail string) *CorruptionError {
	t.Vol.Stats.CorruptionEvents.Add(1)
	return &CorruptionError{Tree: t.Name, Level: level, PageAddr: addr, Key: key, Detail: detail}
}

// searchLevel claims addr, then executes the walk-right loop: while
// the found position is past the right edge and a right sibling exists,
// it claims the sibling before releasing the current page (so a
// concurrent split can never insert a page between the two), and
// retries.
func (t *Tree) searchLevel(level int, addr uint64, key []byte, writer bool) (storage.PageClaim, FoundAt, error) {
	claim, ok := t.Pool.Get(addr, writer, true)
	if !ok {
		return storage.PageClaim{}, FoundAt{}, ErrRetry
	}
	hops := 0
	for {
		if claim.Page.Type() != t.expectedPageType(level) {
			t.Pool.Release(claim, false)
			return storage.PageClaim{}, FoundAt{}, t.corrupt(level, claim.Addr, key, "unexpected page type")
		}
		at, exact := claim.Page.Search(key, cmp)
		n := claim.Page.NKeys()
		pastRightEdge := n > 0 && at == n-1 && !exact && claim.Page.Right() != 0 && cmp(key, claim.Page.Key(at)) > 0
		if !pastRightEdge {
			return claim, FoundAt{At: at, Exact: exact}, nil
		}
		hops++
		if hops > maxWalkRightHops {
			addr := claim.Addr
			t.Pool.Release(claim, false)
			return storage.PageClaim{}, FoundAt{}, t.corrupt(level, addr, key, "walk-right bound exceeded")
		}
		right := claim.Page.Right()
		next, ok := t.Pool.Get(right, writer, true)
		if !ok {
			t.Pool.Release(claim, false)
			return storage.PageClaim{}, FoundAt{}, ErrRetry
		}
		t.Pool.Release(claim, false)
		claim = next
	}
}

// RootSnapshot reads the tree's root address, depth and generation
// under the metadata lock used by TreeHandle claims.
func (t *Tree) RootSnapshot() (addr uint64, depth int, gen uint64) {
	t.meta.Lock()
	defer t.meta.Unlock()
	return t.root, t.depth, t.generation
}

// FindLeaf is the public search operation: a self-contained top-down
// descent that manages its own tree-handle claim and returns
// a claim on the leaf page plus its found-at position.
func (t *Tree) FindLeaf(key []byte, writerIntent bool, lc *LevelCache) (storage.PageClaim, FoundAt, error) {
	return t.FindAtLevel(0, key, writerIntent, lc)
}

// FindAtLevel generalizes FindLeaf to stop the descent at an arbitrary
// level instead of always reaching the leaf. The store path's upward
// split-propagation loop needs this to relocate the index page that
// should receive a promoted key, once LevelCache no longer has a
// trustworthy entry for that level.
func (t *Tree) FindAtLevel(targetLevel int, key []byte, writerIntent bool, lc *LevelCache) (storage.PageClaim, FoundAt, error) {
	if len(key) == 0 {
		return storage.PageClaim{}, FoundAt{}, ErrEmptyKey
	}
	if cached, ok := lc.Peek(targetLevel, t.liveGeneration()); ok {
		// The fast path still pays for one page claim (searchLevel
		// below re-derives the position at the cached address) but
		// skips the tree-handle claim and the top-down root descent;
		// it is only trusted once the live page generation is
		// re-confirmed against what was cached.
		claim, found, err := t.searchLevel(targetLevel, cached.pageAddr, key, writerIntent)
		if err == nil && claim.Page.Generation() == cached.bufferGen {
			lc.Set(targetLevel, claim.Addr, found, claim.Page.Generation(), cached.treeGen)
			return claim, found, nil
		}
		if err == nil {
			t.Pool.Release(claim, false)
		}
		lc.Invalidate(targetLevel)
	}

	hClaim := t.Handle.ClaimReader()
	addr, depth, gen := t.RootSnapshot()
	t.Handle.Release(hClaim)

	var target storage.PageClaim
	var found FoundAt
	for level := depth; level >= targetLevel; level-- {
		writerHere := writerIntent && level == targetLevel
		claim, f, err := t.searchLevel(level, addr, key, writerHere)
		if err != nil {
			return storage.PageClaim{}, FoundAt{}, err
		}
		if level > targetLevel {
			child := claim.Page.Ptr(f.At)
			gotGen := claim.Page.Generation()
			t.Pool.Release(claim, false)
			if child == 0 {
				return storage.PageClaim{}, FoundAt{}, t.corrupt(level, claim.Addr, key, "child pointer out of range")
			}
			lc.Set(level, claim.Addr, f, gotGen, gen)
			addr = child
			continue
		}
		target, found = claim, f
	}
	lc.Set(targetLevel, target.Addr, found, target.Page.Generation(), gen)
	return target, found, nil
}

// liveGeneration reads the tree's current generation without acquiring
// the handle claim, used to sanity-check a LevelCache entry at any
// level before committing to the fast path.
func (t *Tree) liveGeneration() uint64 {
	t.meta.Lock()
	defer t.meta.Unlock()
	return t.generation
}
