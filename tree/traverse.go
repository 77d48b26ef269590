package tree

import (
	"blinkkv/keycodec"
	"blinkkv/storage"
	"blinkkv/txnindex"
)

// Direction selects how a traverse step relates to its probe key.
type Direction int

const (
	EQ Direction = iota
	GT
	GTEQ
	LT
	LTEQ
)

// Visitor is the optional traverse callback: it is invoked once per
// visible key. Returning true asks the traversal to advance and call
// again; false stops it.
type Visitor func(key, value []byte) bool

// maxTraverseSkips bounds how many MVCC-invisible or non-deep candidates
// a single traverse call will step past before giving up, so a
// pathological run of tombstones can't spin forever.
const maxTraverseSkips = 1 << 20

// componentDepth counts the AppendBytes-encoded components at the
// front of key.
func componentDepth(key []byte) int {
	depth := 0
	for {
		_, rest, ok := keycodec.DecodeBytesComponent(key)
		if !ok {
			return depth
		}
		depth++
		key = rest
	}
}

// truncateToDepth folds key back to its first depth encoded components,
// used when a not-deep traversal lands on a niece/nephew key and must
// report it at sibling depth.
func truncateToDepth(key []byte, depth int) []byte {
	rem := key
	pos := 0
	for i := 0; i < depth; i++ {
		_, rest, ok := keycodec.DecodeBytesComponent(rem)
		if !ok {
			return key
		}
		pos += len(rem) - len(rest)
		rem = rest
	}
	return key[:pos]
}

// seekForward locates the first (page, index) at or strictly after key,
// per inclusive. An empty key means "start of keyspace".
func (t *Tree) seekForward(key []byte, inclusive bool, lc *LevelCache) (storage.PageClaim, uint16, bool, error) {
	if len(key) == 0 {
		return t.edgeLeaf(false, lc)
	}
	claim, found, err := t.FindLeaf(key, false, lc)
	if err != nil {
		return storage.PageClaim{}, 0, false, err
	}
	idx := insertPos(claim.Page, key, found)
	if found.Exact && !inclusive {
		idx++
	}
	for uint16(idx) >= claim.Page.NKeys() {
		right := claim.Page.Right()
		if right == 0 {
			t.Pool.Release(claim, false)
			return storage.PageClaim{}, 0, false, nil
		}
		next, ok := t.Pool.Get(right, false, true)
		t.Pool.Release(claim, false)
		if !ok {
			return storage.PageClaim{}, 0, false, ErrRetry
		}
		claim, idx = next, 0
	}
	return claim, uint16(idx), true, nil
}

// seekBackward locates the last (page, index) at or strictly before key.
// An empty key means "end of keyspace". Since pages only carry a
// right-sibling pointer, stepping left across a page boundary
// re-descends from the root for a nudged boundary key rather than
// following a reverse link.
func (t *Tree) seekBackward(key []byte, inclusive bool, lc *LevelCache) (storage.PageClaim, uint16, bool, error) {
	if len(key) == 0 {
		return t.edgeLeaf(true, lc)
	}
	claim, found, err := t.FindLeaf(key, false, lc)
	if err != nil {
		return storage.PageClaim{}, 0, false, err
	}
	idx := insertPos(claim.Page, key, found)
	if !(found.Exact && inclusive) {
		idx--
	}
	if idx >= 0 {
		return claim, uint16(idx), true, nil
	}
	if claim.Page.NKeys() == 0 {
		t.Pool.Release(claim, false)
		return t.edgeLeaf(true, lc)
	}
	boundary := append([]byte(nil), claim.Page.Key(0)...)
	t.Pool.Release(claim, false)
	probe := keycodec.Nudge(boundary, keycodec.Left)
	if len(probe) == 0 {
		return storage.PageClaim{}, 0, false, nil
	}
	prev, _, err := t.FindLeaf(probe, false, lc)
	if err != nil {
		return storage.PageClaim{}, 0, false, err
	}
	n := prev.Page.NKeys()
	if n == 0 {
		t.Pool.Release(prev, false)
		return storage.PageClaim{}, 0, false, nil
	}
	// When the boundary was the global minimum, the nudged probe lands
	// back on the same page and slot n-1 sits at or after the original
	// key; there is no predecessor to report.
	if cmp(prev.Page.Key(n-1), key) >= 0 {
		t.Pool.Release(prev, false)
		return storage.PageClaim{}, 0, false, nil
	}
	return prev, n - 1, true, nil
}

// edgeLeaf returns the very first (right=false) or very last
// (right=true) leaf of the whole tree, used when the probe key is
// empty.
func (t *Tree) edgeLeaf(rightEdge bool, lc *LevelCache) (storage.PageClaim, uint16, bool, error) {
	addr, depth, _ := t.RootSnapshot()
	var claim storage.PageClaim
	for level := depth; level >= 0; level-- {
		c, ok := t.Pool.Get(addr, false, true)
		if !ok {
			return storage.PageClaim{}, 0, false, ErrRetry
		}
		if level > 0 {
			idx := uint16(0)
			if rightEdge && c.Page.NKeys() > 0 {
				idx = c.Page.NKeys() - 1
			}
			child := c.Page.Ptr(idx)
			t.Pool.Release(c, false)
			if child == 0 {
				return storage.PageClaim{}, 0, false, t.corrupt(level, addr, nil, "empty edge descent")
			}
			addr = child
			continue
		}
		claim = c
	}
	if rightEdge {
		for claim.Page.Right() != 0 {
			next, ok := t.Pool.Get(claim.Page.Right(), false, true)
			if !ok {
				t.Pool.Release(claim, false)
				return storage.PageClaim{}, 0, false, ErrRetry
			}
			t.Pool.Release(claim, false)
			claim = next
		}
	}
	lc.Invalidate(0)
	n := claim.Page.NKeys()
	if n == 0 {
		t.Pool.Release(claim, false)
		return storage.PageClaim{}, 0, false, nil
	}
	idx := uint16(0)
	if rightEdge {
		idx = n - 1
	}
	return claim, idx, true, nil
}

// step advances a forward/backward position by one slot, crossing pages
// exactly like seekForward/seekBackward's boundary handling, but without
// re-deriving from a probe key (used while skipping invisible/filtered
// candidates during one traverse call).
func (t *Tree) step(claim storage.PageClaim, idx uint16, forward bool, lc *LevelCache) (storage.PageClaim, uint16, bool, error) {
	if forward {
		idx++
		for idx >= claim.Page.NKeys() {
			right := claim.Page.Right()
			if right == 0 {
				t.Pool.Release(claim, false)
				return storage.PageClaim{}, 0, false, nil
			}
			next, ok := t.Pool.Get(right, false, true)
			t.Pool.Release(claim, false)
			if !ok {
				return storage.PageClaim{}, 0, false, ErrRetry
			}
			claim, idx = next, 0
		}
		return claim, idx, true, nil
	}
	if idx == 0 {
		if claim.Page.NKeys() == 0 {
			t.Pool.Release(claim, false)
			return storage.PageClaim{}, 0, false, nil
		}
		boundary := append([]byte(nil), claim.Page.Key(0)...)
		t.Pool.Release(claim, false)
		return t.seekBackward(boundary, false, lc)
	}
	return claim, idx - 1, true, nil
}

// TraverseResult is one key/value pair a traverse call surfaces.
type TraverseResult struct {
	Key   []byte
	Value []byte
	Exact bool
}

// Traverse locates the next key from probeKey in dir, applying MVCC
// visibility and the deep/sibling and depth/prefix
// filters, optionally driving an externally supplied Visitor across
// every matching key until it stops or the keyspace is exhausted.
func (t *Tree) Traverse(probeKey []byte, dir Direction, deep bool, minBytes int, minKeyDepth, matchPrefixLen int, txn *txnindex.Transaction, visitor Visitor, lc *LevelCache) (TraverseResult, bool, error) {
	if dir == EQ {
		res, err := t.Fetch(probeKey, txn, minBytes, lc)
		if err != nil || !res.Found {
			return TraverseResult{}, false, err
		}
		return TraverseResult{Key: probeKey, Value: res.Value, Exact: true}, true, nil
	}
	if dir != GT && dir != GTEQ && dir != LT && dir != LTEQ {
		return TraverseResult{}, false, ErrInvalidDirection
	}
	forward := dir == GT || dir == GTEQ
	inclusive := dir == GTEQ || dir == LTEQ

	startDepth := componentDepth(probeKey)
	parentDepth := startDepth
	if parentDepth > 0 {
		parentDepth--
	}

	var claim storage.PageClaim
	var idx uint16
	var ok bool
	var err error
	if forward {
		claim, idx, ok, err = t.seekForward(probeKey, inclusive, lc)
	} else {
		claim, idx, ok, err = t.seekBackward(probeKey, inclusive, lc)
	}
	if err != nil {
		return TraverseResult{}, false, err
	}

	for skips := 0; ok && skips < maxTraverseSkips; skips++ {
		key := append([]byte(nil), claim.Page.Key(idx)...)
		raw := claim.Page.Value(idx)

		if matchPrefixLen > 0 {
			mp := matchPrefixLen
			if mp > len(probeKey) {
				mp = len(probeKey)
			}
			if len(key) < mp || cmp(key[:mp], probeKey[:mp]) != 0 {
				t.Pool.Release(claim, false)
				return TraverseResult{}, false, nil
			}
		}
		candDepth := componentDepth(key)
		if minKeyDepth > 0 && candDepth < minKeyDepth {
			t.Pool.Release(claim, false)
			return TraverseResult{}, false, nil
		}

		skipNotDeep := false
		reportKey := key
		if !deep && candDepth > startDepth && keycodec.CommonPrefixDepth(key, probeKey) >= parentDepth {
			// A descendant of the starting key itself folds back to
			// probeKey, which is already "seen" — skip it outright rather
			// than re-reporting the node we started from. A niece/nephew
			// under some other sibling folds back to a genuinely new
			// sibling-depth key and is reported, but never marked exact.
			reportKey = truncateToDepth(key, startDepth)
			if len(reportKey) == 0 || cmp(reportKey, probeKey) == 0 {
				skipNotDeep = true
			}
		}

		res, derr := t.decodeVisible(raw, txn, minBytes)
		visible := derr == nil && res.Found
		if !skipNotDeep && visible {
			out := TraverseResult{Key: reportKey, Value: res.Value, Exact: cmp(reportKey, key) == 0}
			if visitor == nil {
				t.Pool.Release(claim, false)
				return out, true, nil
			}
			if !visitor(out.Key, out.Value) {
				t.Pool.Release(claim, false)
				return out, true, nil
			}
		}

		claim, idx, ok, err = t.step(claim, idx, forward, lc)
		if err != nil {
			return TraverseResult{}, false, err
		}
	}
	return TraverseResult{}, false, nil
}
