package tree

import (
	"blinkkv/keycodec"
	"blinkkv/storage"
	"blinkkv/txnindex"
)

// minFillBytes is the underfull threshold a leaf or index page is
// measured against after a raw (non-MVCC) delete, below which Remove
// attempts a right-ward join. Pages only carry a right-sibling pointer,
// so only a right-ward join is attempted; a page whose left neighbor
// has room stays underfull until that neighbor itself deletes into it.
func (t *Tree) minFillBytes() int { return t.Vol.PageSize / 4 }

// spliceOut returns entries with the one at idx removed.
func spliceOut(entries []storage.Entry, idx int) []storage.Entry {
	out := make([]storage.Entry, 0, len(entries)-1)
	out = append(out, entries[:idx]...)
	out = append(out, entries[idx+1:]...)
	return out
}

// removeIndexEntry deletes the single separator entry matching key at
// level, the index-side cleanup after a leaf coalesce. A miss
// is not an error: the caller may be cleaning up after a root-level
// coalesce where no parent level exists.
func (t *Tree) removeIndexEntry(level int, key []byte, lc *LevelCache) error {
	_, depth, _ := t.RootSnapshot()
	if level > depth {
		return nil
	}
	claim, found, err := t.FindAtLevel(level, key, true, lc)
	if err != nil {
		return err
	}
	if !found.Exact {
		t.Pool.Release(claim, false)
		return nil
	}
	next := spliceOut(claim.Page.Entries(), int(found.At))
	storage.Rebuild(claim.Page, claim.Page.Type(), claim.Page.Level(), next)
	claim.Page.BumpGeneration()
	t.Pool.Release(claim, false)
	lc.Invalidate(level)
	return nil
}

// replaceIndexKey rewrites the separator entry matching oldKey at level
// to newKey, keeping its pointer, so the parent separator tracks a
// rebalanced child's new first key.
func (t *Tree) replaceIndexKey(level int, oldKey, newKey []byte, lc *LevelCache) error {
	_, depth, _ := t.RootSnapshot()
	if level > depth {
		return nil
	}
	claim, found, err := t.FindAtLevel(level, oldKey, true, lc)
	if err != nil {
		return err
	}
	if !found.Exact {
		t.Pool.Release(claim, false)
		return nil
	}
	entries := append([]storage.Entry(nil), claim.Page.Entries()...)
	entries[found.At].Key = append([]byte(nil), newKey...)
	storage.Rebuild(claim.Page, claim.Page.Type(), claim.Page.Level(), entries)
	claim.Page.BumpGeneration()
	t.Pool.Release(claim, false)
	lc.Invalidate(level)
	return nil
}

// joinRight attempts to coalesce or rebalance addr (at level) with its
// right sibling once addr looks underfull. Best-effort: it
// never blocks Remove's success on failing to tidy up, and it only acts
// one level at a time — a resulting underfull index page is left for a
// later delete in that neighborhood rather than cascaded immediately.
func (t *Tree) joinRight(addr uint64, level int, lc *LevelCache) {
	claim, ok := t.Pool.Get(addr, true, true)
	if !ok {
		return
	}
	if requiredSize(claim.Page.Entries()) >= t.minFillBytes() {
		t.Pool.Release(claim, false)
		return
	}
	rightAddr := claim.Page.Right()
	if rightAddr == 0 {
		t.Pool.Release(claim, false)
		return
	}
	right, ok := t.Pool.Get(rightAddr, true, true)
	if !ok {
		t.Pool.Release(claim, false)
		return
	}
	sepKey := append([]byte(nil), right.Page.Key(0)...)
	leftEntries := claim.Page.Entries()
	rightEntries := right.Page.Entries()
	combined := make([]storage.Entry, 0, len(leftEntries)+len(rightEntries))
	combined = append(combined, leftEntries...)
	combined = append(combined, rightEntries...)

	if requiredSize(combined) <= t.Vol.PageSize {
		rightOfRight := right.Page.Right()
		storage.Rebuild(claim.Page, claim.Page.Type(), claim.Page.Level(), combined)
		claim.Page.SetRight(rightOfRight)
		claim.Page.BumpGeneration()
		// Sever the coalesced page from the live chain before freeing it:
		// the deallocation walk follows right pointers, and this page's
		// still points at a live sibling. Both writer claims are held, so
		// no reader can be positioned on it.
		right.Page.SetRight(0)
		right.Page.SetHeader(storage.PageTypeFree, 0, 0)
		t.Pool.Release(right, false)
		t.Vol.DeallocateGarbageChainAsync(rightAddr, t.reclaimVersion())
		t.Pool.Release(claim, false)
		t.Vol.Stats.Joins.Add(1)
		lc.InvalidateAll()
		_ = t.removeIndexEntry(level+1, sepKey, lc)
		return
	}

	leftN := t.currentJoinPolicy().rebalanceSplit(len(combined))
	if leftN <= 0 {
		leftN = 1
	}
	if leftN >= len(combined) {
		leftN = len(combined) - 1
	}
	newLeft, newRight := combined[:leftN], combined[leftN:]
	storage.Rebuild(claim.Page, claim.Page.Type(), claim.Page.Level(), newLeft)
	claim.Page.SetRight(rightAddr)
	claim.Page.BumpGeneration()
	newSep := append([]byte(nil), newRight[0].Key...)
	storage.Rebuild(right.Page, right.Page.Type(), right.Page.Level(), newRight)
	right.Page.BumpGeneration()
	t.Pool.Release(right, false)
	t.Pool.Release(claim, false)
	t.Vol.Stats.Rebalances.Add(1)
	lc.InvalidateAll()
	_ = t.replaceIndexKey(level+1, sepKey, newSep, lc)
}

// Remove deletes one exact key: with FlagMVCC it appends a tombstone
// version exactly like Store appends a value version
// (including its own split-propagation loop, since a grown MVV
// container can overflow the page just like a stored value can);
// without it, the entry is spliced out of the leaf outright and a
// right-ward join is attempted if the page is left underfull.
func (t *Tree) Remove(key []byte, txn *txnindex.Transaction, flags StoreFlags, lc *LevelCache) (existed bool, err error) {
	if t.Vol.ReadOnly {
		return false, ErrReadOnly
	}
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	if t.mode == ModeRaw {
		flags &^= FlagMVCC
	}
	if flags&FlagMVCC != 0 && txn == nil {
		return false, ErrRollback
	}

	if flags&FlagMVCC == 0 {
		return t.removeRaw(key, lc)
	}

	level := 0
	pendingKey := key
	var pendingPtr uint64
	var pendingVal []byte
	firstLevel := true

	for attempt := 0; attempt < maxStoreRetries; attempt++ {
		_, depth, _ := t.RootSnapshot()
		if level > depth {
			wClaim := t.Handle.ClaimWriter()
			oldRoot, curDepth, _ := t.RootSnapshot()
			if curDepth >= level {
				t.Handle.Release(wClaim)
				continue
			}
			newRootAddr, newRootPage := t.Vol.AllocPage()
			entries := []storage.Entry{
				{Key: nil, Ptr: oldRoot},
				{Key: pendingKey, Ptr: pendingPtr},
			}
			storage.Rebuild(newRootPage, storage.IndexPageType(level), uint8(level), entries)
			t.growRoot(newRootAddr, level)
			t.Handle.Release(wClaim)
			lc.InvalidateAll()
			return existed, nil
		}

		var claim storage.PageClaim
		var found FoundAt
		if firstLevel {
			claim, found, err = t.FindLeaf(key, true, lc)
		} else {
			claim, found, err = t.FindAtLevel(level, pendingKey, true, lc)
		}
		if err == ErrRetry {
			continue
		}
		if err != nil {
			return false, err
		}

		var slotVal []byte
		if firstLevel {
			if !found.Exact {
				t.Pool.Release(claim, false)
				return false, ErrNoEffect
			}
			existingRaw := claim.Page.Value(found.At)
			priorFetch, _ := t.decodeVisible(existingRaw, txn, -1)
			if !priorFetch.Found {
				t.Pool.Release(claim, false)
				return false, ErrNoEffect
			}
			existed = true
			slotVal, err = t.storeAntiValue(existingRaw, txn)
			if err == ErrWWTimedOut {
				t.Pool.Release(claim, false)
				continue
			}
			if err != nil {
				t.Pool.Release(claim, false)
				return existed, err
			}
			pendingVal = slotVal
		} else {
			slotVal = pendingVal
		}

		fits := putLevel(claim.Page, pendingKey, slotVal, pendingPtr, found, t.Vol.PageSize)
		if fits {
			claim.Page.BumpGeneration()
			lc.Set(level, claim.Addr, found, claim.Page.Generation(), t.liveGeneration())
			if flags&FlagDontJournal == 0 {
				_ = t.Journal.LogPageWrite(claim.Addr, claim.Page.Generation(), append([]byte(nil), claim.Page.Data...))
			}
			t.Pool.Release(claim, false)
			t.Vol.Stats.Removes.Add(1)
			t.bumpChangeCounter()
			return existed, nil
		}

		newAddr, newPage := t.Vol.AllocPage()
		promoted := t.splitPage(claim.Page, newAddr, newPage)
		claim.Page.BumpGeneration()
		newPage.BumpGeneration()

		target := claim
		if cmp(pendingKey, promoted) >= 0 {
			t.Pool.Release(claim, false)
			rc, ok := t.Pool.Get(newAddr, true, true)
			if !ok {
				return existed, ErrRetry
			}
			target = rc
		}
		at, exact := target.Page.Search(pendingKey, cmp)
		if !putLevel(target.Page, pendingKey, slotVal, pendingPtr, FoundAt{At: at, Exact: exact}, t.Vol.PageSize) {
			t.Pool.Release(target, false)
			return existed, ErrKeyTooLong
		}
		target.Page.BumpGeneration()
		t.Pool.Release(target, false)
		t.Vol.Stats.Splits.Add(1)
		lc.InvalidateAll()

		pendingKey = promoted
		pendingPtr = newAddr
		pendingVal = nil // index entries carry only the child pointer
		level++
		firstLevel = false
		continue
	}
	return existed, ErrRetry
}

// removeRaw is the non-MVCC quick path: splice the entry out outright
// and attempt a best-effort right join.
func (t *Tree) removeRaw(key []byte, lc *LevelCache) (existed bool, err error) {
	claim, found, err := t.FindLeaf(key, true, lc)
	if err != nil {
		return false, err
	}
	if !found.Exact {
		t.Pool.Release(claim, false)
		return false, ErrNoEffect
	}
	raw := claim.Page.Value(found.At)
	if tag, payload := DecodeSlot(raw); tag == TagLongRecord || tag == TagLongMVV {
		desc := storage.DecodeLongRecordDescriptor(payload)
		t.Vol.DeallocateLongRecord(desc, t.reclaimVersion())
	}
	addr := claim.Addr
	next := spliceOut(claim.Page.Entries(), int(found.At))
	storage.Rebuild(claim.Page, claim.Page.Type(), claim.Page.Level(), next)
	claim.Page.BumpGeneration()
	t.Pool.Release(claim, false)
	t.Vol.Stats.Removes.Add(1)
	t.bumpChangeCounter()
	lc.Invalidate(0)
	t.joinRight(addr, 0, lc)
	return true, nil
}

// RemoveRange deletes every visible key in [lo, hi); an empty lo means
// the left edge, an empty hi the right edge. Keys are removed one at a
// time, each located by Traverse — re-descending per key rather than
// walking a shared dual-edge frontier, so each step holds at most one
// leaf claim and the join/rebalance machinery stays confined to
// joinRight.
func (t *Tree) RemoveRange(lo, hi []byte, txn *txnindex.Transaction, flags StoreFlags, lc *LevelCache) (removed int, err error) {
	if t.Vol.ReadOnly {
		return 0, ErrReadOnly
	}
	cursor := lo
	for i := 0; i < maxTraverseSkips; i++ {
		res, ok, terr := t.Traverse(cursor, GTEQ, true, -1, 0, 0, txn, nil, lc)
		if terr != nil {
			return removed, terr
		}
		if !ok {
			return removed, nil
		}
		if len(hi) > 0 && cmp(res.Key, hi) >= 0 {
			return removed, nil
		}
		if _, rerr := t.Remove(res.Key, txn, flags, lc); rerr != nil && rerr != ErrNoEffect {
			return removed, rerr
		} else if rerr == nil {
			removed++
		}
		cursor = keycodec.Nudge(res.Key, keycodec.Right)
	}
	return removed, nil
}

// RemoveAll clears every key currently in the tree, leaving the tree
// itself open and usable.
func (t *Tree) RemoveAll(txn *txnindex.Transaction, flags StoreFlags, lc *LevelCache) (removed int, err error) {
	return t.RemoveRange(nil, nil, txn, flags, lc)
}
