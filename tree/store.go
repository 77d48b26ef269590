package tree

import (
	"time"

	"blinkkv/storage"
	"blinkkv/txnindex"
)

// StoreFlags selects optional store behavior: write through MVCC, block
// on conflicting writers, require the key to be visible first, or skip
// journaling. FlagFetch is accepted but Store does not act on it; Store
// reports only whether a prior value existed, and FetchAndStore is the
// operation that returns the prior value.
type StoreFlags uint8

const (
	FlagFetch StoreFlags = 1 << iota
	FlagMVCC
	FlagWait
	FlagOnlyIfVisible
	FlagDontJournal
)

// defaultWWWait bounds a write-write dependency wait when the caller
// doesn't override it.
const defaultWWWait = 2 * time.Second

// maxVersionsOutOfOrderRetries bounds the benign race where pruning
// changes an MVV between the visitor pass and the write.
const maxVersionsOutOfOrderRetries = 3

// maxStoreRetries bounds the outer store_internal retry loop against page
// claim contention and write-write waits so a pathological case surfaces
// an error instead of spinning forever.
const maxStoreRetries = 64

func (t *Tree) maxKeySize() int { return t.Vol.PageSize / 4 }

// insertPos resolves a found-at position into an unambiguous insertion
// index. Page.Search's (at, exact) pair alone cannot distinguish "insert
// before every entry" from "insert right after entry 0"; both present as
// (at:0, exact:false). Re-comparing against the page's own first key
// (when one exists) disambiguates without changing Page.Search's
// contract, which callers that only need at-or-before descent rely on.
func insertPos(page storage.Page, key []byte, found FoundAt) int {
	n := int(page.NKeys())
	if found.Exact {
		return int(found.At)
	}
	if n == 0 {
		return 0
	}
	if found.At == 0 && cmp(key, page.Key(0)) < 0 {
		return 0
	}
	return int(found.At) + 1
}

// requiredSize computes the on-page byte footprint of a slot list, per
// the header layout documented in storage/page.go.
func requiredSize(entries []storage.Entry) int {
	size := storage.HeaderSize + 10*len(entries)
	for _, e := range entries {
		size += 4 + len(e.Key) + len(e.Val)
	}
	return size
}

// putLevel installs (key, val, ptr) into page at the resolved
// insertion position and reports whether
// the result fits, leaving the page rebuilt in place on success.
func putLevel(page storage.Page, key, val []byte, ptr uint64, found FoundAt, pageSize int) (fit bool) {
	entries := page.Entries()
	pos := insertPos(page, key, found)
	next := make([]storage.Entry, 0, len(entries)+1)
	next = append(next, entries[:pos]...)
	if found.Exact {
		next = append(next, storage.Entry{Key: key, Val: val, Ptr: ptr})
		next = append(next, entries[pos+1:]...)
	} else {
		next = append(next, storage.Entry{Key: key, Val: val, Ptr: ptr})
		next = append(next, entries[pos:]...)
	}
	if requiredSize(next) > pageSize {
		return false
	}
	storage.Rebuild(page, page.Type(), page.Level(), next)
	return true
}

// encodeRawSlot wraps a non-MVCC value in its leaf-slot tag, offloading
// to a long-record chain first when it won't fit inline. It runs
// outside of any page claim.
func (t *Tree) encodeRawSlot(value []byte) []byte {
	if len(value)+1 > t.maxInline {
		desc := t.Vol.WriteLongRecord(value)
		return EncodeSlot(TagLongRecord, desc.Encode())
	}
	return EncodeSlot(TagPrimordial, value)
}

// mvvPrepare resolves the current slot into its version list, pruning
// obsolete versions and checking write-write dependencies.
func (t *Tree) mvvPrepare(raw []byte, txn *txnindex.Transaction, wait time.Duration) (versions []MVVVersion, oldLongHead uint64, err error) {
	tag, payload := DecodeSlot(raw)
	switch tag {
	case TagMVV:
		versions = DecodeMVV(payload)
	case TagLongMVV:
		desc := storage.DecodeLongRecordDescriptor(payload)
		versions = DecodeMVV(t.Vol.ReadLongRecord(desc, -1))
		oldLongHead = desc.Head
	case TagPrimordial:
		if len(raw) > 0 {
			// A bare primordial value predates any MVCC write to this
			// key; treat it as a single already-committed version so it
			// still participates in visibility/ww-dependency checks. An
			// empty raw slice means there was no prior entry at all.
			versions = []MVVVersion{{VH: 0, Value: payload}}
		}
	case TagLongRecord:
		desc := storage.DecodeLongRecordDescriptor(payload)
		versions = []MVVVersion{{VH: 0, Value: t.Vol.ReadLongRecord(desc, -1)}}
		oldLongHead = desc.Head
	case TagAnti:
		versions = []MVVVersion{{VH: 0, Anti: true}}
	}

	// Pruned versions carry no chain of their own in this encoding — a
	// long payload is always a whole-container concern (TagLongMVV), so
	// there is nothing per-version to reclaim here.
	kept, _ := Prune(versions, t.TxIndex, t.TxIndex.MinActiveReaderTS())
	if _, err := VisitStore(kept, t.TxIndex, txn, wait); err != nil {
		return nil, oldLongHead, err
	}
	return kept, oldLongHead, nil
}

// storeLeafValue builds the final leaf-slot bytes for one store attempt:
// either the precomputed raw slot (non-MVCC), or a freshly pruned +
// appended MVV container (MVCC), converting to a long-MVV pointer if the
// container itself now exceeds the inline limit.
func (t *Tree) storeLeafValue(existingRaw []byte, value []byte, txn *txnindex.Transaction, flags StoreFlags) (slot []byte, existed, noEffect bool, err error) {
	if flags&FlagMVCC == 0 {
		priorFetch, _ := t.decodeVisible(existingRaw, txn, -1)
		if priorFetch.LongChain != 0 {
			// The superseded slot pointed at a long-record chain nothing
			// will reference once this store lands.
			t.Vol.DeallocateLongRecord(storage.LongRecordDescriptor{Head: priorFetch.LongChain}, t.reclaimVersion())
		}
		return t.encodeRawSlot(value), priorFetch.Found, false, nil
	}

	wait := defaultWWWait
	if flags&FlagWait == 0 {
		wait = 0
	}
	// Visibility for the ONLY_IF_VISIBLE check and the returned `existed`
	// flag is resolved through the normal fetch path (decodeVisible),
	// not through the pruned/wrapped version list mvvPrepare builds for
	// writing: a value written before this key ever saw MVCC has no
	// owning transaction, so VisitFetch's TransactionIndex lookup would
	// report it invisible even though a plain reader would see it.
	priorFetch, _ := t.decodeVisible(existingRaw, txn, -1)
	existed = priorFetch.Found

	var kept []MVVVersion
	var oldLongHead uint64
	for attempt := 0; ; attempt++ {
		kept, oldLongHead, err = t.mvvPrepare(existingRaw, txn, wait)
		if err != nil {
			return nil, false, false, err
		}
		if flags&FlagOnlyIfVisible != 0 && !existed {
			return nil, existed, true, nil
		}
		vh := txn.NextVersionHandle()
		if vh <= maxVersionHandle(kept) {
			if attempt < maxVersionsOutOfOrderRetries {
				continue
			}
			return nil, false, false, ErrVersionsOutOfOrder
		}
		kept = append(kept, MVVVersion{VH: vh, Value: value})
		break
	}
	if oldLongHead != 0 {
		t.Vol.DeallocateLongRecord(storage.LongRecordDescriptor{Head: oldLongHead}, t.reclaimVersion())
	}
	encoded := EncodeMVV(kept)
	// Collapsing back to a bare value is only safe for a version with no
	// owning transaction; a freshly appended uncommitted version must
	// stay wrapped so other readers keep skipping it.
	if single, anti, ok := CollapseIfSingle(kept); ok && !anti && kept[0].VH == 0 {
		return EncodeSlot(TagPrimordial, single), existed, false, nil
	}
	if len(encoded)+1 <= t.maxInline {
		return EncodeSlot(TagMVV, encoded), existed, false, nil
	}
	desc := t.Vol.WriteLongRecord(encoded)
	return EncodeSlot(TagLongMVV, desc.Encode()), existed, false, nil
}

// storeAntiValue builds a tombstone slot appended as a fresh MVV
// version, used by the transactional delete path.
func (t *Tree) storeAntiValue(existingRaw []byte, txn *txnindex.Transaction) (slot []byte, err error) {
	kept, oldLongHead, err := t.mvvPrepare(existingRaw, txn, 0)
	if err != nil {
		return nil, err
	}
	vh := txn.NextVersionHandle()
	kept = append(kept, MVVVersion{VH: vh, Anti: true})
	if oldLongHead != 0 {
		t.Vol.DeallocateLongRecord(storage.LongRecordDescriptor{Head: oldLongHead}, t.reclaimVersion())
	}
	encoded := EncodeMVV(kept)
	if len(encoded)+1 <= t.maxInline {
		return EncodeSlot(TagMVV, encoded), nil
	}
	desc := t.Vol.WriteLongRecord(encoded)
	return EncodeSlot(TagLongMVV, desc.Encode()), nil
}

// splitPage divides page's entries per policy, installing the low half in
// place and returning the high half plus the promoted key (the new
// sibling's first key).
func (t *Tree) splitPage(page storage.Page, newAddr uint64, newPage storage.Page) (promotedKey []byte) {
	entries := page.Entries()
	leftN := t.currentSplitPolicy().splitAt(len(entries))
	if leftN <= 0 {
		leftN = 1
	}
	if leftN >= len(entries) {
		leftN = len(entries) - 1
	}
	left, right := entries[:leftN], entries[leftN:]

	oldRight := page.Right()
	storage.Rebuild(newPage, page.Type(), page.Level(), right)
	newPage.SetRight(oldRight)

	storage.Rebuild(page, page.Type(), page.Level(), left)
	page.SetRight(newAddr)

	return append([]byte(nil), right[0].Key...)
}

// Store is the leaf-upward insert/replace loop: split propagation,
// root growth, long-record offload, and (with
// FlagMVCC) MVCC version append with write-write retry. lc is the
// caller's LevelCache, reused across calls on the same handle.
func (t *Tree) Store(key, value []byte, txn *txnindex.Transaction, flags StoreFlags, lc *LevelCache) (existed bool, err error) {
	if t.Vol.ReadOnly {
		return false, ErrReadOnly
	}
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	if len(key) > t.maxKeySize() {
		return false, ErrKeyTooLong
	}
	if t.mode == ModeRaw {
		// Raw-mode trees (the directory tree, temporary volumes) bypass
		// version bookkeeping no matter what the caller asked for.
		flags &^= FlagMVCC
	}
	if flags&FlagMVCC != 0 && txn == nil {
		return false, ErrRollback
	}

	level := 0
	pendingKey := key
	var pendingPtr uint64
	var pendingVal []byte
	firstLevel := true

	for attempt := 0; attempt < maxStoreRetries; attempt++ {
		_, depth, _ := t.RootSnapshot()
		if level > depth {
			// New root: promote pendingKey/pendingPtr above the old root
			// under an exclusive tree-handle claim.
			wClaim := t.Handle.ClaimWriter()
			oldRoot, curDepth, _ := t.RootSnapshot()
			if curDepth >= level {
				// Another store already grew the root while we waited
				// for the writer claim; retry from the current state.
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
			existingRaw := []byte(nil)
			if found.Exact {
				existingRaw = claim.Page.Value(found.At)
			}
			var noEffect bool
			slotVal, existed, noEffect, err = t.storeLeafValue(existingRaw, value, txn, flags)
			if err == ErrWWTimedOut {
				t.Pool.Release(claim, false)
				continue
			}
			if err != nil {
				t.Pool.Release(claim, false)
				return existed, err
			}
			if noEffect {
				t.Pool.Release(claim, false)
				return existed, ErrNoEffect
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
			t.Vol.Stats.Stores.Add(1)
			t.bumpChangeCounter()
			return existed, nil
		}

		// needs-split
		newAddr, newPage := t.Vol.AllocPage()
		promoted := t.splitPage(claim.Page, newAddr, newPage)
		// Both halves changed under the split Rebuild, independent of
		// which one ends up receiving the pending insert below.
		claim.Page.BumpGeneration()
		newPage.BumpGeneration()

		// retry the insert that didn't fit, now against whichever half
		// it belongs on.
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
			// Pathological: even a freshly split page can't hold one
			// more entry (value too large relative to page size).
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
