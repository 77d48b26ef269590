package tree

import (
	"blinkkv/storage"
	"blinkkv/txnindex"
)

// FetchResult is the decoded outcome of resolving a leaf slot to the
// bytes visible to one reader.
type FetchResult struct {
	Found     bool
	Value     []byte
	LongChain uint64 // head of a long-record chain this slot pointed to, nonzero when applicable
}

// readerSnapshot picks the (timestamp, step) a fetch is evaluated
// against: a transaction's own start timestamp and current step when one
// is bound, so it sees its own writes, or the clock's most recent
// timestamp with no in-flight step otherwise (an autocommit read).
func (t *Tree) readerSnapshot(txn *txnindex.Transaction) (ts uint64, step uint16) {
	if txn != nil {
		return txn.StartTS, txn.CurrentStep()
	}
	return t.Clock.Current(), 0
}

// truncate clamps a fetched value to maxBytes. The clamp applies
// uniformly to any value, not just long records, since traverse uses
// the same rule.
func truncate(v []byte, maxBytes int) []byte {
	if maxBytes > 0 && maxBytes < len(v) {
		return v[:maxBytes]
	}
	return v
}

// decodeVisible resolves a raw leaf slot to the bytes visible to a
// given reader snapshot, across every slot state: primordial value,
// MVV container, long-record pointer, tombstone.
func (t *Tree) decodeVisible(raw []byte, txn *txnindex.Transaction, maxBytes int) (FetchResult, error) {
	tag, payload := DecodeSlot(raw)
	switch tag {
	case TagPrimordial:
		if len(payload) == 0 && len(raw) == 0 {
			return FetchResult{}, nil
		}
		return FetchResult{Found: true, Value: truncate(payload, maxBytes)}, nil
	case TagLongRecord:
		desc := storage.DecodeLongRecordDescriptor(payload)
		return FetchResult{Found: true, Value: t.Vol.ReadLongRecord(desc, maxBytes), LongChain: desc.Head}, nil
	case TagAnti:
		return FetchResult{}, nil
	case TagMVV, TagLongMVV:
		mvvBytes := payload
		var longHead uint64
		if tag == TagLongMVV {
			desc := storage.DecodeLongRecordDescriptor(payload)
			mvvBytes = t.Vol.ReadLongRecord(desc, -1)
			longHead = desc.Head
		}
		versions := DecodeMVV(mvvBytes)
		readerTS, readerStep := t.readerSnapshot(txn)
		v, ok := VisitFetch(versions, t.TxIndex, readerTS, readerStep)
		if !ok || v.Anti {
			return FetchResult{LongChain: longHead}, nil
		}
		return FetchResult{Found: true, Value: truncate(v.Value, maxBytes), LongChain: longHead}, nil
	default:
		return FetchResult{}, nil
	}
}

// Fetch locates key and resolves whichever leaf-slot state it
// currently holds to the bytes visible to txn (nil means an autocommit
// read).
func (t *Tree) Fetch(key []byte, txn *txnindex.Transaction, maxBytes int, lc *LevelCache) (FetchResult, error) {
	if len(key) == 0 {
		return FetchResult{}, ErrEmptyKey
	}
	claim, found, err := t.FindLeaf(key, false, lc)
	if err != nil {
		return FetchResult{}, err
	}
	defer t.Pool.Release(claim, false)
	t.Vol.Stats.Fetches.Add(1)
	if !found.Exact {
		return FetchResult{}, nil
	}
	return t.decodeVisible(claim.Page.Value(found.At), txn, maxBytes)
}
