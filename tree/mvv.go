package tree

import (
	"encoding/binary"
	"time"

	"blinkkv/txnindex"
)

// ValueTag identifies which leaf-slot state a value's first byte
// encodes.
type ValueTag byte

const (
	TagPrimordial ValueTag = iota
	TagMVV
	TagLongRecord
	TagLongMVV
	TagAnti
)

// DecodeSlot splits a leaf value into its tag and payload. An empty
// slot decodes as TagPrimordial with a nil payload.
func DecodeSlot(raw []byte) (ValueTag, []byte) {
	if len(raw) == 0 {
		return TagPrimordial, nil
	}
	return ValueTag(raw[0]), raw[1:]
}

// EncodeSlot joins a tag and payload back into a leaf value.
func EncodeSlot(tag ValueTag, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(tag)
	copy(out[1:], payload)
	return out
}

// MVVVersion is one entry of an MVV container: a (version-handle,
// tombstone bit, payload) triple.
type MVVVersion struct {
	VH    txnindex.VersionHandle
	Anti  bool
	Value []byte
}

// EncodeMVV serializes an ordered version list. The order is the MVV
// invariant itself: it must already be consistent with commit order
// when this is called.
func EncodeMVV(versions []MVVVersion) []byte {
	size := 4
	for _, v := range versions {
		size += 8 + 1 + 4 + len(v.Value)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(versions)))
	pos := 4
	for _, v := range versions {
		binary.LittleEndian.PutUint64(buf[pos:], uint64(v.VH))
		pos += 8
		if v.Anti {
			buf[pos] = 1
		}
		pos++
		binary.LittleEndian.PutUint32(buf[pos:], uint32(len(v.Value)))
		pos += 4
		copy(buf[pos:], v.Value)
		pos += len(v.Value)
	}
	return buf
}

// DecodeMVV parses an encoded container back into its version list.
func DecodeMVV(buf []byte) []MVVVersion {
	if len(buf) < 4 {
		return nil
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	out := make([]MVVVersion, 0, n)
	pos := 4
	for i := uint32(0); i < n; i++ {
		vh := txnindex.VersionHandle(binary.LittleEndian.Uint64(buf[pos:]))
		pos += 8
		anti := buf[pos] != 0
		pos++
		l := binary.LittleEndian.Uint32(buf[pos:])
		pos += 4
		val := append([]byte(nil), buf[pos:pos+int(l)]...)
		pos += int(l)
		out = append(out, MVVVersion{VH: vh, Anti: anti, Value: val})
	}
	return out
}

// VisitFetch picks the greatest version visible to a reader at
// (readerTS, readerStep), tiebroken by step. ok is false if no version
// is visible at all.
func VisitFetch(versions []MVVVersion, txIndex *txnindex.TransactionIndex, readerTS uint64, readerStep uint16) (MVVVersion, bool) {
	var best MVVVersion
	var bestCommit uint64
	found := false
	for _, v := range versions {
		commitTS, visible := txIndex.CommitStatus(v.VH, readerTS, readerStep)
		if !visible {
			continue
		}
		if !found || commitTS > bestCommit || (commitTS == bestCommit && v.VH.Step() > best.VH.Step()) {
			best, bestCommit, found = v, commitTS, true
		}
	}
	return best, found
}

// VisitStore asks the TransactionIndex, for each existing version, for
// its ww-dependency relative to the writer. Returns the greatest
// version handle seen (for the out-of-order check), ErrWWTimedOut when
// a wait exceeded its budget, or ErrRollback when a conflicting writer
// already committed.
func VisitStore(versions []MVVVersion, txIndex *txnindex.TransactionIndex, writer *txnindex.Transaction, maxWait time.Duration) (txnindex.VersionHandle, error) {
	var max txnindex.VersionHandle
	for _, v := range versions {
		if v.VH.Timestamp() == writer.StartTS {
			if v.VH > max {
				max = v.VH
			}
			continue
		}
		switch res := txIndex.WWDependency(v.VH, writer, maxWait); res {
		case txnindex.WWNone, txnindex.WWAborted:
			// no dependency, or the writer we'd depend on rolled back
		case txnindex.WWTimedOut:
			return max, ErrWWTimedOut
		default:
			return max, ErrRollback
		}
		if v.VH > max {
			max = v.VH
		}
	}
	return max, nil
}

// Prune drops versions that are both committed and shadowed by a later
// committed version whose commit
// timestamp is at or before minActiveReaderTS. It always keeps the most
// recent version regardless of commit status, since some reader or the
// owning writer may still need it. Returns the surviving versions plus
// the ones it dropped (for long-record chain reclamation upstream).
func Prune(versions []MVVVersion, txIndex *txnindex.TransactionIndex, minActiveReaderTS uint64) (kept, dropped []MVVVersion) {
	n := len(versions)
	keep := make([]bool, n)
	shadowed := false
	for i := n - 1; i >= 0; i-- {
		commitTS, committed := txIndex.CommittedAt(versions[i].VH)
		if !committed {
			keep[i] = true
			continue
		}
		if shadowed && commitTS <= minActiveReaderTS {
			keep[i] = false
			continue
		}
		keep[i] = true
		if commitTS <= minActiveReaderTS {
			shadowed = true
		}
	}
	for i, v := range versions {
		if keep[i] {
			kept = append(kept, v)
		} else {
			dropped = append(dropped, v)
		}
	}
	return kept, dropped
}

// CollapseIfSingle reports whether an MVV can fold back to a plain
// value: ok is true once pruning leaves exactly one version, tombstone
// or not, and anti reports whether that version is a tombstone.
func CollapseIfSingle(kept []MVVVersion) (value []byte, anti bool, ok bool) {
	if len(kept) != 1 {
		return nil, false, false
	}
	return kept[0].Value, kept[0].Anti, true
}

// maxVersionHandle returns the greatest handle across versions, or zero
// if versions is empty.
func maxVersionHandle(versions []MVVVersion) txnindex.VersionHandle {
	var max txnindex.VersionHandle
	for _, v := range versions {
		if v.VH > max {
			max = v.VH
		}
	}
	return max
}
