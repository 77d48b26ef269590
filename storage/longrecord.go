package storage

import "encoding/binary"

// LongRecordDescriptor is the fixed-size pointer a leaf slot stores in
// place of an inline value once the value's encoded size exceeds the
// per-page inline limit.
type LongRecordDescriptor struct {
	Size uint64
	Head uint64
}

const LongRecordDescriptorSize = 16

func (d LongRecordDescriptor) Encode() []byte {
	buf := make([]byte, LongRecordDescriptorSize)
	binary.LittleEndian.PutUint64(buf[0:8], d.Size)
	binary.LittleEndian.PutUint64(buf[8:16], d.Head)
	return buf
}

func DecodeLongRecordDescriptor(buf []byte) LongRecordDescriptor {
	return LongRecordDescriptor{
		Size: binary.LittleEndian.Uint64(buf[0:8]),
		Head: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// chain page payload begins right after the header; each page but the
// last is entirely full, linked by the standard Right() pointer.
func (v *Volume) chainPayloadCap() int { return v.PageSize - HeaderSize }

// WriteLongRecord allocates a fresh chain of long-record pages holding
// data and returns a descriptor for it. It runs outside of any page
// claim.
func (v *Volume) WriteLongRecord(data []byte) LongRecordDescriptor {
	cap := v.chainPayloadCap()
	n := (len(data) + cap - 1) / cap
	if n == 0 {
		n = 1
	}
	pages := make([]uint64, n)
	for i := n - 1; i >= 0; i-- {
		ptr, p := v.AllocPage()
		p.SetHeader(PageTypeLongRecord, 0, 0)
		lo := i * cap
		hi := lo + cap
		if hi > len(data) {
			hi = len(data)
		}
		copy(p.Data[HeaderSize:], data[lo:hi])
		if i+1 < n {
			p.SetRight(pages[i+1])
		} else {
			p.SetRight(0)
		}
		pages[i] = ptr
	}
	return LongRecordDescriptor{Size: uint64(len(data)), Head: pages[0]}
}

// ReadLongRecord walks the chain from head, reassembling the original
// bytes. maxBytes truncates the read; maxBytes <= 0 means read
// everything.
func (v *Volume) ReadLongRecord(d LongRecordDescriptor, maxBytes int) []byte {
	want := int(d.Size)
	if maxBytes > 0 && maxBytes < want {
		want = maxBytes
	}
	out := make([]byte, 0, want)
	cap := v.chainPayloadCap()
	ptr := d.Head
	for len(out) < want && ptr != 0 {
		p := v.pageGetRaw(ptr)
		n := cap
		if len(out)+n > want {
			n = want - len(out)
		}
		out = append(out, p.Data[HeaderSize:HeaderSize+n]...)
		ptr = p.Right()
	}
	return out
}

// DeallocateLongRecord reclaims every page in the chain, tagged with
// the caller's reclamation timestamp.
func (v *Volume) DeallocateLongRecord(d LongRecordDescriptor, ver uint64) {
	v.DeallocateGarbageChain(d.Head, ver)
}
