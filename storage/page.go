// Package storage implements the volume: the mmap'd paged file, its free
// list of reclaimed pages, long-record chains, and the buffer pool claim
// protocol that the tree package builds on. None of this package knows
// about keys, MVV containers or transactions — it only knows about pages
// of bytes, their type tag, and a monotonic generation counter.
package storage

import "encoding/binary"

// Page type tags.
const (
	PageTypeFree       = 0
	PageTypeData       = 1 // leaf page
	PageTypeIndexMin   = 2 // index level 1
	PageTypeIndexMax   = 21 // index level 20 (tree depth never exceeds 20)
	PageTypeLongRecord = 22
	PageTypeFreeList   = 23
)

// IndexPageType returns the page type tag for an internal index page at
// the given tree level (level 1 is just above the leaves).
func IndexPageType(level int) uint8 {
	return uint8(PageTypeIndexMin + level - 1)
}

// IsIndexType reports whether t is an internal-index page type, and if so
// which level it encodes.
func IsIndexType(t uint8) (level int, ok bool) {
	if t >= PageTypeIndexMin && t <= PageTypeIndexMax {
		return int(t) - PageTypeIndexMin + 1, true
	}
	return 0, false
}

// Page header layout:
//
//	| type(1) | level(1) | nkeys(2) | generation(8) | right(8) | garbage(2) | pad(2) |
//	|<--------------------------- HeaderSize = 24 ------------------------->|
//
// Followed by nkeys*8 child pointers (zero for leaf slots), nkeys*2 byte
// offsets into the KV blob (offset of slot 0 is implicitly 0 and is not
// stored), then the KV blob itself growing from HeaderSize+ptrs+offsets.
//
// KV pair format: | klen(2) | vlen(2) | key | val |
const HeaderSize = 24

// Page is a fixed-size buffer-pool page. It is a thin accessor over raw
// bytes; the BufferPool owns the backing array and its lifetime.
type Page struct {
	Data []byte
}

func NewPage(size int) Page {
	return Page{Data: make([]byte, size)}
}

func (p Page) Type() uint8      { return p.Data[0] }
func (p Page) SetType(t uint8)  { p.Data[0] = t }
func (p Page) Level() uint8     { return p.Data[1] }
func (p Page) SetLevel(l uint8) { p.Data[1] = l }

func (p Page) NKeys() uint16          { return binary.LittleEndian.Uint16(p.Data[2:4]) }
func (p Page) setNKeys(n uint16)      { binary.LittleEndian.PutUint16(p.Data[2:4], n) }
func (p Page) Generation() uint64     { return binary.LittleEndian.Uint64(p.Data[4:12]) }
func (p Page) SetGeneration(g uint64) { binary.LittleEndian.PutUint64(p.Data[4:12], g) }
func (p Page) BumpGeneration()        { p.SetGeneration(p.Generation() + 1) }
func (p Page) Right() uint64          { return binary.LittleEndian.Uint64(p.Data[12:20]) }
func (p Page) SetRight(ptr uint64)    { binary.LittleEndian.PutUint64(p.Data[12:20], ptr) }
func (p Page) Garbage() uint16        { return binary.LittleEndian.Uint16(p.Data[20:22]) }
func (p Page) setGarbage(g uint16)    { binary.LittleEndian.PutUint16(p.Data[20:22], g) }

func (p Page) IsLeaf() bool { return p.Type() == PageTypeData }

func (p Page) SetHeader(t, level uint8, nkeys uint16) {
	p.SetType(t)
	p.SetLevel(level)
	p.setNKeys(nkeys)
	p.setGarbage(0)
}

func (p Page) ptrPos(idx uint16) int { return HeaderSize + 8*int(idx) }

func (p Page) Ptr(idx uint16) uint64 {
	return binary.LittleEndian.Uint64(p.Data[p.ptrPos(idx):])
}

func (p Page) SetPtr(idx uint16, ptr uint64) {
	binary.LittleEndian.PutUint64(p.Data[p.ptrPos(idx):], ptr)
}

func (p Page) offsetPos(idx uint16) int {
	return HeaderSize + 8*int(p.NKeys()) + 2*int(idx-1)
}

func (p Page) offset(idx uint16) uint16 {
	if idx == 0 {
		return 0
	}
	return binary.LittleEndian.Uint16(p.Data[p.offsetPos(idx):])
}

func (p Page) setOffset(idx, off uint16) {
	if idx == 0 {
		return
	}
	binary.LittleEndian.PutUint16(p.Data[p.offsetPos(idx):], off)
}

func (p Page) kvPos(idx uint16) int {
	n := p.NKeys()
	return HeaderSize + 8*int(n) + 2*int(n) + int(p.offset(idx))
}

// Key returns the idx'th key. idx must be < NKeys().
func (p Page) Key(idx uint16) []byte {
	pos := p.kvPos(idx)
	klen := binary.LittleEndian.Uint16(p.Data[pos:])
	return p.Data[pos+4:][:klen]
}

// Value returns the idx'th value slot (leaf payload bytes). Index entries
// carry no value bytes; their child pointer is read with Ptr.
func (p Page) Value(idx uint16) []byte {
	pos := p.kvPos(idx)
	klen := binary.LittleEndian.Uint16(p.Data[pos:])
	vlen := binary.LittleEndian.Uint16(p.Data[pos+2:])
	return p.Data[pos+4+int(klen):][:vlen]
}

func (p Page) nbytes() int { return p.kvPos(p.NKeys()) }

// UsedBytes reports the number of bytes of this page currently occupied
// by the header, slot tables and KV blob.
func (p Page) UsedBytes() int { return p.nbytes() }

// FreeBytes reports how much room is left before the page must split:
// pageSize minus the bytes the header, slot tables and KV blob occupy.
func (p Page) FreeBytes(pageSize int) int { return pageSize - p.nbytes() }

// appendRange copies num slots [src, src+num) of old into new starting at
// dst, preserving pointers, offsets and the KV blob slice.
func appendRange(newp, old Page, dst, src, num uint16) {
	if num == 0 {
		return
	}
	for i := uint16(0); i < num; i++ {
		newp.SetPtr(dst+i, old.Ptr(src+i))
	}
	dstBegin := newp.offset(dst)
	srcBegin := old.offset(src)
	for i := uint16(1); i <= num; i++ {
		newp.setOffset(dst+i, dstBegin+old.offset(src+i)-srcBegin)
	}
	begin := old.kvPos(src)
	end := old.kvPos(src + num)
	copy(newp.Data[newp.kvPos(dst):], old.Data[begin:end])
}

// appendKV appends a single (ptr, key, val) triple at slot idx and fixes
// up the offset of idx+1.
func appendKV(p Page, idx uint16, ptr uint64, key, val []byte) {
	p.SetPtr(idx, ptr)
	pos := p.kvPos(idx)
	binary.LittleEndian.PutUint16(p.Data[pos:], uint16(len(key)))
	binary.LittleEndian.PutUint16(p.Data[pos+2:], uint16(len(val)))
	copy(p.Data[pos+4:], key)
	copy(p.Data[pos+4+len(key):], val)
	p.setOffset(idx+1, p.offset(idx)+4+uint16(len(key)+len(val)))
}

// Rebuild constructs a fresh page of the same type/level from an ordered
// slice of (key, val, ptr) entries. The caller must ensure the result
// fits within len(dst.Data).
func Rebuild(dst Page, pageType, level uint8, entries []Entry) {
	dst.SetHeader(pageType, level, uint16(len(entries)))
	for i, e := range entries {
		appendKV(dst, uint16(i), e.Ptr, e.Key, e.Val)
	}
}

// Entry is a decoded (key, value, child-pointer) slot used when
// rebuilding or splitting pages above the raw byte-slice level.
type Entry struct {
	Key []byte
	Val []byte
	Ptr uint64
}

// Entries decodes every slot of the page into an Entry slice.
func (p Page) Entries() []Entry {
	n := p.NKeys()
	out := make([]Entry, n)
	for i := uint16(0); i < n; i++ {
		out[i] = Entry{Key: p.Key(i), Val: p.Value(i), Ptr: p.Ptr(i)}
	}
	return out
}

// Search returns the index of the last slot whose key is <= key, and
// whether that slot's key equals key exactly.
func (p Page) Search(key []byte, cmp func(a, b []byte) int) (at uint16, exact bool) {
	n := p.NKeys()
	if n == 0 {
		return 0, false
	}
	lo, hi := uint16(0), n // hi exclusive
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(p.Key(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, false
	}
	at = lo - 1
	exact = cmp(p.Key(at), key) == 0
	return at, exact
}
