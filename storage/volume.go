package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// DBSignature marks the master page of a volume file. 8 bytes so it
// overlays the first pointer slot.
const DBSignature = "blinkkv\x00"

// the master page format (page 0 of the file).
// | sig | (unused) | directory_root | flushed_pages | free_list_head | next_generation |
// |  8B | 8B       | 8B             | 8B            | 8B             | 8B              |

const masterPageSize = 128

// Options configures a newly opened Volume.
type Options struct {
	Path     string
	PageSize int // defaults to 8192 if zero
	ReadOnly bool
}

// Stats accumulates the process-wide counters the tree package surfaces
// through fetch/store operations and that tests assert on without
// parsing log text. Counters are atomic so concurrent handles can bump
// them without coordination.
type Stats struct {
	Fetches          atomic.Uint64
	Stores           atomic.Uint64
	Removes          atomic.Uint64
	Splits           atomic.Uint64
	Joins            atomic.Uint64
	Rebalances       atomic.Uint64
	CorruptionEvents atomic.Uint64
}

// Volume owns the memory-mapped file, the page allocator, and the
// directory tree's root address: the file-layout and reclamation layer
// the tree package sits on but never reaches into.
type Volume struct {
	Path     string
	PageSize int
	ReadOnly bool

	fp *os.File

	mu sync.Mutex

	mmapFile   int
	mmapTotal  int
	mmapChunks [][]byte

	flushedPages uint64 // pages physically present in the file
	nextGen      uint64 // monotonic generation source for new pages

	freeMu sync.Mutex
	free   FreeList

	sweeper *GarbageSweeper

	DirectoryRoot uint64 // root of the directory tree (tree name -> Tree metadata)

	Stats Stats
}

// Open maps the volume file into memory, creating it if necessary, and
// validates or initializes the master page.
func Open(opt Options) (*Volume, error) {
	if opt.PageSize == 0 {
		opt.PageSize = 8192
	}
	flag := os.O_RDWR | os.O_CREATE
	if opt.ReadOnly {
		flag = os.O_RDONLY
	}
	fp, err := os.OpenFile(opt.Path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", opt.Path, err)
	}
	v := &Volume{Path: opt.Path, PageSize: opt.PageSize, ReadOnly: opt.ReadOnly, fp: fp}
	if err := v.init(); err != nil {
		_ = v.Close()
		return nil, err
	}
	v.free.get = v.pageGetRaw
	v.free.newPage = v.pageAppendRaw
	v.free.usePage = v.pageOverwriteRaw
	v.free.pageSize = v.PageSize
	v.sweeper = NewGarbageSweeper(2)
	return v, nil
}

func (v *Volume) init() error {
	sz, chunk, err := mmapInit(v.fp, v.PageSize)
	if err != nil {
		return err
	}
	v.mmapFile = sz
	v.mmapTotal = len(chunk)
	v.mmapChunks = [][]byte{chunk}
	return v.loadMaster()
}

func (v *Volume) loadMaster() error {
	if v.mmapFile == 0 {
		v.flushedPages = 1 // page 0 reserved for the master page
		return nil
	}
	data := v.mmapChunks[0]
	if !bytes.Equal([]byte(DBSignature), data[:8]) {
		return ErrBadSignature
	}
	root := binary.LittleEndian.Uint64(data[8:16])
	_ = root
	dirRoot := binary.LittleEndian.Uint64(data[16:24])
	flushed := binary.LittleEndian.Uint64(data[24:32])
	freeHead := binary.LittleEndian.Uint64(data[32:40])
	gen := binary.LittleEndian.Uint64(data[40:48])
	if flushed < 1 || flushed > uint64(v.mmapFile/v.PageSize) {
		return ErrBadMasterPage
	}
	v.flushedPages = flushed
	v.free.head = freeHead
	v.nextGen = gen
	v.DirectoryRoot = dirRoot
	return nil
}

// StoreMaster persists the master page. dirRoot is the directory tree's
// current root address; individual trees persist their own root through
// the directory tree rather than the master page.
func (v *Volume) StoreMaster(dirRoot uint64) error {
	if v.ReadOnly {
		return ErrReadOnly
	}
	if err := v.ensureCapacity(1); err != nil {
		return err
	}
	var data [masterPageSize]byte
	copy(data[:8], []byte(DBSignature))
	binary.LittleEndian.PutUint64(data[16:24], dirRoot)
	binary.LittleEndian.PutUint64(data[24:32], v.flushedPages)
	binary.LittleEndian.PutUint64(data[32:40], v.free.head)
	binary.LittleEndian.PutUint64(data[40:48], v.nextGen)
	v.DirectoryRoot = dirRoot
	_, err := pwriteFile(v.fp.Fd(), data[:], 0)
	if err != nil {
		return fmt.Errorf("storage: write master page: %w", err)
	}
	return v.fp.Sync()
}

// Close drains any pending garbage sweeps, unmaps and closes the
// underlying file.
func (v *Volume) Close() error {
	if v.sweeper != nil {
		v.sweeper.StopAndDrain()
	}
	for _, c := range v.mmapChunks {
		_ = unmapFile(c)
	}
	return v.fp.Close()
}

// NextGeneration returns a fresh monotonic generation value, used to
// stamp a page as dirty.
func (v *Volume) NextGeneration() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextGen++
	return v.nextGen
}

func (v *Volume) pageOffset(ptr uint64) (chunk []byte, offset int, err error) {
	start := uint64(0)
	for _, c := range v.mmapChunks {
		end := start + uint64(len(c))/uint64(v.PageSize)
		if ptr < end {
			off := v.PageSize * int(ptr-start)
			return c, off, nil
		}
		start = end
	}
	return nil, 0, ErrPageOutOfRange
}

// pageGetRaw maps a page address directly to its mmap'd bytes, bypassing
// any in-flight (uncommitted) update — used by FreeList bookkeeping,
// which always operates against durable state.
func (v *Volume) pageGetRaw(ptr uint64) Page {
	c, off, err := v.pageOffset(ptr)
	if err != nil {
		panic(err)
	}
	return Page{Data: c[off : off+v.PageSize]}
}

func (v *Volume) pageAppendRaw(p Page) uint64 {
	v.mu.Lock()
	ptr := v.flushedPages
	v.flushedPages++
	v.mu.Unlock()
	if err := v.ensureCapacity(ptr + 1); err != nil {
		panic(err)
	}
	c, off, err := v.pageOffset(ptr)
	if err != nil {
		panic(err)
	}
	copy(c[off:off+v.PageSize], p.Data)
	return ptr
}

func (v *Volume) pageOverwriteRaw(ptr uint64, p Page) {
	c, off, err := v.pageOffset(ptr)
	if err != nil {
		panic(err)
	}
	copy(c[off:off+v.PageSize], p.Data)
}

// ensureCapacity grows the backing file and mmap so that page address
// npages-1 is addressable.
func (v *Volume) ensureCapacity(npages uint64) error {
	need := int(npages) * v.PageSize
	if need <= v.mmapFile {
		return nil
	}
	if err := extendFile(v.fp, need); err != nil {
		return err
	}
	v.mmapFile = need
	if need > v.mmapTotal {
		grow := v.mmapTotal
		if grow == 0 {
			grow = need
		}
		chunk, err := mmapFile(v.fp.Fd(), int64(v.mmapTotal), grow, protReadWrite, mapShared)
		if err != nil {
			return fmt.Errorf("storage: extend mmap: %w", err)
		}
		v.mmapTotal += grow
		v.mmapChunks = append(v.mmapChunks, chunk)
	}
	return nil
}

// AllocPage pops a reclaimed page from the free list, or appends a new
// one at the end of the file.
func (v *Volume) AllocPage() (uint64, Page) {
	v.freeMu.Lock()
	ptr := v.free.Pop()
	v.freeMu.Unlock()
	p := NewPage(v.PageSize)
	if ptr == 0 {
		ptr = v.pageAppendRaw(p)
	} else {
		v.pageOverwriteRaw(ptr, p)
	}
	return ptr, v.pageGetRaw(ptr)
}

// DeallocateGarbageChain frees every page from head to tail (a long
// record chain, or a freed B-link page) by walking right-sibling
// pointers. ver tags the freed pages with the caller's reclamation
// timestamp; they become reusable once the watermark passed to
// SetMinReclaimableVersion moves beyond it.
func (v *Volume) DeallocateGarbageChain(head uint64, ver uint64) {
	var freed []uint64
	ptr := head
	for ptr != 0 {
		p := v.pageGetRaw(ptr)
		next := p.Right()
		freed = append(freed, ptr)
		ptr = next
	}
	if len(freed) > 0 {
		v.freeMu.Lock()
		v.free.Add(freed, ver)
		v.freeMu.Unlock()
	}
}

// DeallocateGarbageChainAsync hands a chain to the background sweeper so
// a large removal doesn't serialize on free-list writes. The chain must
// already be severed from any live right-linked structure.
func (v *Volume) DeallocateGarbageChainAsync(head uint64, ver uint64) {
	if v.sweeper == nil {
		v.DeallocateGarbageChain(head, ver)
		return
	}
	v.sweeper.Submit(func() { v.DeallocateGarbageChain(head, ver) })
}

// SetMinReclaimableVersion forwards to the free list; the tree package
// calls this with the minimum active reader's start timestamp before a
// structural commit so pages freed by this commit are not popped back
// into use while an older reader might still be walking them.
func (v *Volume) SetMinReclaimableVersion(ver uint64) {
	v.freeMu.Lock()
	v.free.SetMinReclaimable(ver)
	v.freeMu.Unlock()
}

// PageCount reports how many pages the file currently holds, reclaimed
// ones included; a workload that recycles freed pages keeps it flat.
func (v *Volume) PageCount() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flushedPages
}

// Sync flushes the mapped pages and fences the master page write with
// an fsync.
func (v *Volume) Sync() error {
	return v.fp.Sync()
}

