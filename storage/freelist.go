package storage

import "encoding/binary"

// FreeList is a linked list of pages, each holding (pointer, reclaim
// version) pairs. The version is the volume's reclamation generation: a
// page can only be reused once no active reader could still be walking
// a B-link chain that references it (tracked by the tree package's
// minimum-active-reader bookkeeping and passed in via
// SetMinReclaimable).
type FreeList struct {
	head uint64

	nodes []uint64 // cached chain of node pointers, tail to head
	total int
	offset int

	minReclaimable uint64 // pages freed at a version >= this are not yet reusable
	pageSize       int

	get     func(uint64) Page
	newPage func(Page) uint64
	usePage func(uint64, Page)
}

// free-list node format, one page:
// | type(1) | level(1) | nkeys(2)=size | generation(8)=next | right(8)=unused | garbage(2) | ptr-version pairs (16B each) |
const freeListHeader = HeaderSize
const freeListEntrySize = 16

func flSize(p Page) int    { return int(p.NKeys()) }
func flNext(p Page) uint64 { return p.Generation() }
func flSetNext(p Page, next uint64) {
	p.SetGeneration(next)
}

func flItem(p Page, i int) (ptr, ver uint64) {
	pos := freeListHeader + i*freeListEntrySize
	ptr = binary.LittleEndian.Uint64(p.Data[pos:])
	ver = binary.LittleEndian.Uint64(p.Data[pos+8:])
	return
}

func flSetItem(p Page, i int, ptr, ver uint64) {
	pos := freeListHeader + i*freeListEntrySize
	binary.LittleEndian.PutUint64(p.Data[pos:], ptr)
	binary.LittleEndian.PutUint64(p.Data[pos+8:], ver)
}

// SetMinReclaimable records the lowest reclamation version any page
// must have been freed before, for it to be safe to reuse: a reader
// must never see a page recycled out from under an in-flight walk.
func (fl *FreeList) SetMinReclaimable(v uint64) { fl.minReclaimable = v }

func (fl *FreeList) loadCache() {
	if len(fl.nodes) > 0 || fl.head == 0 {
		return
	}
	var nodes []uint64
	curr := fl.head
	for curr != 0 {
		nodes = append(nodes, curr)
		curr = flNext(fl.get(curr))
	}
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	fl.nodes = nodes
	fl.offset = 0
}

// Pop removes and returns a reusable page pointer, or 0 if the free list
// is empty or its head entry isn't old enough to be reclaimed yet. A
// handed-out entry is zeroed in its node page, so rebuilding the node cache
// after an Add never hands the same page out twice.
func (fl *FreeList) Pop() uint64 {
	fl.loadCache()
	for len(fl.nodes) > 0 {
		node := fl.get(fl.nodes[0])
		if fl.offset >= flSize(node) {
			fl.nodes = fl.nodes[1:]
			fl.offset = 0
			continue
		}
		ptr, ver := flItem(node, fl.offset)
		if ptr == 0 {
			fl.offset++ // handed out by an earlier Pop
			continue
		}
		if ver >= fl.minReclaimable {
			return 0 // still possibly visible to an active reader
		}
		flSetItem(node, fl.offset, 0, 0)
		fl.offset++
		return ptr
	}
	return 0
}

// Add appends freed page pointers to the list, tagged with the current
// reclamation version so Pop can respect minReclaimable.
func (fl *FreeList) Add(freed []uint64, version uint64) {
	if len(freed) == 0 {
		return
	}
	perPage := (fl.pageSize - freeListHeader) / freeListEntrySize
	for len(freed) > 0 {
		n := len(freed)
		if n > perPage {
			n = perPage
		}
		p := NewPage(fl.pageSize)
		p.SetHeader(PageTypeFreeList, 0, uint16(n))
		flSetNext(p, fl.head)
		for i, ptr := range freed[:n] {
			flSetItem(p, i, ptr, version)
		}
		freed = freed[n:]
		fl.head = fl.newPage(p)
		fl.nodes = nil // invalidate cache
	}
}

// Total counts every pointer across every node in the list.
func (fl *FreeList) Total() int {
	if fl.head == 0 {
		return 0
	}
	total := 0
	ptr := fl.head
	for ptr != 0 {
		node := fl.get(ptr)
		total += flSize(node)
		ptr = flNext(node)
	}
	return total
}
