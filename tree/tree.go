package tree

import (
	"sync"

	"blinkkv/journal"
	"blinkkv/storage"
	"blinkkv/txnindex"
)

// Mode distinguishes an ordinary MVCC-visible tree from the raw mode
// the directory tree and temporary volumes run in, which bypasses
// version bookkeeping entirely. The mode is declared at Open rather
// than inferred from whether a transaction happens to be bound.
type Mode int

const (
	ModeMVCC Mode = iota
	ModeRaw
)

// Options configures a tree at Open time.
type Options struct {
	Name string
	Mode Mode

	// RootAddr, when nonzero, opens an existing tree at that root
	// page. Zero allocates a fresh, empty leaf page as the root.
	RootAddr uint64

	// MaxInlineValue caps the encoded size of a value (or MVV
	// container) kept directly in a leaf slot; larger values are
	// written as a long-record chain. Defaults to one quarter of the
	// volume's page size.
	MaxInlineValue int

	SplitPolicy SplitPolicy
	JoinPolicy  JoinPolicy
}

// Tree is the shared per-(volume, name) tree state: name, root
// address, depth, generation counter, change counter and validity flag,
// shared by every Handle bound to it.
type Tree struct {
	Name string

	Vol     *storage.Volume
	Pool    *storage.BufferPool
	TxIndex *txnindex.TransactionIndex
	Clock   *txnindex.TimestampAllocator
	Journal *journal.Manager

	Handle TreeHandle

	meta          sync.Mutex
	root          uint64
	depth         int // 0: root is a leaf; N: N index levels sit above the leaves
	generation    uint64
	changeCounter uint64
	valid         bool

	mode        Mode
	maxInline   int
	splitPolicy SplitPolicy
	joinPolicy  JoinPolicy
}

// Open binds a Tree over an existing root page, or allocates a fresh
// empty leaf root. The directory-tree lookup by name that would
// normally resolve RootAddr belongs to the volume layer; callers supply
// RootAddr directly, or zero to create.
func Open(vol *storage.Volume, pool *storage.BufferPool, txIndex *txnindex.TransactionIndex, clock *txnindex.TimestampAllocator, jrnl *journal.Manager, opt Options) (*Tree, error) {
	if vol.ReadOnly && opt.RootAddr == 0 {
		return nil, ErrReadOnly
	}
	maxInline := opt.MaxInlineValue
	if maxInline == 0 {
		maxInline = vol.PageSize / 4
	}
	t := &Tree{
		Name: opt.Name, Vol: vol, Pool: pool, TxIndex: txIndex, Clock: clock, Journal: jrnl,
		mode: opt.Mode, maxInline: maxInline, splitPolicy: opt.SplitPolicy, joinPolicy: opt.JoinPolicy,
		valid: true,
	}
	if opt.RootAddr != 0 {
		t.root = opt.RootAddr
		claim, ok := pool.Get(opt.RootAddr, false, true)
		if !ok {
			return nil, ErrRetry
		}
		// The root page's own level is the tree's depth; a data-typed
		// root means a single-leaf tree.
		if lvl, isIndex := storage.IsIndexType(claim.Page.Type()); isIndex {
			t.depth = lvl
		} else if claim.Page.Type() != storage.PageTypeData {
			pool.Release(claim, false)
			return nil, &CorruptionError{Tree: opt.Name, PageAddr: opt.RootAddr, Detail: "root page has invalid type"}
		}
		pool.Release(claim, false)
		return t, nil
	}
	ptr, page := vol.AllocPage()
	page.SetHeader(storage.PageTypeData, 0, 0)
	page.SetRight(0)
	t.root = ptr
	t.generation = vol.NextGeneration()
	return t, nil
}

// RootAddr exposes the current root page address, e.g. so a caller can
// persist it into its own directory tree.
func (t *Tree) RootAddr() uint64 {
	t.meta.Lock()
	defer t.meta.Unlock()
	return t.root
}

func (t *Tree) Valid() bool {
	t.meta.Lock()
	defer t.meta.Unlock()
	return t.valid
}

func (t *Tree) ChangeCounter() uint64 {
	t.meta.Lock()
	defer t.meta.Unlock()
	return t.changeCounter
}

func (t *Tree) bumpChangeCounter() {
	t.meta.Lock()
	t.changeCounter++
	t.meta.Unlock()
}

// growRoot installs a freshly allocated index page as the new root,
// bumping the tree's generation so every LevelCache entry anywhere is
// invalidated.
func (t *Tree) growRoot(newRoot uint64, newDepth int) {
	t.meta.Lock()
	t.root = newRoot
	t.depth = newDepth
	t.generation = t.Vol.NextGeneration()
	t.changeCounter++
	t.meta.Unlock()
}

// reclaimVersion stamps a page free with the current timestamp and
// advances the free list's reuse watermark to the oldest snapshot any
// active reader still holds, the same threshold that gates MVV pruning.
// Pages freed now stay unreusable until every reader that could still
// walk them has drained; with no readers open they recycle immediately.
func (t *Tree) reclaimVersion() uint64 {
	ver := t.Clock.UpdateTimestamp()
	t.Vol.SetMinReclaimableVersion(t.TxIndex.MinActiveReaderTS())
	return ver
}

// RemoveTree destroys the whole tree: it walks every level from
// the root down to the current leftmost leaf, reclaiming each level's
// entire right-linked chain of pages in one sweep (every page at a
// level is already right-linked, so the per-level deallocation reuses
// storage.Volume.DeallocateGarbageChain rather than a bespoke subtree
// walk), then marks the tree invalid.
func (t *Tree) RemoveTree() error {
	if t.Vol.ReadOnly {
		return ErrReadOnly
	}
	addr, depth, _ := t.RootSnapshot()
	for level := depth; level >= 0; level-- {
		claim, ok := t.Pool.Get(addr, false, true)
		if !ok {
			return ErrRetry
		}
		var child uint64
		if level > 0 && claim.Page.NKeys() > 0 {
			child = claim.Page.Ptr(0)
		}
		t.Pool.Release(claim, false)
		t.Vol.DeallocateGarbageChain(addr, t.reclaimVersion())
		addr = child
	}
	t.meta.Lock()
	t.valid = false
	t.meta.Unlock()
	return nil
}

func (t *Tree) SetSplitPolicy(p SplitPolicy) { t.meta.Lock(); t.splitPolicy = p; t.meta.Unlock() }
func (t *Tree) SetJoinPolicy(p JoinPolicy)   { t.meta.Lock(); t.joinPolicy = p; t.meta.Unlock() }

func (t *Tree) currentSplitPolicy() SplitPolicy {
	t.meta.Lock()
	defer t.meta.Unlock()
	return t.splitPolicy
}

func (t *Tree) currentJoinPolicy() JoinPolicy {
	t.meta.Lock()
	defer t.meta.Unlock()
	return t.joinPolicy
}
