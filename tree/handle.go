package tree

import (
	"blinkkv/keycodec"
	"blinkkv/txnindex"
)

// Handle is a cursor bound to one tree: everything one flow of control
// needs to drive it — its LevelCache, its last fetched key/value
// scratch, its bound transaction and policies — gathered so the
// operation surface can be exposed as methods instead of free functions
// threading all of that through every call.
//
// The transaction is passed explicitly at Bind, and the owning flow of
// control is an explicit caller-supplied owner token rather than an
// inspected goroutine identity (which Go does not expose), checked on
// every call so a handle used from somewhere it wasn't bound to fails
// fast instead of silently racing its own LevelCache.
type Handle struct {
	tree  *Tree
	owner any

	txn *txnindex.Transaction
	lc  LevelCache

	key   []byte
	value []byte
}

// NewHandle binds a fresh Handle to tree, owned by owner (any comparable
// value the caller uses to identify its flow of control — a goroutine's
// own *int sentinel is the usual idiom). owner may be nil, meaning the
// handle is unshared and the ownership check is skipped.
func NewHandle(t *Tree, owner any) *Handle {
	return &Handle{tree: t, owner: owner}
}

// Bind rebinds the handle to a transaction (nil for an autocommit read)
// and transfers ownership to newOwner: callers recycle a Handle
// explicitly instead of relying on a pooled, thread-local-keyed
// instance.
func (h *Handle) Bind(txn *txnindex.Transaction, newOwner any) {
	h.txn = txn
	h.owner = newOwner
}

// requireOwner returns ErrWrongThread if caller does not match the
// handle's recorded owner (nil owner means unshared / unchecked).
func (h *Handle) requireOwner(caller any) error {
	if h.owner != nil && caller != nil && h.owner != caller {
		return ErrWrongThread
	}
	return nil
}

// GetKey returns the key scratch buffer last populated by Fetch, Store,
// FetchAndStore or Traverse.
func (h *Handle) GetKey() []byte { return h.key }

// GetValue returns the value scratch buffer last populated the same way.
func (h *Handle) GetValue() []byte { return h.value }

// Fetch resolves key under the handle's bound transaction and records
// the result into the key/value scratch
// buffers. found is false (and the scratch buffers left at their
// previous contents) when key is absent or not visible.
func (h *Handle) Fetch(caller any, key []byte, maxBytes int) (found bool, err error) {
	if err := h.requireOwner(caller); err != nil {
		return false, err
	}
	res, err := h.tree.Fetch(key, h.txn, maxBytes, &h.lc)
	if err != nil {
		return false, err
	}
	if !res.Found {
		return false, nil
	}
	h.key, h.value = key, res.Value
	return true, nil
}

// Store writes value under key. With FlagFetch set, the prior value,
// if any, is left resolvable by a Fetch the caller issues first — Store
// does not silently fetch under the hood, since it already reports
// whether a prior value existed via `existed`.
func (h *Handle) Store(caller any, key, value []byte, flags StoreFlags) (existed bool, err error) {
	if err := h.requireOwner(caller); err != nil {
		return false, err
	}
	existed, err = h.tree.Store(key, value, h.txn, flags, &h.lc)
	if err == nil {
		h.key, h.value = key, value
	}
	return existed, err
}

// FetchAndStore stores value, returning whatever was visible
// immediately beforehand.
func (h *Handle) FetchAndStore(caller any, key, value []byte, flags StoreFlags, maxBytes int) (prior []byte, existed bool, err error) {
	if err := h.requireOwner(caller); err != nil {
		return nil, false, err
	}
	before, ferr := h.tree.Fetch(key, h.txn, maxBytes, &h.lc)
	if ferr != nil {
		return nil, false, ferr
	}
	existed, err = h.tree.Store(key, value, h.txn, flags, &h.lc)
	if err != nil {
		return nil, existed, err
	}
	h.key, h.value = key, value
	if !before.Found {
		return nil, existed, nil
	}
	return before.Value, existed, nil
}

// Remove deletes the exact key.
func (h *Handle) Remove(caller any, key []byte, flags StoreFlags) (existed bool, err error) {
	if err := h.requireOwner(caller); err != nil {
		return false, err
	}
	return h.tree.Remove(key, h.txn, flags, &h.lc)
}

// FetchAndRemove removes key, returning whatever was visible
// immediately beforehand.
func (h *Handle) FetchAndRemove(caller any, key []byte, flags StoreFlags, maxBytes int) (prior []byte, existed bool, err error) {
	if err := h.requireOwner(caller); err != nil {
		return nil, false, err
	}
	before, ferr := h.tree.Fetch(key, h.txn, maxBytes, &h.lc)
	if ferr != nil {
		return nil, false, ferr
	}
	existed, err = h.tree.Remove(key, h.txn, flags, &h.lc)
	if err != nil {
		return nil, existed, err
	}
	if !before.Found {
		return nil, existed, nil
	}
	return before.Value, existed, nil
}

// RemoveRange deletes every visible key in [lo, hi).
func (h *Handle) RemoveRange(caller any, lo, hi []byte, flags StoreFlags) (removed int, err error) {
	if err := h.requireOwner(caller); err != nil {
		return 0, err
	}
	return h.tree.RemoveRange(lo, hi, h.txn, flags, &h.lc)
}

// RemoveAll deletes every visible key in the tree.
func (h *Handle) RemoveAll(caller any, flags StoreFlags) (removed int, err error) {
	if err := h.requireOwner(caller); err != nil {
		return 0, err
	}
	return h.tree.RemoveAll(h.txn, flags, &h.lc)
}

// RemoveTree destroys the tree and reclaims its pages.
func (h *Handle) RemoveTree(caller any) error {
	if err := h.requireOwner(caller); err != nil {
		return err
	}
	return h.tree.RemoveTree()
}

// Traverse takes one ordered step from the key/value scratch's current
// key when probe is nil (an explicit probe otherwise, e.g. on the first
// call), recording the result into the scratch buffers. ok is false once
// the keyspace is exhausted in that direction.
func (h *Handle) Traverse(caller any, probe []byte, dir Direction, deep bool, minBytes int) (ok bool, err error) {
	if err := h.requireOwner(caller); err != nil {
		return false, err
	}
	if probe == nil {
		probe = h.key
	}
	res, ok, err := h.tree.Traverse(probe, dir, deep, minBytes, 0, 0, h.txn, nil, &h.lc)
	if err != nil || !ok {
		return false, err
	}
	h.key, h.value = res.Key, res.Value
	return true, nil
}

// TraverseWithVisitor drives visitor across every matching key from
// probe in dir until it returns false or the keyspace is exhausted.
func (h *Handle) TraverseWithVisitor(caller any, probe []byte, dir Direction, deep bool, minBytes int, visitor Visitor) error {
	if err := h.requireOwner(caller); err != nil {
		return err
	}
	_, _, err := h.tree.Traverse(probe, dir, deep, minBytes, 0, 0, h.txn, visitor, &h.lc)
	return err
}

// HasNext reports whether a forward traverse from the current key (or
// the left edge if none has been fetched yet) would find another key,
// without disturbing the handle's scratch buffers.
func (h *Handle) HasNext(caller any) (bool, error) {
	return h.peek(caller, GT)
}

// HasPrevious is HasNext's mirror for the backward direction.
func (h *Handle) HasPrevious(caller any) (bool, error) {
	return h.peek(caller, LT)
}

// HasChildren reports whether the key currently held by the scratch
// buffer has any deeper (non-sibling) key in the tree: the GT-direction,
// deep=true neighbor exists and lies
// strictly beneath the current key in the component hierarchy.
func (h *Handle) HasChildren(caller any) (bool, error) {
	if err := h.requireOwner(caller); err != nil {
		return false, err
	}
	if len(h.key) == 0 {
		return false, nil
	}
	depth := componentDepth(h.key)
	var lcScratch LevelCache
	res, ok, err := h.tree.Traverse(h.key, GT, true, -1, 0, 0, h.txn, nil, &lcScratch)
	if err != nil || !ok {
		return false, err
	}
	return componentDepth(res.Key) > depth && keycodec.CommonPrefixDepth(res.Key, h.key) >= depth, nil
}

func (h *Handle) peek(caller any, dir Direction) (bool, error) {
	if err := h.requireOwner(caller); err != nil {
		return false, err
	}
	var lcScratch LevelCache
	_, ok, err := h.tree.Traverse(h.key, dir, true, -1, 0, 0, h.txn, nil, &lcScratch)
	return ok, err
}

// SetSplitPolicy replaces the tree's split policy.
func (h *Handle) SetSplitPolicy(p SplitPolicy) { h.tree.SetSplitPolicy(p) }

// SetJoinPolicy replaces the tree's join policy.
func (h *Handle) SetJoinPolicy(p JoinPolicy) { h.tree.SetJoinPolicy(p) }
