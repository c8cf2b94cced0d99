package vfs

import (
	"errors"

	"keyfs/internal/storage"
)

// HandleManager owns backend handles, one per file node, shared by every
// stream open on that node through a reference count.
//
// Not safe for concurrent use; callers serialize (see FS).
type HandleManager struct {
	backend storage.Backend
	keyOf   func(*Node) string

	live   map[*Node]struct{}
	opened int
	closed int
}

// NewHandleManager creates a handle manager. keyOf derives a node's key.
func NewHandleManager(backend storage.Backend, keyOf func(*Node) string) *HandleManager {
	return &HandleManager{
		backend: backend,
		keyOf:   keyOf,
		live:    make(map[*Node]struct{}),
	}
}

// Acquire returns the node's handle, opening it on first use.
// On failure the node is left untouched.
func (hm *HandleManager) Acquire(n *Node) (storage.Handle, error) {
	if n.handle != nil {
		n.refcount++
		return n.handle, nil
	}
	h, err := hm.backend.Open(hm.keyOf(n), false)
	if err != nil {
		return nil, Translate(err)
	}
	n.handle = h
	n.refcount = 1
	hm.live[n] = struct{}{}
	hm.opened++
	return h, nil
}

// Release drops one reference. At zero (or below, for a repeated close)
// the backend handle is closed and cleared. The node is cleared even when
// the backend close fails; the error is still returned.
func (hm *HandleManager) Release(n *Node) error {
	n.refcount--
	if n.refcount > 0 {
		return nil
	}
	h := n.handle
	n.handle = nil
	n.refcount = 0
	if h == nil {
		return nil
	}
	delete(hm.live, n)
	hm.closed++
	return Translate(h.Close())
}

// Live returns the number of nodes holding an open backend handle.
func (hm *HandleManager) Live() int {
	return len(hm.live)
}

// Counts returns how many backend handles were opened and closed.
func (hm *HandleManager) Counts() (opened, closed int) {
	return hm.opened, hm.closed
}

// CloseAll force-closes every live handle regardless of reference counts.
func (hm *HandleManager) CloseAll() error {
	var errs []error
	for n := range hm.live {
		n.refcount = 1
		if err := hm.Release(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
