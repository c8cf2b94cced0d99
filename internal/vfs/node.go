package vfs

import (
	"time"

	"keyfs/internal/storage"
)

// File mode constants (POSIX)
const (
	ModeDir  = 0040000 // Directory
	ModeFile = 0100000 // Regular file
	ModeMask = 0170000 // Type mask
)

// Default modes for materialized nodes.
const (
	DefaultDirMode  = ModeDir | 0777
	DefaultFileMode = ModeFile | 0777
)

// NodeID addresses a node in the tree's arena. Zero means "no node".
type NodeID uint64

// Node is an entry in the in-memory file tree.
//
// Parent and child links are arena ids, not pointers: the tree owns every
// node, children are forward links, the parent id is a back-reference used
// to rebuild the path. A node leaves the arena when it is unlinked or
// evicted; streams that still hold it keep working on its handle.
type Node struct {
	id     NodeID
	parent NodeID
	name   string
	mode   uint32
	ctime  time.Time

	// handle and refcount change together (see HandleManager): a non-nil
	// handle implies refcount >= 1 and vice versa. Directories never hold one.
	handle   storage.Handle
	refcount int

	children map[string]NodeID
}

// ID returns the arena id.
func (n *Node) ID() NodeID { return n.id }

// Name returns the node's name within its parent ("/" for the root).
func (n *Node) Name() string { return n.name }

// Mode returns type and permission bits.
func (n *Node) Mode() uint32 { return n.mode }

// IsDir returns true if the node is a directory
func (n *Node) IsDir() bool { return n.mode&ModeMask == ModeDir }

// IsFile returns true if the node is a regular file
func (n *Node) IsFile() bool { return n.mode&ModeMask == ModeFile }

// RefCount returns the number of logical opens sharing the node's handle.
func (n *Node) RefCount() int { return n.refcount }

// HasHandle reports whether a backend handle is live on the node.
func (n *Node) HasHandle() bool { return n.handle != nil }

// tree is the node arena.
type tree struct {
	nodes map[NodeID]*Node
	next  NodeID
	now   func() time.Time
}

func newTree() *tree {
	return &tree{
		nodes: make(map[NodeID]*Node),
		next:  1,
		now:   time.Now,
	}
}

// add creates a node and links it under parent (nil for the root).
func (t *tree) add(parent *Node, name string, mode uint32) *Node {
	n := &Node{
		id:    t.next,
		name:  name,
		mode:  mode,
		ctime: t.now(),
	}
	t.next++
	if n.IsDir() {
		n.children = make(map[string]NodeID)
	}
	if parent != nil {
		n.parent = parent.id
		parent.children[name] = n.id
	}
	t.nodes[n.id] = n
	return n
}

func (t *tree) get(id NodeID) *Node {
	return t.nodes[id]
}

// child returns the cached child named name, or nil.
func (t *tree) child(parent *Node, name string) *Node {
	id, ok := parent.children[name]
	if !ok {
		return nil
	}
	return t.nodes[id]
}

// detach unlinks n from its parent and drops it from the arena.
func (t *tree) detach(n *Node) {
	if p := t.nodes[n.parent]; p != nil && p.children[n.name] == n.id {
		delete(p.children, n.name)
	}
	delete(t.nodes, n.id)
}

// move relinks n under newParent as newName.
func (t *tree) move(n, newParent *Node, newName string) {
	if p := t.nodes[n.parent]; p != nil && p.children[n.name] == n.id {
		delete(p.children, n.name)
	}
	n.parent = newParent.id
	n.name = newName
	newParent.children[newName] = n.id
}

// segments returns the names from just below the root down to n.
func (t *tree) segments(n *Node) []string {
	var rev []string
	for cur := n; cur != nil && cur.parent != 0; cur = t.nodes[cur.parent] {
		rev = append(rev, cur.name)
	}
	out := make([]string, len(rev))
	for i, name := range rev {
		out[len(rev)-1-i] = name
	}
	return out
}
