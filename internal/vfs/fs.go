// Copyright 2024 LatentFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vfs exposes a hierarchical file tree on top of a flat,
// prefix-addressable storage.Backend.
//
// Directories exist only in memory: the backend never stores an entry for
// them, they are recorded in the node arena when created. Files are backend
// keys derived from their path by Codec.
//
// An FS is single-threaded: every operation runs to completion on the
// caller's goroutine and there is no internal locking. Front ends that serve
// concurrent requests must serialize calls (see server.BillyAdapter).
package vfs

import (
	"errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"keyfs/internal/cache"
	"keyfs/internal/common"
	"keyfs/internal/profile"
	"keyfs/internal/storage"
)

// Options configures a mount. Every field is optional.
type Options struct {
	// Root is the key namespace of the mount root.
	Root string
	// Separator replaces '/' in keys (DefaultSeparator when empty).
	Separator string
	// Logger receives debug output. Nil discards it.
	Logger log.FieldLogger
	// Profiler times every operation. Nil disables timing.
	Profiler *profile.Recorder
	// AttrCache caches getattr results for nodes without a live handle.
	AttrCache *cache.AttrCache
}

// FS is a mounted file tree over a backend.
type FS struct {
	backend storage.Backend
	codec   *Codec
	tree    *tree
	root    *Node
	handles *HandleManager

	log       log.FieldLogger
	profiler  *profile.Recorder
	attrCache *cache.AttrCache
}

// Mount creates the root directory node over backend.
func Mount(backend storage.Backend, opts Options) *FS {
	logger := opts.Logger
	if logger == nil {
		discard := log.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	fs := &FS{
		backend:   backend,
		codec:     NewCodec(opts.Root, opts.Separator),
		tree:      newTree(),
		log:       logger,
		profiler:  opts.Profiler,
		attrCache: opts.AttrCache,
	}
	fs.handles = NewHandleManager(backend, fs.keyOf)
	fs.root = fs.tree.add(nil, "/", DefaultDirMode)
	fs.log.Debugf("[VFS] mount: root key %q separator %q", fs.codec.RootKey(), fs.codec.Separator())
	return fs
}

// Root returns the mount root.
func (fs *FS) Root() *Node {
	return fs.root
}

// Codec returns the path codec in use.
func (fs *FS) Codec() *Codec {
	return fs.codec
}

// Handles returns the handle manager.
func (fs *FS) Handles() *HandleManager {
	return fs.handles
}

// Profiler returns the injected recorder (may be nil).
func (fs *FS) Profiler() *profile.Recorder {
	return fs.profiler
}

// Key returns the storage key of n.
func (fs *FS) Key(n *Node) string {
	return fs.keyOf(n)
}

func (fs *FS) keyOf(n *Node) string {
	return fs.codec.Encode(fs.tree.segments(n))
}

// Unmount force-closes every live backend handle and drops cached
// attributes. Streams still open become unusable.
func (fs *FS) Unmount() error {
	if fs.attrCache != nil {
		fs.log.Debugf("[VFS] unmount: attr cache %+v", fs.attrCache.Stats())
		fs.attrCache.Invalidate()
	}
	return fs.handles.CloseAll()
}

// track times op through the profiler: defer fs.track("op")().
func (fs *FS) track(op string) func() {
	if fs.profiler == nil {
		return func() {}
	}
	start := time.Now()
	return func() { fs.profiler.Observe(op, time.Since(start)) }
}

func (fs *FS) invalidate(keys ...string) {
	if fs.attrCache == nil {
		return
	}
	for _, k := range keys {
		fs.attrCache.InvalidatePath(k)
	}
}

// --- Node operations ---

// Getattr returns the attributes of n.
func (fs *FS) Getattr(n *Node) (*Stat, error) {
	defer fs.track("getattr")()
	fs.log.Debugf("[VFS] getattr: node=%d name=%q", n.id, n.name)

	if n.IsDir() {
		return toStat(dirAttributes(n), n), nil
	}
	if n.handle != nil {
		md, err := n.handle.GetAttributes()
		if err != nil {
			return nil, Translate(err)
		}
		return toStat(md, n), nil
	}

	key := fs.keyOf(n)
	if fs.attrCache != nil {
		if md, ok := fs.attrCache.Get(key); ok {
			return toStat(md, n), nil
		}
	}
	h, err := fs.backend.Open(key, false)
	if err != nil {
		return nil, Translate(err)
	}
	md, err := h.GetAttributes()
	closeErr := h.Close()
	if err != nil {
		return nil, Translate(err)
	}
	if closeErr != nil {
		return nil, Translate(closeErr)
	}
	if fs.attrCache != nil {
		fs.attrCache.Set(key, md)
	}
	return toStat(md, n), nil
}

// Setattr applies a setattr request. Only the size is applied; it truncates
// or zero-extends the backend entry. Other fields are ignored when a size is
// present, and a request without a size is EPERM.
func (fs *FS) Setattr(n *Node, attr SetAttr) error {
	defer fs.track("setattr")()
	fs.log.Debugf("[VFS] setattr: node=%d name=%q", n.id, n.name)

	if !attr.hasSize() {
		return EPERM
	}
	if n.IsDir() {
		return EISDIR
	}
	// TODO: update mtime after truncation; backends leave it unchanged today.
	key := fs.keyOf(n)
	md := storage.Attributes{Size: *attr.Size}
	var err error
	if n.handle != nil {
		err = n.handle.SetAttributes(md)
	} else {
		err = fs.backend.SetAttributes(key, md)
	}
	fs.invalidate(key)
	return Translate(err)
}

// Lookup resolves name under parent.
//
// Directory children come from the arena. Anything else is a file if the
// backend has its key; the backend carries no type information.
func (fs *FS) Lookup(parent *Node, name string) (*Node, error) {
	defer fs.track("lookup")()
	fs.log.Debugf("[VFS] lookup: parent=%d name=%q", parent.id, name)

	if !parent.IsDir() {
		return nil, ENOTDIR
	}
	cached := fs.tree.child(parent, name)
	if cached != nil && cached.IsDir() {
		return cached, nil
	}

	key := fs.codec.JoinChild(fs.keyOf(parent), name)
	exists, err := fs.backend.Exists(key)
	if err != nil {
		return nil, Translate(err)
	}
	if !exists {
		if cached != nil {
			// Removed behind our back; forget the stale name.
			fs.tree.detach(cached)
		}
		return nil, ENOENT
	}
	if cached != nil {
		return cached, nil
	}
	return fs.tree.add(parent, name, DefaultFileMode), nil
}

// Mknod creates a regular file or a directory named name under parent.
// A file is created in the backend as an empty entry; a directory only in
// the arena.
func (fs *FS) Mknod(parent *Node, name string, mode uint32) (*Node, error) {
	defer fs.track("mknod")()
	fs.log.Debugf("[VFS] mknod: parent=%d name=%q mode=%o", parent.id, name, mode)

	isDir := mode&ModeMask == ModeDir
	isFile := mode&ModeMask == ModeFile
	if !isDir && !isFile {
		return nil, EINVAL
	}
	if !parent.IsDir() {
		return nil, ENOTDIR
	}
	if name == "" || name == "." || name == ".." {
		return nil, EINVAL
	}
	if fs.tree.child(parent, name) != nil {
		return nil, EEXIST
	}
	key := fs.codec.JoinChild(fs.keyOf(parent), name)
	exists, err := fs.backend.Exists(key)
	if err != nil {
		return nil, Translate(err)
	}
	if exists {
		return nil, EEXIST
	}

	if isFile {
		h, err := fs.backend.Open(key, true)
		if err != nil {
			return nil, Translate(err)
		}
		if err := h.Close(); err != nil {
			return nil, Translate(err)
		}
		fs.invalidate(key)
	}
	return fs.tree.add(parent, name, mode), nil
}

// Rename moves the file old to newParent/newName, replacing any file there.
// Directory renames are not supported.
func (fs *FS) Rename(old, newParent *Node, newName string) error {
	defer fs.track("rename")()
	fs.log.Debugf("[VFS] rename: node=%d name=%q -> parent=%d name=%q", old.id, old.name, newParent.id, newName)

	if old.IsDir() {
		return EPERM
	}
	if !newParent.IsDir() {
		return ENOTDIR
	}
	target := fs.tree.child(newParent, newName)
	if target != nil && target.IsDir() {
		return EISDIR
	}

	oldKey := fs.keyOf(old)
	newKey := fs.codec.JoinChild(fs.keyOf(newParent), newName)
	if err := fs.backend.Rename(oldKey, newKey); err != nil {
		return Translate(err)
	}
	if target != nil && target != old {
		fs.tree.detach(target)
	}
	fs.tree.move(old, newParent, newName)
	fs.invalidate(oldKey, newKey)
	return nil
}

// Unlink deletes the file name under parent. Streams open on it keep using
// their backend handle until closed.
func (fs *FS) Unlink(parent *Node, name string) error {
	defer fs.track("unlink")()
	fs.log.Debugf("[VFS] unlink: parent=%d name=%q", parent.id, name)

	if !parent.IsDir() {
		return ENOTDIR
	}
	cached := fs.tree.child(parent, name)
	if cached != nil && cached.IsDir() {
		return EISDIR
	}
	key := fs.codec.JoinChild(fs.keyOf(parent), name)
	if err := fs.backend.Unlink(key); err != nil {
		return Translate(err)
	}
	if cached != nil {
		fs.tree.detach(cached)
	}
	fs.invalidate(key)
	return nil
}

// Rmdir removes the empty directory name under parent. Directories live in
// the arena only, so this is an in-memory removal; it refuses when cached
// children or backend keys remain under the directory.
func (fs *FS) Rmdir(parent *Node, name string) error {
	defer fs.track("rmdir")()
	fs.log.Debugf("[VFS] rmdir: parent=%d name=%q", parent.id, name)

	if !parent.IsDir() {
		return ENOTDIR
	}
	dir := fs.tree.child(parent, name)
	if dir == nil {
		exists, err := fs.backend.Exists(fs.codec.JoinChild(fs.keyOf(parent), name))
		if err != nil {
			return Translate(err)
		}
		if exists {
			return ENOTDIR
		}
		return ENOENT
	}
	if !dir.IsDir() {
		return ENOTDIR
	}
	if len(dir.children) > 0 {
		return ENOTEMPTY
	}
	prefix := fs.codec.ChildPrefix(fs.keyOf(dir))
	keys, err := fs.backend.ListByPrefix(prefix)
	if err != nil {
		return Translate(err)
	}
	if len(keys) > 0 {
		return ENOTEMPTY
	}
	fs.tree.detach(dir)
	if fs.attrCache != nil {
		fs.attrCache.InvalidatePrefix(prefix)
	}
	return nil
}

// Symlink is not supported.
func (fs *FS) Symlink(parent *Node, newName, oldPath string) error {
	return EPERM
}

// Readlink always fails: no node is a symbolic link.
func (fs *FS) Readlink(n *Node) (string, error) {
	return "", EINVAL
}

// Allocate (space preallocation) is not supported.
func (fs *FS) Allocate(s *Stream, offset, length int64) error {
	fs.log.Debugf("[VFS] allocate: stream=%s", s.id)
	return EOPNOTSUPP
}

// Ioctl is not supported; no node is a terminal.
func (fs *FS) Ioctl(s *Stream, cmd uint, arg uintptr) error {
	fs.log.Debugf("[VFS] ioctl: stream=%s cmd=%d", s.id, cmd)
	return ENOTTY
}

// --- Name resolution ---

// Walk resolves a slash-separated path from the root by repeated Lookup.
func (fs *FS) Walk(p string) (*Node, error) {
	n := fs.root
	for _, name := range common.SplitPath(p) {
		child, err := fs.Lookup(n, name)
		if err != nil {
			return nil, err
		}
		n = child
	}
	return n, nil
}

// WalkParent resolves the parent directory of p and returns it with the
// final path component.
func (fs *FS) WalkParent(p string) (*Node, string, error) {
	name := common.BaseName(p)
	if name == "" {
		return nil, "", EINVAL
	}
	parent, err := fs.Walk(common.ParentPath(p))
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		return nil, "", ENOTDIR
	}
	return parent, name, nil
}

// Subdirs returns the names of the in-memory directory children of n.
func (fs *FS) Subdirs(n *Node) []string {
	var names []string
	for name, id := range n.children {
		if c := fs.tree.get(id); c != nil && c.IsDir() {
			names = append(names, name)
		}
	}
	return names
}

// IsNotFound reports whether err is ENOENT.
func IsNotFound(err error) bool {
	return errors.Is(err, ENOENT)
}
