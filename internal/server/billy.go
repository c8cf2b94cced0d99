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

package server

import (
	"errors"
	"hash/fnv"
	"io"
	"os"
	"path"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	log "github.com/sirupsen/logrus"
	nfsfile "github.com/willscott/go-nfs/file"

	"keyfs/internal/common"
	"keyfs/internal/vfs"
)

// BillyAdapter adapts a vfs.FS to the billy filesystem interface.
//
// The FS is single-threaded; every call here holds mu for its whole
// duration. A panic inside a call is logged and reported as EIO.
type BillyAdapter struct {
	mu  sync.Mutex
	fs  *vfs.FS
	uid uint32 // cached os.Getuid()
	gid uint32 // cached os.Getgid()
}

// NewBillyAdapter creates a Billy adapter for fs
func NewBillyAdapter(fs *vfs.FS) *BillyAdapter {
	return &BillyAdapter{
		fs:  fs,
		uid: uint32(os.Getuid()),
		gid: uint32(os.Getgid()),
	}
}

// FS returns the wrapped file tree.
func (b *BillyAdapter) FS() *vfs.FS {
	return b.fs
}

// recoverCall turns a panic in op into EIO. Deferred after the lock so it
// runs before the unlock.
func (b *BillyAdapter) recoverCall(op string, errp *error) {
	if r := recover(); r != nil {
		log.Errorf("[NFS] %s: panic: %v\n%s", op, r, debug.Stack())
		*errp = vfs.EIO
	}
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (f billy.File, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("open", &err)

	n, err := b.resolveForOpen(filename, flag, perm)
	if err != nil {
		return nil, err
	}
	s, err := b.fs.Open(n, flag)
	if err != nil {
		return nil, err
	}
	if flag&os.O_TRUNC != 0 && n.IsFile() && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		zero := int64(0)
		if err := b.fs.Setattr(n, vfs.SetAttr{Size: &zero}); err != nil {
			b.fs.Close(s)
			return nil, err
		}
	}
	return &BillyFile{
		adapter: b,
		stream:  s,
		name:    filename,
		flags:   flag,
	}, nil
}

func (b *BillyAdapter) resolveForOpen(filename string, flag int, perm os.FileMode) (*vfs.Node, error) {
	if common.NormalizePath(filename) == "" {
		return b.fs.Root(), nil
	}
	parent, name, err := b.fs.WalkParent(filename)
	if err != nil {
		return nil, err
	}
	n, err := b.fs.Lookup(parent, name)
	switch {
	case err == nil:
		if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
			return nil, vfs.EEXIST
		}
		return n, nil
	case vfs.IsNotFound(err) && flag&os.O_CREATE != 0:
		return b.fs.Mknod(parent, name, vfs.ModeFile|uint32(perm.Perm()))
	default:
		return nil, err
	}
}

func (b *BillyAdapter) Stat(filename string) (fi os.FileInfo, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("stat", &err)

	n, err := b.fs.Walk(filename)
	if err != nil {
		return nil, err
	}
	return b.fileInfo(n, path.Base(common.NormalizePath(filename)))
}

func (b *BillyAdapter) fileInfo(n *vfs.Node, name string) (*BillyFileInfo, error) {
	st, err := b.fs.Getattr(n)
	if err != nil {
		return nil, err
	}
	if name == "" || name == "." {
		name = "/"
	}
	return &BillyFileInfo{
		name:    name,
		stat:    st,
		fileid:  fileID(b.fs.Key(n), n == b.fs.Root()),
		adapter: b,
	}, nil
}

// fileID derives a stable NFS file id from a storage key.
func fileID(key string, root bool) uint64 {
	if root {
		return 1
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	if id := h.Sum64(); id > 1 {
		return id
	}
	return 2
}

func (b *BillyAdapter) Rename(oldpath, newpath string) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("rename", &err)

	n, err := b.fs.Walk(oldpath)
	if err != nil {
		return err
	}
	if n == b.fs.Root() {
		return vfs.EBUSY
	}
	parent, name, err := b.fs.WalkParent(newpath)
	if err != nil {
		return err
	}
	return b.fs.Rename(n, parent, name)
}

func (b *BillyAdapter) Remove(filename string) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("remove", &err)

	if common.NormalizePath(filename) == "" {
		return vfs.EBUSY
	}
	parent, name, err := b.fs.WalkParent(filename)
	if err != nil {
		return err
	}
	n, err := b.fs.Lookup(parent, name)
	if err != nil {
		return err
	}
	if n.IsDir() {
		return b.fs.Rmdir(parent, name)
	}
	return b.fs.Unlink(parent, name)
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, os.ErrInvalid
}

// ReadDir lists dirname. The names reported by the backend scan are merged
// with the in-memory subdirectories; names that no longer resolve are
// dropped.
func (b *BillyAdapter) ReadDir(dirname string) (infos []os.FileInfo, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("readdir", &err)

	dir, err := b.fs.Walk(dirname)
	if err != nil {
		return nil, err
	}
	names, err := b.fs.Readdir(dir)
	if err != nil {
		return nil, err
	}
	names = append(names, b.fs.Subdirs(dir)...)
	sort.Strings(names)

	var prev string
	for i, name := range names {
		if i > 0 && name == prev {
			continue
		}
		prev = name
		child, err := b.fs.Lookup(dir, name)
		if err != nil {
			log.Debugf("[NFS] readdir %q: skipping %q: %v", dirname, name, err)
			continue
		}
		fi, err := b.fileInfo(child, name)
		if err != nil {
			log.Debugf("[NFS] readdir %q: skipping %q: %v", dirname, name, err)
			continue
		}
		infos = append(infos, fi)
	}
	return infos, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("mkdir", &err)

	n := b.fs.Root()
	for _, name := range common.SplitPath(filename) {
		child, err := b.fs.Lookup(n, name)
		switch {
		case err == nil:
			if !child.IsDir() {
				return vfs.ENOTDIR
			}
		case vfs.IsNotFound(err):
			child, err = b.fs.Mknod(n, name, vfs.ModeDir|uint32(perm.Perm()))
			if err != nil {
				return err
			}
		default:
			return err
		}
		n = child
	}
	return nil
}

// Lstat and Stat are identical: there are no symbolic links.
func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *BillyAdapter) Symlink(target, link string) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("symlink", &err)

	parent, name, err := b.fs.WalkParent(link)
	if err != nil {
		return err
	}
	return b.fs.Symlink(parent, name, target)
}

func (b *BillyAdapter) Readlink(link string) (target string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("readlink", &err)

	n, err := b.fs.Walk(link)
	if err != nil {
		return "", err
	}
	return b.fs.Readlink(n)
}

func (b *BillyAdapter) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(b, b.Join(b.Root(), p)), nil
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface

// Chmod is rejected: the backend stores no permission bits.
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("chmod", &err)

	n, err := b.fs.Walk(name)
	if err != nil {
		return err
	}
	m := uint32(mode.Perm())
	return b.fs.Setattr(n, vfs.SetAttr{Mode: &m})
}

func (b *BillyAdapter) Lchown(name string, uid, gid int) error { return nil }
func (b *BillyAdapter) Chown(name string, uid, gid int) error  { return nil }

// Chtimes is rejected: the backend owns the modification time.
func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("chtimes", &err)

	n, err := b.fs.Walk(name)
	if err != nil {
		return err
	}
	return b.fs.Setattr(n, vfs.SetAttr{Atime: &atime, Mtime: &mtime})
}

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

// BillyFile is an open stream seen through billy.File. Sequential reads
// and writes advance the stream position.
type BillyFile struct {
	adapter *BillyAdapter
	stream  *vfs.Stream
	name    string
	flags   int
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (n int, err error) {
	b := f.adapter
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("write", &err)

	if f.flags&os.O_APPEND != 0 {
		if _, err := b.fs.Llseek(f.stream, 0, io.SeekEnd); err != nil {
			return 0, err
		}
	}
	n, err = b.fs.Write(f.stream, p, 0, len(p), f.stream.Position())
	if n > 0 {
		if _, serr := b.fs.Llseek(f.stream, int64(n), io.SeekCurrent); serr != nil && err == nil {
			err = serr
		}
	}
	return n, err
}

func (f *BillyFile) Read(p []byte) (n int, err error) {
	b := f.adapter
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("read", &err)

	n, err = b.fs.Read(f.stream, p, 0, len(p), f.stream.Position())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if _, err := b.fs.Llseek(f.stream, int64(n), io.SeekCurrent); err != nil {
			return n, err
		}
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *BillyFile) ReadAt(p []byte, off int64) (n int, err error) {
	b := f.adapter
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("read", &err)

	n, err = b.fs.Read(f.stream, p, 0, len(p), off)
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *BillyFile) Seek(offset int64, whence int) (pos int64, err error) {
	b := f.adapter
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("seek", &err)

	return b.fs.Llseek(f.stream, offset, whence)
}

func (f *BillyFile) Close() (err error) {
	b := f.adapter
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("close", &err)

	return b.fs.Close(f.stream)
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) (err error) {
	b := f.adapter
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.recoverCall("truncate", &err)

	if size < 0 {
		return vfs.EINVAL
	}
	return b.fs.Setattr(f.stream.Node(), vfs.SetAttr{Size: &size})
}

// BillyFileInfo is os.FileInfo over a vfs.Stat.
type BillyFileInfo struct {
	name    string
	stat    *vfs.Stat
	fileid  uint64
	adapter *BillyAdapter // cached uid/gid source (nil falls back to syscall)
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	return fi.stat.Size
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	perm := os.FileMode(fi.stat.Mode & 0777)
	if fi.IsDir() {
		return os.ModeDir | perm
	}
	return perm
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return fi.stat.Mtime
}

func (fi *BillyFileInfo) IsDir() bool {
	return fi.stat.IsDir()
}

func (fi *BillyFileInfo) Sys() interface{} {
	// go-nfs's GetInfo() only recognizes file.FileInfo or *file.FileInfo types
	// Owners are the serving process, not the zero uid/gid from vfs.Stat, so clients can write.
	uid, gid := fi.getUIDGID()
	return &nfsfile.FileInfo{
		Nlink:  fi.stat.Nlink,
		UID:    uid,
		GID:    gid,
		Fileid: fi.fileid,
	}
}

// getUIDGID returns cached uid/gid from the adapter if available, otherwise falls back to syscall.
func (fi *BillyFileInfo) getUIDGID() (uint32, uint32) {
	if fi.adapter != nil {
		return fi.adapter.uid, fi.adapter.gid
	}
	return uint32(os.Getuid()), uint32(os.Getgid())
}

// IsNotExist reports whether err means the path does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, vfs.ENOENT) || errors.Is(err, os.ErrNotExist)
}

var (
	_ billy.Filesystem = (*BillyAdapter)(nil)
	_ billy.Change     = (*BillyAdapter)(nil)
	_ billy.Capable    = (*BillyAdapter)(nil)
	_ billy.File       = (*BillyFile)(nil)
	_ os.FileInfo      = (*BillyFileInfo)(nil)
)
