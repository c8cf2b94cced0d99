package vfs

import (
	"time"

	"keyfs/internal/storage"
)

// BlockSize is the fixed block size reported in Stat.
const BlockSize = 4096

// Stat is the file-tree view of a node's attributes.
//
// The backend has no devices, inodes, owners or link counts; those fields
// are fixed. A single backend timestamp feeds all three times.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Blksize int64
	Blocks  int64
}

// IsDir returns true if the stat describes a directory
func (s *Stat) IsDir() bool { return s.Mode&ModeMask == ModeDir }

// SetAttr carries a setattr request. Nil fields are not being changed.
type SetAttr struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *int64
	Atime *time.Time
	Mtime *time.Time
}

// hasSize reports whether the request carries a size change.
func (a SetAttr) hasSize() bool {
	return a.Size != nil
}

// toStat converts backend metadata to a Stat for n.
func toStat(md storage.Attributes, n *Node) *Stat {
	return &Stat{
		Mode:    n.mode,
		Nlink:   1,
		Size:    md.Size,
		Atime:   md.ModificationTime,
		Mtime:   md.ModificationTime,
		Ctime:   md.ModificationTime,
		Blksize: BlockSize,
		Blocks:  blocksFor(md.Size),
	}
}

// blocksFor returns ceil(size / BlockSize).
func blocksFor(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + BlockSize - 1) / BlockSize
}

// dirAttributes synthesizes metadata for an in-memory directory.
func dirAttributes(n *Node) storage.Attributes {
	return storage.Attributes{Size: 0, ModificationTime: n.ctime}
}
