package vfs

import (
	"io"

	"github.com/google/uuid"

	"keyfs/internal/storage"
)

// Stream is an open file description: a node, the node's shared backend
// handle while open, and a position for sequential I/O.
type Stream struct {
	id       uuid.UUID
	node     *Node
	handle   storage.Handle
	position int64
	flags    int
	closed   bool
}

// ID identifies the stream in logs.
func (s *Stream) ID() uuid.UUID { return s.id }

// Node returns the node the stream was opened on.
func (s *Stream) Node() *Node { return s.node }

// Position returns the current stream position.
func (s *Stream) Position() int64 { return s.position }

// Flags returns the open flags.
func (s *Stream) Flags() int { return s.flags }

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool { return s.closed }

// Open creates a stream on n. For files the node's backend handle is
// acquired (opened on first use, shared afterwards).
func (fs *FS) Open(n *Node, flags int) (*Stream, error) {
	defer fs.track("open")()
	s := &Stream{id: uuid.New(), node: n, flags: flags}
	fs.log.Debugf("[VFS] open: node=%d name=%q stream=%s", n.id, n.name, s.id)

	if n.IsFile() {
		h, err := fs.handles.Acquire(n)
		if err != nil {
			return nil, err
		}
		s.handle = h
	}
	return s, nil
}

// Close releases the stream's reference on the node's handle. Closing an
// already closed stream is not an error; the release is still performed.
func (fs *FS) Close(s *Stream) error {
	defer fs.track("close")()
	fs.log.Debugf("[VFS] close: node=%d stream=%s refcount=%d", s.node.id, s.id, s.node.refcount)

	s.closed = true
	if !s.node.IsFile() {
		return nil
	}
	s.handle = nil
	return fs.handles.Release(s.node)
}

// Fsync is a no-op: backend writes are durable or flushed by the backend.
func (fs *FS) Fsync(s *Stream) error {
	fs.log.Debugf("[VFS] fsync: stream=%s", s.id)
	return nil
}

// ioHandle returns the handle to use for data I/O on s.
func (s *Stream) ioHandle() (storage.Handle, error) {
	if s.handle != nil {
		return s.handle, nil
	}
	if s.node.IsDir() {
		return nil, EISDIR
	}
	return nil, EBADF
}

// checkRange validates a (buffer, offset, length) triple.
func checkRange(buf []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset > len(buf) || length > len(buf)-offset {
		return EINVAL
	}
	return nil
}

// Read copies at most length bytes starting at position into
// buf[offset:]. It returns the number of bytes read, which is short at end
// of file. The stream position is not changed.
func (fs *FS) Read(s *Stream, buf []byte, offset, length int, position int64) (int, error) {
	defer fs.track("read")()
	fs.log.Debugf("[VFS] read: stream=%s len=%d pos=%d", s.id, length, position)

	h, err := s.ioHandle()
	if err != nil {
		return 0, err
	}
	if err := checkRange(buf, offset, length); err != nil {
		return 0, err
	}
	if position < 0 {
		return 0, EINVAL
	}
	data, err := h.Read(position, length)
	if err != nil {
		return 0, Translate(err)
	}
	return copy(buf[offset:offset+length], data), nil
}

// Write stores buf[offset:offset+length] at position and returns the
// number of bytes written. The stream position is not changed.
func (fs *FS) Write(s *Stream, buf []byte, offset, length int, position int64) (int, error) {
	defer fs.track("write")()
	fs.log.Debugf("[VFS] write: stream=%s len=%d pos=%d", s.id, length, position)

	h, err := s.ioHandle()
	if err != nil {
		return 0, err
	}
	if err := checkRange(buf, offset, length); err != nil {
		return 0, err
	}
	if position < 0 {
		return 0, EINVAL
	}
	n, err := h.Write(buf[offset:offset+length], position)
	fs.invalidate(fs.keyOf(s.node))
	if err != nil {
		return n, Translate(err)
	}
	return n, nil
}

// Llseek moves the stream position. whence is io.SeekStart, io.SeekCurrent
// or io.SeekEnd; any other value, or a negative result, is EINVAL.
func (fs *FS) Llseek(s *Stream, offset int64, whence int) (int64, error) {
	defer fs.track("llseek")()
	fs.log.Debugf("[VFS] llseek: stream=%s offset=%d whence=%d", s.id, offset, whence)

	position := offset
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		position += s.position
	case io.SeekEnd:
		size, err := fs.streamSize(s)
		if err != nil {
			return 0, err
		}
		position += size
	default:
		return 0, EINVAL
	}
	if position < 0 {
		return 0, EINVAL
	}
	s.position = position
	return position, nil
}

func (fs *FS) streamSize(s *Stream) (int64, error) {
	if s.handle == nil {
		st, err := fs.Getattr(s.node)
		if err != nil {
			return 0, err
		}
		return st.Size, nil
	}
	md, err := s.handle.GetAttributes()
	if err != nil {
		return 0, Translate(err)
	}
	return md.Size, nil
}

// Mmap is not supported.
func (fs *FS) Mmap(s *Stream, length int, position int64, prot, flags int) ([]byte, error) {
	fs.log.Debugf("[VFS] mmap: stream=%s", s.id)
	return nil, EOPNOTSUPP
}

// Msync is not supported.
func (fs *FS) Msync(s *Stream, buf []byte, offset, length, flags int) error {
	fs.log.Debugf("[VFS] msync: stream=%s", s.id)
	return EOPNOTSUPP
}

// Munmap is not supported.
func (fs *FS) Munmap(s *Stream) error {
	fs.log.Debugf("[VFS] munmap: stream=%s", s.id)
	return EOPNOTSUPP
}
