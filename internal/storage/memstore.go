package storage

import (
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// memEntry is the content of one key. Handles point at the entry, not the
// key, so an open handle keeps working after Unlink or Rename.
type memEntry struct {
	data  []byte
	mtime time.Time
}

// MemStore is an in-memory Backend. It counts backend-level opens and
// closes so callers can verify handle sharing.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time

	opens  int
	closes int
}

// NewMemStore creates an empty in-memory key space.
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Open implements Backend.
func (s *MemStore) Open(key string, create bool) (Handle, error) {
	if err := validateKey("open", key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		if !create {
			return nil, newError("open", key, syscall.ENOENT)
		}
		entry = &memEntry{data: []byte{}, mtime: s.now()}
		s.entries[key] = entry
	}
	s.opens++
	return &memHandle{store: s, key: key, entry: entry}, nil
}

// SetAttributes implements Backend.
func (s *MemStore) SetAttributes(key string, attrs Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return newError("setattr", key, syscall.ENOENT)
	}
	return s.truncateLocked(key, entry, attrs.Size)
}

func (s *MemStore) truncateLocked(key string, entry *memEntry, size int64) error {
	if size < 0 {
		return newError("setattr", key, syscall.EINVAL)
	}
	// mtime is left alone on truncation, mirroring the native backend.
	entry.data = resize(entry.data, size)
	return nil
}

// Exists implements Backend.
func (s *MemStore) Exists(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

// Rename implements Backend.
func (s *MemStore) Rename(oldKey, newKey string) error {
	if err := validateKey("rename", newKey); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[oldKey]
	if !ok {
		return newError("rename", oldKey, syscall.ENOENT)
	}
	if oldKey == newKey {
		return nil
	}
	delete(s.entries, oldKey)
	s.entries[newKey] = entry
	return nil
}

// Unlink implements Backend.
func (s *MemStore) Unlink(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return newError("unlink", key, syscall.ENOENT)
	}
	delete(s.entries, key)
	return nil
}

// ListByPrefix implements Backend.
func (s *MemStore) ListByPrefix(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0)
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Stats returns how many backend handles were opened and closed.
func (s *MemStore) Stats() (opens, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

// memHandle is a Handle on a MemStore entry.
type memHandle struct {
	store  *MemStore
	key    string
	entry  *memEntry
	closed bool
}

func (h *memHandle) Read(position int64, length int) ([]byte, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.closed {
		return nil, newError("read", h.key, syscall.EBADF)
	}
	if position < 0 {
		return nil, newError("read", h.key, syscall.EINVAL)
	}
	return readAt(h.entry.data, position, length), nil
}

func (h *memHandle) Write(data []byte, position int64) (int, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.closed {
		return 0, newError("write", h.key, syscall.EBADF)
	}
	if position < 0 {
		return 0, newError("write", h.key, syscall.EINVAL)
	}
	h.entry.data = writeAt(h.entry.data, data, position)
	h.entry.mtime = h.store.now()
	return len(data), nil
}

func (h *memHandle) Close() error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.closed {
		return newError("close", h.key, syscall.EBADF)
	}
	h.closed = true
	h.store.closes++
	return nil
}

func (h *memHandle) GetAttributes() (Attributes, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.closed {
		return Attributes{}, newError("getattr", h.key, syscall.EBADF)
	}
	return Attributes{Size: int64(len(h.entry.data)), ModificationTime: h.entry.mtime}, nil
}

func (h *memHandle) SetAttributes(attrs Attributes) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.closed {
		return newError("setattr", h.key, syscall.EBADF)
	}
	return h.store.truncateLocked(h.key, h.entry, attrs.Size)
}
