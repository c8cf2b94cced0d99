package storage

import (
	"errors"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns a fresh instance of every Backend implementation.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	ks, err := OpenKeyStore(filepath.Join(t.TempDir(), "keys.db"), KeyStoreOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })
	return map[string]Backend{
		"mem":    NewMemStore(),
		"sqlite": ks,
	}
}

func requireCode(t *testing.T, err error, want syscall.Errno) {
	t.Helper()
	require.Error(t, err)
	code, ok := CodeOf(err)
	require.True(t, ok, "expected BackendError, got %T: %v", err, err)
	assert.Equal(t, want, code)
}

func TestBackend_OpenCreate(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Open("_missing", false)
			requireCode(t, err, syscall.ENOENT)

			h, err := b.Open("_a", true)
			require.NoError(t, err)
			attrs, err := h.GetAttributes()
			require.NoError(t, err)
			assert.Equal(t, int64(0), attrs.Size)
			require.NoError(t, h.Close())

			ok, err := b.Exists("_a")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestBackend_ReadWrite(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h, err := b.Open("_f", true)
			require.NoError(t, err)
			defer h.Close()

			n, err := h.Write([]byte("hello world"), 0)
			require.NoError(t, err)
			assert.Equal(t, 11, n)

			got, err := h.Read(6, 100)
			require.NoError(t, err)
			assert.Equal(t, []byte("world"), got)

			// Writing past the end zero-fills the gap.
			_, err = h.Write([]byte("!"), 13)
			require.NoError(t, err)
			got, err = h.Read(0, 14)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello world\x00\x00!"), got)

			got, err = h.Read(100, 4)
			require.NoError(t, err)
			assert.Empty(t, got)

			_, err = h.Read(-1, 4)
			requireCode(t, err, syscall.EINVAL)
		})
	}
}

func TestBackend_Truncate(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h, err := b.Open("_t", true)
			require.NoError(t, err)
			defer h.Close()
			_, err = h.Write([]byte("0123456789"), 0)
			require.NoError(t, err)
			before, err := h.GetAttributes()
			require.NoError(t, err)

			require.NoError(t, h.SetAttributes(Attributes{Size: 4}))
			attrs, err := h.GetAttributes()
			require.NoError(t, err)
			assert.Equal(t, int64(4), attrs.Size)
			assert.Equal(t, before.ModificationTime, attrs.ModificationTime)

			require.NoError(t, b.SetAttributes("_t", Attributes{Size: 6}))
			got, err := h.Read(0, 10)
			require.NoError(t, err)
			assert.Equal(t, []byte("0123\x00\x00"), got)

			requireCode(t, b.SetAttributes("_nope", Attributes{Size: 1}), syscall.ENOENT)
		})
	}
}

func TestBackend_RenameUnlink(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h, err := b.Open("_old", true)
			require.NoError(t, err)
			_, err = h.Write([]byte("data"), 0)
			require.NoError(t, err)
			require.NoError(t, h.Close())

			require.NoError(t, b.Rename("_old", "_new"))
			ok, _ := b.Exists("_old")
			assert.False(t, ok)
			ok, _ = b.Exists("_new")
			assert.True(t, ok)

			requireCode(t, b.Rename("_old", "_other"), syscall.ENOENT)

			require.NoError(t, b.Unlink("_new"))
			ok, _ = b.Exists("_new")
			assert.False(t, ok)
			requireCode(t, b.Unlink("_new"), syscall.ENOENT)
		})
	}
}

func TestBackend_RenameReplacesTarget(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"_a", "_b"} {
				h, err := b.Open(k, true)
				require.NoError(t, err)
				_, err = h.Write([]byte(k), 0)
				require.NoError(t, err)
				require.NoError(t, h.Close())
			}
			require.NoError(t, b.Rename("_a", "_b"))
			keys, err := b.ListByPrefix("_")
			require.NoError(t, err)
			assert.Equal(t, []string{"_b"}, keys)

			h, err := b.Open("_b", false)
			require.NoError(t, err)
			defer h.Close()
			got, err := h.Read(0, 10)
			require.NoError(t, err)
			assert.Equal(t, []byte("_a"), got)
		})
	}
}

func TestBackend_ListByPrefix(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"_d_a", "_d_b", "_da", "_x"} {
				h, err := b.Open(k, true)
				require.NoError(t, err)
				require.NoError(t, h.Close())
			}
			keys, err := b.ListByPrefix("_d_")
			require.NoError(t, err)
			assert.Equal(t, []string{"_d_a", "_d_b"}, keys)

			keys, err = b.ListByPrefix("_zzz")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestBackend_InvalidKey(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Open("a/b", true)
			requireCode(t, err, syscall.EINVAL)
			_, err = b.Open("", true)
			requireCode(t, err, syscall.EINVAL)
		})
	}
}

func TestBackend_ClosedHandle(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h, err := b.Open("_c", true)
			require.NoError(t, err)
			require.NoError(t, h.Close())
			_, err = h.Read(0, 1)
			requireCode(t, err, syscall.EBADF)
			requireCode(t, h.Close(), syscall.EBADF)
		})
	}
}

func TestMemStore_HandleSurvivesUnlink(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	h, err := s.Open("_f", true)
	require.NoError(t, err)
	require.NoError(t, s.Unlink("_f"))

	_, err = h.Write([]byte("still here"), 0)
	require.NoError(t, err)
	got, err := h.Read(0, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), got)
	require.NoError(t, h.Close())

	opens, closes := s.Stats()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
}

func TestKeyStore_HandleSurvivesRename(t *testing.T) {
	ks, err := OpenKeyStore(filepath.Join(t.TempDir(), "keys.db"), KeyStoreOptions{})
	require.NoError(t, err)
	defer ks.Close()

	h, err := ks.Open("_a", true)
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, ks.Rename("_a", "_b"))

	_, err = h.Write([]byte("moved"), 0)
	require.NoError(t, err)

	h2, err := ks.Open("_b", false)
	require.NoError(t, err)
	defer h2.Close()
	got, err := h2.Read(0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("moved"), got)
}

func TestKeyStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")
	ks, err := OpenKeyStore(path, KeyStoreOptions{BusyTimeout: 1000})
	require.NoError(t, err)
	h, err := ks.Open("_persist", true)
	require.NoError(t, err)
	_, err = h.Write([]byte("abc"), 0)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, ks.Close())

	ks, err = OpenKeyStore(path, KeyStoreOptions{})
	require.NoError(t, err)
	defer ks.Close()
	assert.Equal(t, path, ks.Path())
	keys, err := ks.ListByPrefix("")
	require.NoError(t, err)
	assert.Equal(t, []string{"_persist"}, keys)
}

func TestBackendError(t *testing.T) {
	t.Parallel()

	err := newError("open", "_k", syscall.ENOENT)
	assert.Equal(t, -int(syscall.ENOENT), err.Code)
	assert.Contains(t, err.Error(), `open "_k"`)

	wrapped := wrapError("read", "_k", errors.New("disk gone"))
	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, syscall.EIO, code)
	assert.Contains(t, wrapped.Error(), "disk gone")

	// Already-coded errors pass through untouched.
	assert.Same(t, err, wrapError("read", "_k", err))

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}
