package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyfs/internal/storage"
)

func TestHandleManager(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemStore()
	h, err := mem.Open("_f", true)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	tr := newTree()
	root := tr.add(nil, "/", DefaultDirMode)
	n := tr.add(root, "f", DefaultFileMode)
	hm := NewHandleManager(mem, func(n *Node) string { return "_" + n.name })

	h1, err := hm.Acquire(n)
	require.NoError(t, err)
	h2, err := hm.Acquire(n)
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 2, n.RefCount())
	assert.Equal(t, 1, hm.Live())

	require.NoError(t, hm.Release(n))
	assert.True(t, n.HasHandle())
	require.NoError(t, hm.Release(n))
	assert.False(t, n.HasHandle())
	assert.Equal(t, 0, hm.Live())

	opened, closed := hm.Counts()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)

	// Extra releases are harmless once the handle is gone.
	require.NoError(t, hm.Release(n))
	assert.Equal(t, 0, n.RefCount())
}

func TestHandleManager_AcquireFailure(t *testing.T) {
	t.Parallel()

	tr := newTree()
	root := tr.add(nil, "/", DefaultDirMode)
	n := tr.add(root, "missing", DefaultFileMode)
	hm := NewHandleManager(storage.NewMemStore(), func(n *Node) string { return "_" + n.name })

	_, err := hm.Acquire(n)
	assert.ErrorIs(t, err, ENOENT)
	assert.Equal(t, 0, n.RefCount())
	assert.False(t, n.HasHandle())
	assert.Equal(t, 0, hm.Live())
}

func TestHandleManager_CloseAllDetached(t *testing.T) {
	t.Parallel()

	mem := storage.NewMemStore()
	for _, k := range []string{"_a", "_b"} {
		h, err := mem.Open(k, true)
		require.NoError(t, err)
		require.NoError(t, h.Close())
	}
	tr := newTree()
	root := tr.add(nil, "/", DefaultDirMode)
	a := tr.add(root, "a", DefaultFileMode)
	b := tr.add(root, "b", DefaultFileMode)
	hm := NewHandleManager(mem, func(n *Node) string { return "_" + n.name })

	_, err := hm.Acquire(a)
	require.NoError(t, err)
	_, err = hm.Acquire(b)
	require.NoError(t, err)
	_, err = hm.Acquire(b)
	require.NoError(t, err)
	tr.detach(b)

	require.NoError(t, hm.CloseAll())
	assert.False(t, a.HasHandle())
	assert.False(t, b.HasHandle())
	opens, closes := mem.Stats()
	assert.Equal(t, opens, closes)
}

func TestTreeSegments(t *testing.T) {
	t.Parallel()

	tr := newTree()
	root := tr.add(nil, "/", DefaultDirMode)
	a := tr.add(root, "a", DefaultDirMode)
	f := tr.add(a, "f", DefaultFileMode)

	assert.Empty(t, tr.segments(root))
	assert.Equal(t, []string{"a", "f"}, tr.segments(f))

	b := tr.add(root, "b", DefaultDirMode)
	tr.move(f, b, "g")
	assert.Equal(t, []string{"b", "g"}, tr.segments(f))
	assert.Nil(t, tr.child(a, "f"))
	assert.Same(t, f, tr.child(b, "g"))

	tr.detach(f)
	assert.Nil(t, tr.child(b, "g"))
	assert.Nil(t, tr.get(f.ID()))
}
