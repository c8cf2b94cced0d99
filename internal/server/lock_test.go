package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockStore(t *testing.T) {
	t.Parallel()

	store := filepath.Join(t.TempDir(), "store.db")
	lock, err := LockStore(store)
	require.NoError(t, err)
	assert.FileExists(t, LockPath(store))

	_, err = LockStore(store)
	assert.ErrorIs(t, err, ErrStoreLocked)

	require.NoError(t, lock.Unlock())
	again, err := LockStore(store)
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}
