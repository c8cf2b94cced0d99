package commands

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"keyfs/internal/common"
	"keyfs/internal/server"
	"keyfs/internal/storage"
	"keyfs/internal/vfs"
)

// session is one command's view of the store: the SQLite key store, a
// fresh mount over it and the billy adapter used for path operations.
type session struct {
	store *storage.KeyStore
	fs    *vfs.FS
	fsys  *server.BillyAdapter
}

func openSession() (*session, error) {
	store, err := settings.OpenStore()
	if err != nil {
		return nil, err
	}
	fs := vfs.Mount(store, settings.MountOptions(log.StandardLogger(), profiler))
	return &session{
		store: store,
		fs:    fs,
		fsys:  server.NewBillyAdapter(fs),
	}, nil
}

// Close force-closes leftover handles and the store.
func (s *session) Close() error {
	return errors.Join(s.fs.Unmount(), s.store.Close())
}

// materialize creates the in-memory directories leading to p. Directories
// are not stored, so every new mount starts with only the root; a path
// named on the command line implies its parents exist.
func (s *session) materialize(p string) error {
	parent := common.ParentPath(p)
	if parent == "" {
		return nil
	}
	return s.fsys.MkdirAll(parent, 0755)
}
