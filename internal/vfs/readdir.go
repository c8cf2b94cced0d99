package vfs

// Readdir lists the children of directory n by scanning the key space for
// the directory's child prefix and keeping each key's last segment.
//
// The prefix scan does not know about nesting: keys of deeper descendants
// share the prefix, so their leaf names show up as if they were direct
// children, and colliding segments can repeat a name. Callers that need an
// exact listing of nested trees cannot get it from this scheme.
// In-memory directories have no keys and are not listed here.
func (fs *FS) Readdir(n *Node) ([]string, error) {
	defer fs.track("readdir")()
	fs.log.Debugf("[VFS] readdir: node=%d name=%q", n.id, n.name)

	if !n.IsDir() {
		return nil, ENOTDIR
	}
	keys, err := fs.backend.ListByPrefix(fs.codec.ChildPrefix(fs.keyOf(n)))
	if err != nil {
		return nil, Translate(err)
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, fs.codec.DecodeLeafName(key))
	}
	return names, nil
}
