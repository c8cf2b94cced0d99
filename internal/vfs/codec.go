package vfs

import "strings"

// DefaultSeparator replaces '/' in storage keys; the flat key space does
// not allow path separators.
const DefaultSeparator = "_"

// Codec maps node paths to flat storage keys.
//
// A key is the mount root followed by every name from the root to the node,
// each preceded by the separator. The encoding is not collision-free: a name
// containing the separator can alias another path. That is a known
// limitation of the scheme and is not guarded against.
type Codec struct {
	root string
	sep  string
}

// NewCodec creates a codec. root is the key namespace of the mount root
// (may be empty); an empty sep selects DefaultSeparator.
func NewCodec(root, sep string) *Codec {
	if sep == "" {
		sep = DefaultSeparator
	}
	return &Codec{root: root, sep: sep}
}

// Separator returns the encoding character.
func (c *Codec) Separator() string {
	return c.sep
}

// RootKey returns the key of the mount root.
func (c *Codec) RootKey() string {
	return c.root
}

// Encode joins names (root-to-leaf, excluding the root itself) into a key.
func (c *Codec) Encode(names []string) string {
	var b strings.Builder
	b.WriteString(c.root)
	for _, name := range names {
		b.WriteString(c.sep)
		b.WriteString(name)
	}
	return b.String()
}

// JoinChild appends one segment to a parent key.
func (c *Codec) JoinChild(parentKey, name string) string {
	return parentKey + c.sep + name
}

// ChildPrefix returns the prefix every child key of parentKey starts with.
func (c *Codec) ChildPrefix(parentKey string) string {
	return parentKey + c.sep
}

// DecodeLeafName returns the segment after the last separator.
func (c *Codec) DecodeLeafName(key string) string {
	if i := strings.LastIndex(key, c.sep); i >= 0 {
		return key[i+len(c.sep):]
	}
	return key
}
