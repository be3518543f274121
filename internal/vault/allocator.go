// Package vault computes collision-resistant, per-owner storage keys and
// enforces that reads never escape the owner's namespace.
package vault

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Allocator maps owners to disjoint subtrees of the object store keyspace.
type Allocator struct {
	prefix string
}

// NewAllocator constructs an Allocator rooted at prefix ("resources" by
// default).
func NewAllocator(prefix string) *Allocator {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "resources"
	}
	return &Allocator{prefix: prefix}
}

// Allocate returns a storage key under the owner's subtree. The UUID suffix
// guarantees concurrent uploads of the same filename by the same owner never
// collide.
func (a *Allocator) Allocate(ownerID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("%s/%s/%s%s", a.prefix, ownerID, uuid.NewString(), ext)
}

// Authorize reports whether key resolves inside the owner's subtree. The key
// is canonicalized first so traversal sequences cannot satisfy a raw string
// prefix test while escaping the namespace. Called on every read path, not
// only at write time.
func (a *Allocator) Authorize(key, ownerID string) bool {
	if ownerID == "" || strings.ContainsAny(ownerID, "/\\") {
		return false
	}
	if strings.Contains(key, "\\") || strings.Contains(key, "\x00") {
		return false
	}
	cleaned := path.Clean("/" + key)
	ownerRoot := "/" + a.prefix + "/" + ownerID + "/"
	if !strings.HasPrefix(cleaned, ownerRoot) {
		return false
	}
	// path.Clean resolves "..", so anything left under the owner root is a
	// plain object name.
	rest := strings.TrimPrefix(cleaned, ownerRoot)
	return rest != "" && rest != "."
}
