package perms

import (
	"sort"
	"strings"
)

// RootKey identifies the synthetic root every resolved tree hangs off. It is
// never a real node key.
const RootKey = ""

// Tree is the materialized node hierarchy of one ResolvedGrant. Parent-child
// edges are derived purely from key structure: a node's parent is the longest
// strict key-prefix among reachable nodes, and nodes with no reachable
// ancestor attach directly under the synthetic root.
type Tree struct {
	entries  map[string]*NodeGrant
	children map[string][]string
}

// BuildTree derives the tree from a resolved grant. A grant with zero
// reachable nodes yields a tree containing only the synthetic root.
func BuildTree(rg *ResolvedGrant) *Tree {
	t := &Tree{
		entries:  make(map[string]*NodeGrant, len(rg.Nodes)),
		children: make(map[string][]string),
	}
	for key, grant := range rg.Nodes {
		t.entries[key] = grant
	}
	for key := range t.entries {
		parent := t.parentKey(key)
		t.children[parent] = append(t.children[parent], key)
	}
	for _, keys := range t.children {
		sort.Strings(keys)
	}
	return t
}

// Root returns the synthetic root key.
func (t *Tree) Root() string {
	return RootKey
}

// Get returns the grant entry for a node key.
func (t *Tree) Get(key string) (*NodeGrant, bool) {
	grant, ok := t.entries[key]
	return grant, ok
}

// Children returns the direct children of key, ordered by node key.
func (t *Tree) Children(key string) []*NodeGrant {
	keys := t.children[key]
	grants := make([]*NodeGrant, 0, len(keys))
	for _, k := range keys {
		grants = append(grants, t.entries[k])
	}
	return grants
}

// Keys returns every reachable node key in sorted order.
func (t *Tree) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of reachable nodes, excluding the synthetic root.
func (t *Tree) Len() int {
	return len(t.entries)
}

// parentKey walks the key prefixes at ":" boundaries until it finds a
// reachable ancestor, falling back to the synthetic root.
func (t *Tree) parentKey(key string) string {
	for {
		idx := strings.LastIndex(key, ":")
		if idx < 0 {
			return RootKey
		}
		key = key[:idx]
		if _, ok := t.entries[key]; ok {
			return key
		}
	}
}
