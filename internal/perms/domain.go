package perms

import (
	"time"

	"github.com/google/uuid"
)

// Node is a hierarchical grouping of assets. Key encodes the tree position:
// a node is a descendant of another iff its key starts with the ancestor's
// key plus ":".
type Node struct {
	ID   uuid.UUID `json:"id"`
	Key  string    `json:"key"`
	Name string    `json:"name"`
}

// IsAncestorOf reports whether n is a strict ancestor of the given key.
func (n Node) IsAncestorOf(key string) bool {
	return isAncestorKey(n.Key, key)
}

// Asset is a managed target resource that login accounts connect to.
type Asset struct {
	ID       uuid.UUID `json:"id"`
	Hostname string    `json:"hostname"`
	IP       string    `json:"ip"`
	IsActive bool      `json:"is_active"`
}

// SystemUser is a named credential profile usable on assets. Lower priority
// sorts first when callers pick a default account.
type SystemUser struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Username string    `json:"username"`
	Priority int       `json:"priority"`
}

// GrantRule is one flattened permission rule binding a user (directly or via
// a group) to a node subtree or a single asset. Exactly one of NodeKey and
// AssetID is set.
type GrantRule struct {
	ID          uuid.UUID
	NodeKey     string
	AssetID     uuid.UUID
	SystemUsers []uuid.UUID
	Actions     ActionSet
	// AllAssets marks a node rule as granting every asset beneath the node.
	// Node rules that are silent on assets only make the subtree reachable.
	AllAssets bool
}

// IsNodeScoped reports whether the rule targets a node subtree.
func (r GrantRule) IsNodeScoped() bool {
	return r.NodeKey != ""
}

// ActionProfile maps a system user id to its merged actions on one asset.
type ActionProfile map[uuid.UUID]ActionSet

// Merge unions another profile into this one, most-permissive-wins.
func (p ActionProfile) Merge(o ActionProfile) {
	for id, actions := range o {
		p[id] = p[id].Union(actions)
	}
}

// Clone returns an independent copy.
func (p ActionProfile) Clone() ActionProfile {
	c := make(ActionProfile, len(p))
	for id, actions := range p {
		c[id] = actions
	}
	return c
}

// NodeGrant is the resolved grant state of one reachable node.
type NodeGrant struct {
	Node Node `json:"node"`
	// AllAssets means every asset linked under this node is granted with the
	// node-level Actions profile. Otherwise only the explicit Assets entries
	// are granted here.
	AllAssets bool `json:"all_assets"`
	// Actions applies to every asset covered by AllAssets.
	Actions ActionProfile `json:"actions,omitempty"`
	// Assets holds asset-specific grants attached to this node.
	Assets map[uuid.UUID]ActionProfile `json:"assets,omitempty"`
}

// ResolvedGrant is the computed, cacheable authorization result for one user:
// every reachable node keyed by Node.Key, each carrying its asset scope and
// per-system-user actions.
type ResolvedGrant struct {
	UserID     uuid.UUID             `json:"user_id"`
	Nodes      map[string]*NodeGrant `json:"nodes"`
	ResolvedAt time.Time             `json:"resolved_at"`
}

// AssetGrant is one granted asset with actions merged across every rule and
// node path that contributed it.
type AssetGrant struct {
	Asset       Asset         `json:"asset"`
	SystemUsers ActionProfile `json:"system_users"`
}

// SystemUserActions pairs a system user with its merged actions on one asset.
type SystemUserActions struct {
	SystemUser SystemUser `json:"system_user"`
	Actions    ActionSet  `json:"actions"`
}

func isAncestorKey(ancestor, key string) bool {
	return len(key) > len(ancestor) &&
		key[:len(ancestor)] == ancestor &&
		key[len(ancestor)] == ':'
}
