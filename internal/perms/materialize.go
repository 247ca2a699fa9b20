package perms

import "sort"

// TreeNodeView is the generic, serializable tree entry consumed by external
// tree renderers: one entry per node, one leaf entry per visible asset.
type TreeNodeView struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Title    string       `json:"title"`
	ParentID string       `json:"pId"`
	IsParent bool         `json:"isParent"`
	Open     bool         `json:"open"`
	Meta     TreeNodeMeta `json:"meta"`
}

// TreeNodeMeta tags a view entry with its source record.
type TreeNodeMeta struct {
	Type  string         `json:"type"`
	Node  *Node          `json:"node,omitempty"`
	Asset *AssetLeafMeta `json:"asset,omitempty"`
}

// AssetLeafMeta carries the asset payload of a leaf entry, including the
// owning node and the merged actions per system user.
type AssetLeafMeta struct {
	Asset       Asset         `json:"asset"`
	NodeID      string        `json:"node_id"`
	SystemUsers ActionProfile `json:"system_users"`
}

// MaterializeNode renders one granted node. The parent linkage comes from the
// tree so detached subtrees still hang off the synthetic root.
func (t *Tree) MaterializeNode(grant *NodeGrant, open bool) TreeNodeView {
	parentID := ""
	if parentKey := t.parentKey(grant.Node.Key); parentKey != RootKey {
		if parent, ok := t.Get(parentKey); ok {
			parentID = parent.Node.ID.String()
		}
	}
	return TreeNodeView{
		ID:       grant.Node.ID.String(),
		Name:     grant.Node.Name,
		Title:    grant.Node.Name,
		ParentID: parentID,
		IsParent: true,
		Open:     open,
		Meta:     TreeNodeMeta{Type: "node", Node: &grant.Node},
	}
}

// MaterializeAsset renders one granted asset as a leaf under its owning node.
func MaterializeAsset(owner Node, grant AssetGrant) TreeNodeView {
	asset := grant.Asset
	return TreeNodeView{
		ID:       asset.ID.String(),
		Name:     asset.Hostname,
		Title:    asset.IP,
		ParentID: owner.ID.String(),
		IsParent: false,
		Meta: TreeNodeMeta{
			Type: "asset",
			Asset: &AssetLeafMeta{
				Asset:       asset,
				NodeID:      owner.ID.String(),
				SystemUsers: grant.SystemUsers,
			},
		},
	}
}

// SortViews orders entries totally and stably: nodes before assets, nodes by
// id, assets ascending by owning node id then hostname.
func SortViews(views []TreeNodeView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if (a.Meta.Type == "node") != (b.Meta.Type == "node") {
			return a.Meta.Type == "node"
		}
		if a.Meta.Type == "node" {
			return a.ID < b.ID
		}
		if a.Meta.Asset.NodeID != b.Meta.Asset.NodeID {
			return a.Meta.Asset.NodeID < b.Meta.Asset.NodeID
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
