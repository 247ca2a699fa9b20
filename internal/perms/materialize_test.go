package perms

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeNodeParentLinkage(t *testing.T) {
	rg := grantFor("a", "a:b:c")
	tree := BuildTree(rg)

	top, _ := tree.Get("a")
	view := tree.MaterializeNode(top, true)
	assert.Equal(t, top.Node.ID.String(), view.ID)
	assert.Equal(t, "", view.ParentID)
	assert.True(t, view.IsParent)
	assert.True(t, view.Open)
	assert.Equal(t, "node", view.Meta.Type)

	// a:b is unreachable, so a:b:c links to a.
	deep, _ := tree.Get("a:b:c")
	view = tree.MaterializeNode(deep, false)
	assert.Equal(t, top.Node.ID.String(), view.ParentID)
	assert.False(t, view.Open)
}

func TestMaterializeAsset(t *testing.T) {
	owner := Node{ID: uuid.New(), Key: "a", Name: "A"}
	asset := Asset{ID: uuid.New(), Hostname: "web-1", IP: "10.0.0.1", IsActive: true}
	profile := ActionProfile{uuid.New(): ActionConnect}

	view := MaterializeAsset(owner, AssetGrant{Asset: asset, SystemUsers: profile})
	assert.Equal(t, asset.ID.String(), view.ID)
	assert.Equal(t, "web-1", view.Name)
	assert.Equal(t, "10.0.0.1", view.Title)
	assert.Equal(t, owner.ID.String(), view.ParentID)
	assert.False(t, view.IsParent)
	require.NotNil(t, view.Meta.Asset)
	assert.Equal(t, profile, view.Meta.Asset.SystemUsers)
}

func TestSortViewsTotalOrdering(t *testing.T) {
	nodeA := TreeNodeView{ID: "2", Meta: TreeNodeMeta{Type: "node"}}
	nodeB := TreeNodeView{ID: "1", Meta: TreeNodeMeta{Type: "node"}}
	assetA := TreeNodeView{ID: "9", Name: "web-1", Meta: TreeNodeMeta{Type: "asset", Asset: &AssetLeafMeta{NodeID: "1"}}}
	assetB := TreeNodeView{ID: "8", Name: "db-1", Meta: TreeNodeMeta{Type: "asset", Asset: &AssetLeafMeta{NodeID: "1"}}}
	assetC := TreeNodeView{ID: "7", Name: "db-1", Meta: TreeNodeMeta{Type: "asset", Asset: &AssetLeafMeta{NodeID: "0"}}}

	views := []TreeNodeView{assetA, nodeA, assetB, nodeB, assetC}
	SortViews(views)

	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	// Nodes first by id, then assets by owning node id, hostname, id.
	assert.Equal(t, []string{"1", "2", "7", "8", "9"}, ids)
}

func TestSortViewsStableOnTies(t *testing.T) {
	first := TreeNodeView{ID: "5", Name: "same", Meta: TreeNodeMeta{Type: "asset", Asset: &AssetLeafMeta{NodeID: "n"}}}
	second := TreeNodeView{ID: "5", Name: "same", Title: "marker", Meta: TreeNodeMeta{Type: "asset", Asset: &AssetLeafMeta{NodeID: "n"}}}

	views := []TreeNodeView{first, second}
	SortViews(views)
	assert.Equal(t, "", views[0].Title)
	assert.Equal(t, "marker", views[1].Title)
}
