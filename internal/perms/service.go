package perms

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Service is the asset authorization resolution engine: it answers every
// grant query for a user from a cached ResolvedGrant, recomputing from the
// GrantStore on miss or forced refresh. Concurrent misses for the same user
// collapse into a single computation.
type Service struct {
	store    GrantStore
	cache    *Cache
	logger   *slog.Logger
	observer ResolutionObserver
	flight   singleflight.Group
}

// ResolutionObserver counts resolutions by cache outcome.
type ResolutionObserver interface {
	ObserveResolution(outcome string)
}

// NewService wires the engine with its rule store and cache.
func NewService(store GrantStore, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// WithObserver attaches a resolution metrics observer.
func (s *Service) WithObserver(o ResolutionObserver) *Service {
	s.observer = o
	return s
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveResolution(outcome)
	}
}

// Resolve returns the user's resolved grant, honoring the cache policy. Cache
// outages degrade to direct computation; they never fail the request. Failed
// computations are never cached.
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID, policy CachePolicy) (*ResolvedGrant, error) {
	outcome := "refresh"
	if policy != PolicyRefresh {
		rg, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("perms cache read failed, computing directly", slog.Any("error", err))
		}
		if ok {
			s.observe("hit")
			return rg, nil
		}
		outcome = "miss"
	}

	ch := s.flight.DoChan(userID.String(), func() (interface{}, error) {
		rg, err := s.computeGrant(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Put(ctx, rg); err != nil {
			s.logger.Warn("perms cache write failed", slog.Any("error", err))
		}
		return rg, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s.observe(outcome)
		return res.Val.(*ResolvedGrant), nil
	}
}

// ExpireAllCache drops every cached grant for every user. This is the only
// administrative cache reset, used after bulk rule changes.
func (s *Service) ExpireAllCache(ctx context.Context) error {
	return s.cache.ExpireAll(ctx)
}

// GetUserTree returns the user's authorized node hierarchy.
func (s *Service) GetUserTree(ctx context.Context, userID uuid.UUID, policy CachePolicy) (*Tree, error) {
	rg, err := s.Resolve(ctx, userID, policy)
	if err != nil {
		return nil, err
	}
	return BuildTree(rg), nil
}

// GetNodes returns every node the user is granted, ordered by key.
func (s *Service) GetNodes(ctx context.Context, userID uuid.UUID, policy CachePolicy) ([]Node, error) {
	rg, err := s.Resolve(ctx, userID, policy)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(rg.Nodes))
	for _, grant := range rg.Nodes {
		nodes = append(nodes, grant.Node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
	return nodes, nil
}

// AssetFilter narrows a granted asset listing. Hostname and IP are
// case-insensitive substring matches; NodeID restricts to one node, directly
// or with its whole subtree.
type AssetFilter struct {
	Hostname string
	IP       string
	NodeID   uuid.UUID
	Subtree  bool
}

func (f AssetFilter) matches(asset Asset) bool {
	if f.Hostname != "" && !strings.Contains(strings.ToLower(asset.Hostname), strings.ToLower(f.Hostname)) {
		return false
	}
	if f.IP != "" && !strings.Contains(asset.IP, f.IP) {
		return false
	}
	return true
}

// GetAssets returns every asset the user is granted, deduplicated, each with
// its merged per-system-user actions.
func (s *Service) GetAssets(ctx context.Context, userID uuid.UUID, filter AssetFilter, policy CachePolicy) ([]AssetGrant, error) {
	rg, err := s.Resolve(ctx, userID, policy)
	if err != nil {
		return nil, err
	}

	keep := func(string) bool { return true }
	if filter.NodeID != uuid.Nil {
		node, err := s.store.NodeByID(ctx, filter.NodeID)
		if err != nil {
			return nil, err
		}
		keep = nodeScopeFilter(node.Key, filter.Subtree)
	}

	grants, err := s.collectAssets(ctx, rg, keep)
	if err != nil {
		return nil, err
	}
	filtered := grants[:0]
	for _, grant := range grants {
		if filter.matches(grant.Asset) {
			filtered = append(filtered, grant)
		}
	}
	return filtered, nil
}

// GetNodeAssets returns granted assets under one node: only those bound
// directly to it, or, with deep, the full subtree.
func (s *Service) GetNodeAssets(ctx context.Context, userID, nodeID uuid.UUID, deep bool, policy CachePolicy) ([]AssetGrant, error) {
	node, err := s.store.NodeByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	rg, err := s.Resolve(ctx, userID, policy)
	if err != nil {
		return nil, err
	}
	return s.collectAssets(ctx, rg, nodeScopeFilter(node.Key, deep))
}

func nodeScopeFilter(key string, deep bool) func(string) bool {
	return func(candidate string) bool {
		if candidate == key {
			return true
		}
		return deep && isAncestorKey(key, candidate)
	}
}

// GetAssetSystemUsers returns the system users granted on one asset with
// their merged actions, ordered by ascending priority then name.
func (s *Service) GetAssetSystemUsers(ctx context.Context, userID, assetID uuid.UUID, policy CachePolicy) ([]SystemUserActions, error) {
	asset, err := s.store.AssetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if !asset.IsActive {
		return nil, nil
	}
	rg, err := s.Resolve(ctx, userID, policy)
	if err != nil {
		return nil, err
	}
	profile, granted, err := s.assetProfile(ctx, rg, assetID)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(profile))
	for id := range profile {
		ids = append(ids, id)
	}
	sysUsers, err := s.store.SystemUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	result := make([]SystemUserActions, 0, len(sysUsers))
	for _, su := range sysUsers {
		result = append(result, SystemUserActions{SystemUser: su, Actions: profile[su.ID]})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SystemUser.Priority != result[j].SystemUser.Priority {
			return result[i].SystemUser.Priority < result[j].SystemUser.Priority
		}
		return result[i].SystemUser.Name < result[j].SystemUser.Name
	})
	return result, nil
}

// AssetActions returns the merged ActionSet one system user holds on one
// asset. An asset or account outside the user's grants yields zero, not an
// error.
func (s *Service) AssetActions(ctx context.Context, userID, assetID, systemUserID uuid.UUID, policy CachePolicy) (ActionSet, error) {
	asset, err := s.store.AssetByID(ctx, assetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if !asset.IsActive {
		return 0, nil
	}
	rg, err := s.Resolve(ctx, userID, policy)
	if err != nil {
		return 0, err
	}
	profile, _, err := s.assetProfile(ctx, rg, assetID)
	if err != nil {
		return 0, err
	}
	return profile[systemUserID], nil
}

// ValidateAssetPermission reports whether the user may perform the named
// action on the asset with the given system user.
func (s *Service) ValidateAssetPermission(ctx context.Context, userID, assetID, systemUserID uuid.UUID, action string, policy CachePolicy) (bool, error) {
	actions, err := s.AssetActions(ctx, userID, assetID, systemUserID, policy)
	if err != nil {
		return false, err
	}
	return actions.Contains(action), nil
}

// NodeChildren returns the direct children of one granted node, or, when both
// key and id are empty, the synthetic root's children with their own children
// pre-opened. The second return lists the root-level keys that were opened.
func (s *Service) NodeChildren(ctx context.Context, userID uuid.UUID, key string, nodeID uuid.UUID, policy CachePolicy) ([]*NodeGrant, []string, error) {
	tree, err := s.GetUserTree(ctx, userID, policy)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case nodeID != uuid.Nil:
		node, err := s.store.NodeByID(ctx, nodeID)
		if err != nil {
			return nil, nil, err
		}
		return tree.Children(node.Key), nil, nil
	case key != "":
		node, err := s.store.NodeByKey(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		return tree.Children(node.Key), nil, nil
	}

	children := tree.Children(tree.Root())
	rootKeys := make([]string, 0, len(children))
	for _, child := range children {
		rootKeys = append(rootKeys, child.Node.Key)
	}
	for _, rk := range rootKeys {
		children = append(children, tree.Children(rk)...)
	}
	return children, rootKeys, nil
}

// NodeChildrenTree materializes the children listing for tree renderers,
// optionally with asset leaves under the focused nodes. The result carries
// the total, stable ordering of SortViews.
func (s *Service) NodeChildrenTree(ctx context.Context, userID uuid.UUID, key string, nodeID uuid.UUID, withAssets bool, policy CachePolicy) ([]TreeNodeView, error) {
	children, rootKeys, err := s.NodeChildren(ctx, userID, key, nodeID, policy)
	if err != nil {
		return nil, err
	}
	tree, err := s.GetUserTree(ctx, userID, policy)
	if err != nil {
		return nil, err
	}

	opened := make(map[string]bool, len(rootKeys))
	for _, rk := range rootKeys {
		opened[rk] = true
	}
	views := make([]TreeNodeView, 0, len(children))
	for _, child := range children {
		views = append(views, tree.MaterializeNode(child, opened[child.Node.Key]))
	}

	if withAssets {
		rg, err := s.Resolve(ctx, userID, policy)
		if err != nil {
			return nil, err
		}
		focus := rootKeys
		if nodeID != uuid.Nil || key != "" {
			node, err := s.resolveNodeRef(ctx, key, nodeID)
			if err != nil {
				return nil, err
			}
			focus = []string{node.Key}
		}
		for _, fk := range focus {
			grant, ok := tree.Get(fk)
			if !ok {
				continue
			}
			assets, err := s.collectAssets(ctx, rg, nodeScopeFilter(fk, false))
			if err != nil {
				return nil, err
			}
			for _, asset := range assets {
				views = append(views, MaterializeAsset(grant.Node, asset))
			}
		}
	}

	SortViews(views)
	return views, nil
}

func (s *Service) resolveNodeRef(ctx context.Context, key string, nodeID uuid.UUID) (Node, error) {
	if nodeID != uuid.Nil {
		return s.store.NodeByID(ctx, nodeID)
	}
	return s.store.NodeByKey(ctx, key)
}
