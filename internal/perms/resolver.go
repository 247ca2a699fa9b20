package perms

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// computeGrant resolves the full grant state for one user straight from the
// store, ignoring the cache. Rules referencing nodes or assets that no longer
// exist are skipped silently; zero rules yield an empty grant, not an error.
func (s *Service) computeGrant(ctx context.Context, userID uuid.UUID) (*ResolvedGrant, error) {
	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rules, err := s.store.RulesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	rg := &ResolvedGrant{
		UserID:     userID,
		Nodes:      make(map[string]*NodeGrant),
		ResolvedAt: time.Now().UTC(),
	}

	for _, rule := range rules {
		if !rule.IsNodeScoped() {
			continue
		}
		nodes, err := s.store.DescendantNodes(ctx, rule.NodeKey)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		profile := ruleProfile(rule)
		for _, node := range nodes {
			grant := ensureNodeGrant(rg, node)
			if rule.AllAssets {
				grant.AllAssets = true
				if grant.Actions == nil {
					grant.Actions = make(ActionProfile, len(profile))
				}
				grant.Actions.Merge(profile)
			}
		}
	}

	for _, rule := range rules {
		if rule.IsNodeScoped() {
			continue
		}
		nodes, err := s.store.AssetNodes(ctx, rule.AssetID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		profile := ruleProfile(rule)
		for _, node := range nodes {
			grant := ensureNodeGrant(rg, node)
			if grant.Assets == nil {
				grant.Assets = make(map[uuid.UUID]ActionProfile)
			}
			if existing, ok := grant.Assets[rule.AssetID]; ok {
				existing.Merge(profile)
			} else {
				grant.Assets[rule.AssetID] = profile.Clone()
			}
		}
	}

	return rg, nil
}

func ensureNodeGrant(rg *ResolvedGrant, node Node) *NodeGrant {
	if grant, ok := rg.Nodes[node.Key]; ok {
		return grant
	}
	grant := &NodeGrant{Node: node}
	rg.Nodes[node.Key] = grant
	return grant
}

func ruleProfile(rule GrantRule) ActionProfile {
	profile := make(ActionProfile, len(rule.SystemUsers))
	for _, id := range rule.SystemUsers {
		profile[id] = profile[id].Union(rule.Actions)
	}
	return profile
}

// collectAssets flattens the grant into a deduplicated asset list, visiting
// only nodes accepted by keep. Actions for an asset granted through multiple
// paths are unioned. Inactive assets are excluded.
func (s *Service) collectAssets(ctx context.Context, rg *ResolvedGrant, keep func(key string) bool) ([]AssetGrant, error) {
	merged := make(map[uuid.UUID]*AssetGrant)

	keys := make([]string, 0, len(rg.Nodes))
	for key := range rg.Nodes {
		if keep == nil || keep(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		grant := rg.Nodes[key]
		if grant.AllAssets {
			assets, err := s.store.AssetsLinkedToNode(ctx, key)
			if err != nil {
				return nil, err
			}
			for _, asset := range assets {
				mergeAsset(merged, asset, grant.Actions)
			}
		}
		if len(grant.Assets) == 0 {
			continue
		}
		ids := make([]uuid.UUID, 0, len(grant.Assets))
		for id := range grant.Assets {
			ids = append(ids, id)
		}
		assets, err := s.store.AssetsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, asset := range assets {
			mergeAsset(merged, asset, grant.Assets[asset.ID])
		}
	}

	result := make([]AssetGrant, 0, len(merged))
	for _, grant := range merged {
		result = append(result, *grant)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Asset.Hostname != result[j].Asset.Hostname {
			return result[i].Asset.Hostname < result[j].Asset.Hostname
		}
		return result[i].Asset.ID.String() < result[j].Asset.ID.String()
	})
	return result, nil
}

func mergeAsset(merged map[uuid.UUID]*AssetGrant, asset Asset, profile ActionProfile) {
	if !asset.IsActive {
		return
	}
	grant, ok := merged[asset.ID]
	if !ok {
		grant = &AssetGrant{Asset: asset, SystemUsers: make(ActionProfile, len(profile))}
		merged[asset.ID] = grant
	}
	grant.SystemUsers.Merge(profile)
}

// assetProfile merges the per-system-user actions for a single asset across
// every contributing grant path. The second return is false when no path
// grants the asset at all.
func (s *Service) assetProfile(ctx context.Context, rg *ResolvedGrant, assetID uuid.UUID) (ActionProfile, bool, error) {
	profile := make(ActionProfile)
	granted := false

	for _, grant := range rg.Nodes {
		if p, ok := grant.Assets[assetID]; ok {
			profile.Merge(p)
			granted = true
		}
	}

	nodes, err := s.store.AssetNodes(ctx, assetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return profile, granted, nil
		}
		return nil, false, err
	}
	for _, node := range nodes {
		grant, ok := rg.Nodes[node.Key]
		if !ok || !grant.AllAssets {
			continue
		}
		profile.Merge(grant.Actions)
		granted = true
	}
	return profile, granted, nil
}
