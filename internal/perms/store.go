package perms

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound indicates that the requested user, node or asset does not exist.
var ErrNotFound = errors.New("perms: not found")

// GrantStore is the raw, uncached rule storage the engine resolves against.
// Implementations must already collapse group membership: RulesForUser returns
// rules granted to the user directly and via any of the user's groups.
type GrantStore interface {
	// UserExists reports whether the user is known and active.
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)

	// RulesForUser returns every flattened grant rule applying to the user.
	RulesForUser(ctx context.Context, userID uuid.UUID) ([]GrantRule, error)

	// NodeByKey fetches one node, ErrNotFound when absent.
	NodeByKey(ctx context.Context, key string) (Node, error)

	// NodeByID fetches one node, ErrNotFound when absent.
	NodeByID(ctx context.Context, id uuid.UUID) (Node, error)

	// DescendantNodes returns the node with the given key and every node
	// beneath it, ordered by key. ErrNotFound when the key itself is unknown.
	DescendantNodes(ctx context.Context, key string) ([]Node, error)

	// AssetNodes returns the nodes an asset is directly linked to.
	// ErrNotFound when the asset is unknown.
	AssetNodes(ctx context.Context, assetID uuid.UUID) ([]Node, error)

	// AssetByID fetches one asset, ErrNotFound when absent.
	AssetByID(ctx context.Context, id uuid.UUID) (Asset, error)

	// AssetsByIDs returns the assets that still exist among ids; missing ids
	// are skipped, not errors.
	AssetsByIDs(ctx context.Context, ids []uuid.UUID) ([]Asset, error)

	// AssetsLinkedToNode returns assets directly linked to the node with the
	// given key, excluding subtree membership.
	AssetsLinkedToNode(ctx context.Context, key string) ([]Asset, error)

	// SystemUsersByIDs returns the system users that still exist among ids.
	SystemUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]SystemUser, error)
}
