package perms

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/citadel-pam/citadel/internal/platform/db"
)

// Repository is the PostgreSQL backed GrantStore. Permission rules live in
// asset_permissions with junction tables per subject and target; rules are
// flattened to one GrantRule per (permission, node) and (permission, asset).
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ GrantStore = (*Repository)(nil)

// UserExists reports whether the user is known and active.
func (r *Repository) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_active)`, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// RulesForUser returns every flattened rule granted to the user directly or
// via group membership. Expired and disabled permissions are excluded. The
// three reads run in one snapshot so a concurrent rule change cannot produce
// a permission row without its targets.
func (r *Repository) RulesForUser(ctx context.Context, userID uuid.UUID) ([]GrantRule, error) {
	var rules []GrantRule
	err := db.WithSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		rules, err = rulesForUser(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func rulesForUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]GrantRule, error) {
	rows, err := tx.Query(ctx, `
		SELECT p.id, p.actions,
		       COALESCE(array_agg(ps.system_user_id) FILTER (WHERE ps.system_user_id IS NOT NULL), '{}')
		FROM asset_permissions p
		LEFT JOIN asset_permission_system_users ps ON ps.permission_id = p.id
		WHERE p.is_active
		  AND p.date_expired > now()
		  AND (
		    EXISTS (
		      SELECT 1 FROM asset_permission_users pu
		      WHERE pu.permission_id = p.id AND pu.user_id = $1
		    )
		    OR EXISTS (
		      SELECT 1 FROM asset_permission_groups pg
		      JOIN user_groups ug ON ug.group_id = pg.group_id
		      WHERE pg.permission_id = p.id AND ug.user_id = $1
		    )
		  )
		GROUP BY p.id, p.actions`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type permission struct {
		actions     ActionSet
		systemUsers []uuid.UUID
	}
	permissions := make(map[uuid.UUID]permission)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		var actions int64
		var systemUsers []uuid.UUID
		if err := rows.Scan(&id, &actions, &systemUsers); err != nil {
			return nil, err
		}
		permissions[id] = permission{actions: ActionSet(actions), systemUsers: systemUsers}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var rules []GrantRule

	nodeRows, err := tx.Query(ctx, `
		SELECT pn.permission_id, n.key
		FROM asset_permission_nodes pn
		JOIN nodes n ON n.id = pn.node_id
		WHERE pn.permission_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var permID uuid.UUID
		var key string
		if err := nodeRows.Scan(&permID, &key); err != nil {
			return nil, err
		}
		p := permissions[permID]
		rules = append(rules, GrantRule{
			ID:          permID,
			NodeKey:     key,
			SystemUsers: p.systemUsers,
			Actions:     p.actions,
			AllAssets:   true,
		})
	}
	if err := nodeRows.Err(); err != nil {
		return nil, err
	}

	assetRows, err := tx.Query(ctx, `
		SELECT pa.permission_id, pa.asset_id
		FROM asset_permission_assets pa
		WHERE pa.permission_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer assetRows.Close()
	for assetRows.Next() {
		var permID, assetID uuid.UUID
		if err := assetRows.Scan(&permID, &assetID); err != nil {
			return nil, err
		}
		p := permissions[permID]
		rules = append(rules, GrantRule{
			ID:          permID,
			AssetID:     assetID,
			SystemUsers: p.systemUsers,
			Actions:     p.actions,
		})
	}
	if err := assetRows.Err(); err != nil {
		return nil, err
	}

	return rules, nil
}

// NodeByKey fetches one node by key.
func (r *Repository) NodeByKey(ctx context.Context, key string) (Node, error) {
	return r.scanNode(r.pool.QueryRow(ctx,
		`SELECT id, key, name FROM nodes WHERE key = $1`, key))
}

// NodeByID fetches one node by id.
func (r *Repository) NodeByID(ctx context.Context, id uuid.UUID) (Node, error) {
	return r.scanNode(r.pool.QueryRow(ctx,
		`SELECT id, key, name FROM nodes WHERE id = $1`, id))
}

func (r *Repository) scanNode(row pgx.Row) (Node, error) {
	var node Node
	if err := row.Scan(&node.ID, &node.Key, &node.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, ErrNotFound
		}
		return Node{}, err
	}
	return node, nil
}

// DescendantNodes returns the node and its whole subtree, ordered by key.
func (r *Repository) DescendantNodes(ctx context.Context, key string) ([]Node, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, key, name
		FROM nodes
		WHERE key = $1 OR key LIKE $1 || ':%'
		ORDER BY key`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	nodes, err := collectNodes(rows)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNotFound
	}
	return nodes, nil
}

// AssetNodes returns the nodes an asset is directly linked to.
func (r *Repository) AssetNodes(ctx context.Context, assetID uuid.UUID) ([]Node, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM assets WHERE id = $1)`, assetID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	rows, err := r.pool.Query(ctx, `
		SELECT n.id, n.key, n.name
		FROM nodes n
		JOIN asset_nodes an ON an.node_id = n.id
		WHERE an.asset_id = $1
		ORDER BY n.key`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNodes(rows)
}

// AssetByID fetches one asset.
func (r *Repository) AssetByID(ctx context.Context, id uuid.UUID) (Asset, error) {
	var asset Asset
	err := r.pool.QueryRow(ctx,
		`SELECT id, hostname, ip, is_active FROM assets WHERE id = $1`, id).
		Scan(&asset.ID, &asset.Hostname, &asset.IP, &asset.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, ErrNotFound
		}
		return Asset{}, err
	}
	return asset, nil
}

// AssetsByIDs returns the assets that still exist among ids.
func (r *Repository) AssetsByIDs(ctx context.Context, ids []uuid.UUID) ([]Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, hostname, ip, is_active
		FROM assets
		WHERE id = ANY($1)
		ORDER BY hostname, id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssetRows(rows)
}

// AssetsLinkedToNode returns assets directly linked to the node with the
// given key.
func (r *Repository) AssetsLinkedToNode(ctx context.Context, key string) ([]Asset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.hostname, a.ip, a.is_active
		FROM assets a
		JOIN asset_nodes an ON an.asset_id = a.id
		JOIN nodes n ON n.id = an.node_id
		WHERE n.key = $1
		ORDER BY a.hostname, a.id`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAssetRows(rows)
}

// SystemUsersByIDs returns the system users that still exist among ids.
func (r *Repository) SystemUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]SystemUser, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, username, priority
		FROM system_users
		WHERE id = ANY($1)
		ORDER BY priority, name`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sysUsers []SystemUser
	for rows.Next() {
		var su SystemUser
		if err := rows.Scan(&su.ID, &su.Name, &su.Username, &su.Priority); err != nil {
			return nil, err
		}
		sysUsers = append(sysUsers, su)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sysUsers, nil
}

func collectNodes(rows pgx.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		var node Node
		if err := rows.Scan(&node.ID, &node.Key, &node.Name); err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func collectAssetRows(rows pgx.Rows) ([]Asset, error) {
	var assets []Asset
	for rows.Next() {
		var asset Asset
		if err := rows.Scan(&asset.ID, &asset.Hostname, &asset.IP, &asset.IsActive); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}
