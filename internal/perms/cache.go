package perms

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "perms:version"
	bumpChannel     = "perms.bump"
)

// CachePolicy selects between cached reads and forced recomputation.
type CachePolicy int

const (
	// PolicyDefault serves a cached result when present and not expired.
	PolicyDefault CachePolicy = iota
	// PolicyRefresh bypasses the cache, recomputes and overwrites.
	PolicyRefresh
)

// ParseCachePolicy maps the caller-supplied flag to a policy. Only "1" and
// "force" request a refresh; any other value behaves as the default.
func ParseCachePolicy(raw string) CachePolicy {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "1", "force":
		return PolicyRefresh
	default:
		return PolicyDefault
	}
}

// Cache stores resolved grants in Redis with a TTL. Invalidation is a global
// epoch bump: incrementing the version key makes every stored entry
// unreadable at once, there is no per-user invalidation.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache epoch, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// Get loads the cached grant for a user. The second return is false on a miss.
func (c *Cache) Get(ctx context.Context, userID uuid.UUID) (*ResolvedGrant, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	key, err := c.userKey(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rg ResolvedGrant
	if err := json.Unmarshal(payload, &rg); err != nil {
		return nil, false, err
	}
	return &rg, true, nil
}

// Put stores the grant under the current epoch.
func (c *Cache) Put(ctx context.Context, rg *ResolvedGrant) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.userKey(ctx, rg.UserID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rg)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// ExpireAll drops every cached grant by incrementing the epoch and publishes
// the bump so other processes pick it up.
func (c *Cache) ExpireAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation subscribes to epoch bump notifications so local reads
// converge after a remote ExpireAll.
func (c *Cache) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload != "" {
					if ver, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil {
						_ = c.client.Set(ctx, cacheVersionKey, ver, 0).Err()
						continue
					}
				}
				_ = c.client.Incr(ctx, cacheVersionKey).Err()
			}
		}
	}()
	return nil
}

func (c *Cache) userKey(ctx context.Context, userID uuid.UUID) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("perms:user:%s:%d", userID, ver), nil
}
