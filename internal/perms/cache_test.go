package perms

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, ttl), mr
}

func TestParseCachePolicy(t *testing.T) {
	assert.Equal(t, PolicyRefresh, ParseCachePolicy("1"))
	assert.Equal(t, PolicyRefresh, ParseCachePolicy("force"))
	assert.Equal(t, PolicyRefresh, ParseCachePolicy(" FORCE "))
	assert.Equal(t, PolicyDefault, ParseCachePolicy("0"))
	assert.Equal(t, PolicyDefault, ParseCachePolicy(""))
	assert.Equal(t, PolicyDefault, ParseCachePolicy("2"))
	assert.Equal(t, PolicyDefault, ParseCachePolicy("garbage"))
}

func TestCachePutGetRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	rg := &ResolvedGrant{
		UserID: uuid.New(),
		Nodes: map[string]*NodeGrant{
			"a": {
				Node:      Node{ID: uuid.New(), Key: "a", Name: "A"},
				AllAssets: true,
				Actions:   ActionProfile{uuid.New(): ActionConnect | ActionUpload},
			},
		},
		ResolvedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, cache.Put(ctx, rg))

	got, ok, err := cache.Get(ctx, rg.UserID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rg.UserID, got.UserID)
	assert.Equal(t, rg.Nodes["a"].Actions, got.Nodes["a"].Actions)
	assert.True(t, got.Nodes["a"].AllAssets)
}

func TestCacheMiss(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	_, ok, err := cache.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheVersionInitializesToOne(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ver, err := cache.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)
}

func TestExpireAllHidesEveryEntry(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	first := &ResolvedGrant{UserID: uuid.New(), Nodes: map[string]*NodeGrant{}}
	second := &ResolvedGrant{UserID: uuid.New(), Nodes: map[string]*NodeGrant{}}
	require.NoError(t, cache.Put(ctx, first))
	require.NoError(t, cache.Put(ctx, second))

	require.NoError(t, cache.ExpireAll(ctx))

	for _, rg := range []*ResolvedGrant{first, second} {
		_, ok, err := cache.Get(ctx, rg.UserID)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestPutAfterExpireAllReadable(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.ExpireAll(ctx))

	rg := &ResolvedGrant{UserID: uuid.New(), Nodes: map[string]*NodeGrant{}}
	require.NoError(t, cache.Put(ctx, rg))

	_, ok, err := cache.Get(ctx, rg.UserID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	rg := &ResolvedGrant{UserID: uuid.New(), Nodes: map[string]*NodeGrant{}}
	require.NoError(t, cache.Put(ctx, rg))

	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, rg.UserID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNilCacheIsInert(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, cache.Put(ctx, &ResolvedGrant{UserID: uuid.New()}))
	require.NoError(t, cache.ExpireAll(ctx))
	require.NoError(t, cache.ListenForInvalidation(ctx))
}
