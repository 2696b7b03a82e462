package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
)

func newCacheRepo(t *testing.T) (*CacheRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheRepository(client, "transport", nil), mr
}

func TestCacheRepositorySetGet(t *testing.T) {
	repo, mr := newCacheRepo(t)
	ctx := context.Background()

	payload := map[string]int{"open": 3, "resolved": 1}
	require.NoError(t, repo.Set(ctx, "grievance:dashboard:a1:month", payload, time.Minute))

	var got map[string]int
	require.NoError(t, repo.Get(ctx, "grievance:dashboard:a1:month", &got))
	assert.Equal(t, payload, got)

	mr.FastForward(2 * time.Minute)
	err := repo.Get(ctx, "grievance:dashboard:a1:month", &got)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
}

func TestCacheRepositoryDeleteByPattern(t *testing.T) {
	repo, mr := newCacheRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "grievance:dashboard:a1:week", 1, time.Minute))
	require.NoError(t, repo.Set(ctx, "grievance:analytics:month", 2, time.Minute))
	require.NoError(t, repo.Set(ctx, "gps:live", 3, time.Minute))

	require.NoError(t, repo.DeleteByPattern(ctx, "grievance:*"))

	assert.False(t, mr.Exists("transport:grievance:dashboard:a1:week"))
	assert.False(t, mr.Exists("transport:grievance:analytics:month"))
	assert.True(t, mr.Exists("transport:gps:live"))
}

func TestCacheRepositoryCorruptEntryIsMiss(t *testing.T) {
	repo, mr := newCacheRepo(t)
	require.NoError(t, mr.Set("transport:gps:live", "{not json"))

	var dest []string
	err := repo.Get(context.Background(), "gps:live", &dest)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.False(t, mr.Exists("transport:gps:live"))
}

func TestCacheRepositoryDeleteSpansScanPages(t *testing.T) {
	repo, mr := newCacheRepo(t)
	ctx := context.Background()
	for i := 0; i < 3*scanBatch; i++ {
		require.NoError(t, repo.Set(ctx, fmt.Sprintf("grievance:dashboard:%d", i), i, time.Minute))
	}
	require.NoError(t, mr.Set("other:grievance:dashboard:x", "1"))

	require.NoError(t, repo.DeleteByPattern(ctx, "grievance:*"))
	assert.Len(t, mr.Keys(), 1)
}

func TestCacheRepositoryNilClient(t *testing.T) {
	repo := NewCacheRepository(nil, "", nil)
	var dest string
	assert.ErrorIs(t, repo.Get(context.Background(), "k", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "k", "v", time.Second))
	assert.NoError(t, repo.DeleteByPattern(context.Background(), "*"))
	assert.NoError(t, repo.Ping(context.Background()))
}
