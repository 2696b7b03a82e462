package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/transport-admin-api/internal/repository"
)

type failingCacheRepo struct{}

func (failingCacheRepo) Get(context.Context, string, interface{}) error {
	return errors.New("redis down")
}

func (failingCacheRepo) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("redis down")
}

func (failingCacheRepo) DeleteByPattern(context.Context, string) error {
	return errors.New("redis down")
}

func TestCachedLoadsOnceThenHits(t *testing.T) {
	cache := NewCacheService(newMemoryCache(), NewMetricsService(), time.Minute, nil, true)
	calls := 0
	load := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	v, hit, err := cached(context.Background(), cache, "k", time.Minute, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 42, v)

	v, hit, err = cached(context.Background(), cache, "k", time.Minute, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestCachedDegradesWhenCacheFails(t *testing.T) {
	cache := NewCacheService(failingCacheRepo{}, nil, time.Minute, nil, true)
	v, hit, err := cached(context.Background(), cache, "k", time.Minute, func(context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", v)
}

func TestCacheServiceDisabled(t *testing.T) {
	cache := NewCacheService(repository.NewCacheRepository(nil, "", nil), nil, 0, nil, false)
	assert.False(t, cache.Enabled())
	hit, err := cache.Get(context.Background(), "k", new(string))
	assert.NoError(t, err)
	assert.False(t, hit)
}

func TestCachedCollapsesConcurrentMisses(t *testing.T) {
	cache := NewCacheService(newMemoryCache(), nil, time.Minute, nil, true)
	var loads int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := cached(context.Background(), cache, "grievance:dashboard:a1", time.Minute, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestJitterStaysWithinTenPercent(t *testing.T) {
	for i := 0; i < 200; i++ {
		got := jitter(time.Minute)
		assert.GreaterOrEqual(t, got, 54*time.Second)
		assert.LessOrEqual(t, got, 66*time.Second)
	}
	assert.Equal(t, 5*time.Nanosecond, jitter(5*time.Nanosecond))
}

func TestInvalidateAttemptsEveryPattern(t *testing.T) {
	mem := newMemoryCache()
	cache := NewCacheService(mem, nil, time.Minute, nil, true)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "grievance:dashboard:a1", 1, 0))
	require.NoError(t, cache.Set(ctx, "gps:live", 2, 0))

	require.NoError(t, cache.Invalidate(ctx, "grievance:*", "gps:live"))
	assert.False(t, mem.has("grievance:dashboard:a1"))
	assert.False(t, mem.has("gps:live"))

	failing := NewCacheService(failingCacheRepo{}, nil, time.Minute, nil, true)
	assert.Error(t, failing.Invalidate(ctx, "a*", "b*"))
}
