package session

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/hive/pkg/agent"
	"github.com/jllopis/hive/pkg/hive"
	"github.com/jllopis/hive/pkg/llm"
)

func testFactory(t *testing.T, builds *atomic.Int32) Factory {
	t.Helper()
	queen, err := agent.New("reception")
	require.NoError(t, err)
	g, err := agent.NewGraph(queen)
	require.NoError(t, err)
	h, err := hive.New(g, hive.WithDefaultContext(map[string]any{"k": "v"}), hive.WithProvider(&llm.MockProvider{}))
	require.NoError(t, err)

	return func(_ context.Context, id string) (*hive.Swarm, error) {
		builds.Add(1)
		time.Sleep(10 * time.Millisecond)
		return h.Spawn(hive.WithSessionID(id))
	}
}

func TestGetBuildsOncePerSession(t *testing.T) {
	var builds atomic.Int32
	c, err := New(testFactory(t, &builds))
	require.NoError(t, err)

	var wg sync.WaitGroup
	swarms := make([]*hive.Swarm, 20)
	for i := range swarms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.Get(context.Background(), "user-1")
			assert.NoError(t, err)
			swarms[i] = s
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, s := range swarms {
		assert.Same(t, swarms[0], s)
	}
	assert.Equal(t, "user-1", swarms[0].ID())

	other, err := c.Get(context.Background(), "user-2")
	require.NoError(t, err)
	assert.NotSame(t, swarms[0], other)
	assert.Equal(t, 2, c.Len())
}

func TestPrewarmKeepsExistingEntry(t *testing.T) {
	var builds atomic.Int32
	c, err := New(testFactory(t, &builds))
	require.NoError(t, err)

	created, err := c.Prewarm(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, created)
	first, ok := c.Peek("user-1")
	require.True(t, ok)

	created, err = c.Prewarm(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, created)

	got, err := c.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Equal(t, int32(1), builds.Load())
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	var builds atomic.Int32
	var evicted []string
	c, err := New(testFactory(t, &builds), WithCapacity(2), WithOnEvict(func(id string, _ *hive.Swarm) {
		evicted = append(evicted, id)
	}))
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "b")
	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "c")

	assert.Equal(t, []string{"b"}, evicted)
	assert.ElementsMatch(t, []string{"a", "c"}, c.Keys())
}

func TestIdleTTLExpiresSessions(t *testing.T) {
	var builds atomic.Int32
	var evictions atomic.Int32
	c, err := New(testFactory(t, &builds), WithIdleTTL(50*time.Millisecond), WithOnEvict(func(string, *hive.Swarm) {
		evictions.Add(1)
	}))
	require.NoError(t, err)

	first, err := c.Get(context.Background(), "user-1")
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)

	second, err := c.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), builds.Load())
	assert.GreaterOrEqual(t, evictions.Load(), int32(1))
}

func TestEvictAndPurge(t *testing.T) {
	var builds atomic.Int32
	var evicted atomic.Int32
	c, err := New(testFactory(t, &builds), WithOnEvict(func(string, *hive.Swarm) { evicted.Add(1) }))
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = c.Get(ctx, "a")
	_, _ = c.Get(ctx, "b")

	assert.True(t, c.Evict("a"))
	assert.False(t, c.Evict("a"))
	_, ok := c.Peek("a")
	assert.False(t, ok)

	c.Purge()
	assert.Zero(t, c.Len())
	assert.Equal(t, int32(2), evicted.Load())
}

func TestFactoryErrorsAreNotCached(t *testing.T) {
	calls := 0
	c, err := New(func(context.Context, string) (*hive.Swarm, error) {
		calls++
		return nil, stderrors.New("no provider")
	})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "user-1")
	require.Error(t, err)
	_, err = c.Get(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Zero(t, c.Len())

	_, err = c.Get(context.Background(), "")
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)
}

func TestAcquiredSwarmOutlivesEviction(t *testing.T) {
	var builds atomic.Int32
	c, err := New(testFactory(t, &builds), WithCapacity(1))
	require.NoError(t, err)
	ctx := context.Background()

	busy, release, err := c.Acquire(ctx, "user-1")
	require.NoError(t, err)

	_, err = c.Get(ctx, "user-2")
	require.NoError(t, err)
	_, ok := c.Peek("user-1")
	require.False(t, ok, "capacity pushed user-1 out of the cache")
	assert.True(t, c.Evict("user-2"))

	again, releaseAgain, err := c.Acquire(ctx, "user-1")
	require.NoError(t, err)
	assert.Same(t, busy, again)
	created, err := c.Prewarm(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int32(2), builds.Load())

	release()
	release()
	s, err := c.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Same(t, busy, s, "still leased by the second turn")

	releaseAgain()
	c.Purge()
	s, err = c.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.NotSame(t, busy, s)
	assert.Equal(t, int32(3), builds.Load())
}
