package scratchpad

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeTest 对任意 Store 实现跑同一组行为测试。
func storeTest(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Clear(ctx))

	for i := 0; i < 5; i++ {
		entry := NewEntry("what is raft", "Retrieval",
			fmt.Sprintf("retrieved %d items", i),
			map[string]any{"attempt": i})
		require.NoError(t, store.Log(ctx, entry))
	}

	entries, err := store.Load(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "retrieved 0 items", entries[0].Content)
	assert.Equal(t, "retrieved 4 items", entries[4].Content)

	recent, err := store.Load(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "retrieved 3 items", recent[0].Content)
	assert.Equal(t, "retrieved 4 items", recent[1].Content)

	require.NoError(t, store.Clear(ctx))
	entries, err = store.Load(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStore(t *testing.T) {
	storeTest(t, NewMemoryStore(100))
}

func TestMemoryStoreTrimsToMaxSize(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Log(ctx, NewEntry("q", "Step", fmt.Sprintf("e%d", i), nil)))
	}

	entries, err := store.Load(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e7", entries[0].Content)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(RedisStoreConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	storeTest(t, store)
}

func TestRedisStoreTrimsToMaxEntries(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(RedisStoreConfig{Addr: mr.Addr(), MaxEntries: 3})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Log(ctx, NewEntry("q", "Step", fmt.Sprintf("e%d", i), nil)))
	}

	entries, err := store.Load(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e7", entries[0].Content)
}

func TestGormStore(t *testing.T) {
	store, err := NewGormStore(":memory:", 0)
	require.NoError(t, err)

	storeTest(t, store)
}

func TestGormStoreTrimsToMaxEntries(t *testing.T) {
	store, err := NewGormStore(filepath.Join(t.TempDir(), "pad.db"), 3)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Log(ctx, NewEntry("q", "Step", fmt.Sprintf("e%d", i), nil)))
	}

	entries, err := store.Load(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "e7", entries[0].Content)
}

// 并发写入下裁剪不能把表削过头：插入与裁剪在同一事务内。
func TestGormStoreTrimSurvivesConcurrentWriters(t *testing.T) {
	store, err := NewGormStore(filepath.Join(t.TempDir(), "pad.db"), 5)
	require.NoError(t, err)

	sqlDB, err := store.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				entry := NewEntry("q", "Step", fmt.Sprintf("w%d-e%d", w, i), nil)
				assert.NoError(t, store.Log(context.Background(), entry))
			}
		}(w)
	}
	wg.Wait()

	entries, err := store.Load(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestGormStoreMetadataRoundTrip(t *testing.T) {
	store, err := NewGormStore(":memory:", 0)
	require.NoError(t, err)

	ctx := context.Background()
	entry := NewEntry("q", "Evaluation", "quality fair",
		map[string]any{"score": 0.55, "tags": []any{"low_relevance"}})
	require.NoError(t, store.Log(ctx, entry))

	entries, err := store.Load(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.55, entries[0].Metadata["score"])
}
