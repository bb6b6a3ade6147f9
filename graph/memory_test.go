package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/corag/types"
)

// a -> b -> c -> a 构成环，d 挂在 b 上。
func cyclicGraph(t *testing.T) *MemoryGraph {
	t.Helper()

	g := NewMemoryGraph(zap.NewNop())
	for _, e := range []Entity{
		{ID: "a", Label: "entity", Name: "Alpha"},
		{ID: "b", Label: "entity", Name: "Beta"},
		{ID: "c", Label: "entity", Name: "Gamma"},
		{ID: "d", Label: "entity", Name: "Delta"},
	} {
		require.NoError(t, g.AddEntity(e))
	}
	for _, r := range []Relation{
		{FromID: "a", ToID: "b", Type: "links"},
		{FromID: "b", ToID: "c", Type: "links"},
		{FromID: "c", ToID: "a", Type: "links"},
		{FromID: "b", ToID: "d", Type: "links"},
	} {
		require.NoError(t, g.AddRelation(r))
	}
	return g
}

func TestTraverseTerminatesOnCycle(t *testing.T) {
	t.Parallel()

	g := cyclicGraph(t)
	hits, err := g.Traverse(context.Background(), []Entity{{ID: "a"}}, 10)
	require.NoError(t, err)

	// 每个实体至多访问一次
	seen := make(map[string]int)
	for _, h := range hits {
		seen[h.Entity.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "entity %s visited %d times", id, n)
	}
	assert.Len(t, hits, 4)
}

func TestTraverseRespectsMaxHops(t *testing.T) {
	t.Parallel()

	g := cyclicGraph(t)

	tests := []struct {
		maxHops int
		wantIDs []string
	}{
		{0, []string{"a"}},
		{1, []string{"a", "b", "c"}}, // c reachable via inbound edge c->a
		{2, []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		hits, err := g.Traverse(context.Background(), []Entity{{ID: "a"}}, tt.maxHops)
		require.NoError(t, err)

		var ids []string
		for _, h := range hits {
			ids = append(ids, h.Entity.ID)
			assert.LessOrEqual(t, len(h.Path), tt.maxHops)
			assert.Equal(t, len(h.Path), h.Hops)
		}
		assert.ElementsMatch(t, tt.wantIDs, ids, "maxHops=%d", tt.maxHops)
	}
}

func TestTraverseMalformedQuery(t *testing.T) {
	t.Parallel()

	g := cyclicGraph(t)

	_, err := g.Traverse(context.Background(), []Entity{{ID: "a"}}, -1)
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedGraphQuery, types.GetErrorCode(err))
	assert.True(t, types.IsFatal(err))

	_, err = g.Traverse(context.Background(), nil, 2)
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedGraphQuery, types.GetErrorCode(err))
}

func TestLookupEntitiesExactAndFuzzy(t *testing.T) {
	t.Parallel()

	g := cyclicGraph(t)

	// 精确（大小写不敏感）
	found, err := g.LookupEntities(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a", found[0].ID)

	// 模糊子串
	found, err = g.LookupEntities(context.Background(), []string{"elt"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "d", found[0].ID)

	// 未命中
	found, err = g.LookupEntities(context.Background(), []string{"zzz"})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestAddRelationUnknownEntity(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph(zap.NewNop())
	require.NoError(t, g.AddEntity(Entity{ID: "a", Name: "Alpha"}))

	err := g.AddRelation(Relation{FromID: "a", ToID: "missing", Type: "links"})
	assert.Error(t, err)
}
