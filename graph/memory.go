package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/corag/types"
)

// MemoryGraph 内存知识图谱。
type MemoryGraph struct {
	entities  map[string]Entity
	relations []Relation
	outEdges  map[string][]int // entityID -> relation indexes
	inEdges   map[string][]int
	byName    map[string][]string // lowercased name -> entityIDs
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewMemoryGraph 创建内存知识图谱。
func NewMemoryGraph(logger *zap.Logger) *MemoryGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryGraph{
		entities: make(map[string]Entity),
		outEdges: make(map[string][]int),
		inEdges:  make(map[string][]int),
		byName:   make(map[string][]string),
		logger:   logger.With(zap.String("component", "memory_graph")),
	}
}

// AddEntity 添加实体。重复 ID 覆盖旧实体。
func (g *MemoryGraph) AddEntity(entity Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entity.ID == "" {
		entity.ID = fmt.Sprintf("entity_%d", time.Now().UnixNano())
	}
	if old, ok := g.entities[entity.ID]; ok {
		g.removeNameIndex(old)
	}
	g.entities[entity.ID] = entity

	key := strings.ToLower(entity.Name)
	g.byName[key] = append(g.byName[key], entity.ID)
	return nil
}

func (g *MemoryGraph) removeNameIndex(e Entity) {
	key := strings.ToLower(e.Name)
	ids := g.byName[key]
	for i, id := range ids {
		if id == e.ID {
			g.byName[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// AddRelation 添加关系。两端实体必须已存在。
func (g *MemoryGraph) AddRelation(relation Relation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[relation.FromID]; !ok {
		return fmt.Errorf("relation references unknown entity %s", relation.FromID)
	}
	if _, ok := g.entities[relation.ToID]; !ok {
		return fmt.Errorf("relation references unknown entity %s", relation.ToID)
	}

	idx := len(g.relations)
	g.relations = append(g.relations, relation)
	g.outEdges[relation.FromID] = append(g.outEdges[relation.FromID], idx)
	g.inEdges[relation.ToID] = append(g.inEdges[relation.ToID], idx)
	return nil
}

// LookupEntities 按名称查找实体：先精确匹配（大小写不敏感），
// 再做子串模糊匹配。结果按实体 ID 排序保证确定性。
func (g *MemoryGraph) LookupEntities(ctx context.Context, terms []string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var results []Entity

	for _, term := range terms {
		key := strings.ToLower(strings.TrimSpace(term))
		if key == "" {
			continue
		}

		for _, id := range g.byName[key] {
			if !seen[id] {
				seen[id] = true
				results = append(results, g.entities[id])
			}
		}

		// 模糊：名称包含查询词
		for id, e := range g.entities {
			if seen[id] {
				continue
			}
			if strings.Contains(strings.ToLower(e.Name), key) {
				seen[id] = true
				results = append(results, e)
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// Traverse 从种子出发的 BFS 遍历，显式 visited 集合保证环图终止。
func (g *MemoryGraph) Traverse(ctx context.Context, seeds []Entity, maxHops int) ([]TraversalHit, error) {
	if seeds == nil {
		return nil, types.NewError(types.ErrMalformedGraphQuery, "seeds must not be nil").
			WithComponent("memory_graph")
	}
	if maxHops < 0 {
		return nil, types.NewError(types.ErrMalformedGraphQuery,
			fmt.Sprintf("maxHops must be >= 0, got %d", maxHops)).
			WithComponent("memory_graph")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	var hits []TraversalHit
	var frontier []TraversalHit

	for _, seed := range seeds {
		e, ok := g.entities[seed.ID]
		if !ok || visited[seed.ID] {
			continue
		}
		visited[seed.ID] = true
		hit := TraversalHit{Entity: e, Hops: 0}
		hits = append(hits, hit)
		frontier = append(frontier, hit)
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []TraversalHit
		for _, cur := range frontier {
			for _, idx := range g.outEdges[cur.Entity.ID] {
				rel := g.relations[idx]
				next = g.visit(cur, rel, rel.ToID, hop, visited, next)
			}
			for _, idx := range g.inEdges[cur.Entity.ID] {
				rel := g.relations[idx]
				next = g.visit(cur, rel, rel.FromID, hop, visited, next)
			}
		}
		hits = append(hits, next...)
		frontier = next
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Hops != hits[j].Hops {
			return hits[i].Hops < hits[j].Hops
		}
		return hits[i].Entity.ID < hits[j].Entity.ID
	})

	g.logger.Debug("traversal completed",
		zap.Int("seeds", len(seeds)),
		zap.Int("max_hops", maxHops),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}

func (g *MemoryGraph) visit(cur TraversalHit, rel Relation, targetID string, hop int, visited map[string]bool, next []TraversalHit) []TraversalHit {
	if visited[targetID] {
		return next
	}
	target, ok := g.entities[targetID]
	if !ok {
		return next
	}
	visited[targetID] = true

	path := make([]Relation, len(cur.Path), len(cur.Path)+1)
	copy(path, cur.Path)
	path = append(path, rel)

	return append(next, TraversalHit{Entity: target, Path: path, Hops: hop})
}

// Count 返回实体数量。
func (g *MemoryGraph) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}
