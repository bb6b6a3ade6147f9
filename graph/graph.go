// Package graph 提供知识图谱存储的统一接口与内存实现。
//
// 检索核心只消费 Store 的两个操作：实体名查找与有界跳数遍历。
// 图可以成环：遍历携带显式 visited 集合保证终止，路径长度受 maxHops 约束。
package graph

import (
	"context"
)

// Entity 知识图谱中的实体节点。
type Entity struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"` // 实体类型（document / person / concept ...）
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relation 实体之间的有向关系。
type Relation struct {
	FromID string  `json:"from_id"`
	ToID   string  `json:"to_id"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight,omitempty"`
}

// TraversalHit 一次遍历命中：实体、到达它的关系路径和跳数。
// 种子实体的 Hops 为 0、Path 为空。
type TraversalHit struct {
	Entity Entity     `json:"entity"`
	Path   []Relation `json:"path,omitempty"`
	Hops   int        `json:"hops"`
}

// Store 图存储接口。
type Store interface {
	// LookupEntities 按名称精确/模糊匹配查找实体。
	LookupEntities(ctx context.Context, terms []string) ([]Entity, error)

	// Traverse 从种子实体出发做至多 maxHops 跳的遍历。
	// 每个实体至多访问一次；maxHops < 0 或 seeds 为 nil 视为构造错误，
	// 返回 MALFORMED_GRAPH_QUERY。
	Traverse(ctx context.Context, seeds []Entity, maxHops int) ([]TraversalHit, error)
}

// Ingestor 图摄取接口（检索核心不调用，由摄取协作方使用）。
type Ingestor interface {
	AddEntity(entity Entity) error
	AddRelation(relation Relation) error
}
