package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
)

// snapshot 图谱的 JSON 持久化格式。
// 实体按 ID 排序后写出，同一图两次快照字节一致。
type snapshot struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// SaveSnapshot 将整个图写入 JSON 快照文件。
func (g *MemoryGraph) SaveSnapshot(path string) error {
	g.mu.RLock()
	snap := snapshot{
		Entities:  make([]Entity, 0, len(g.entities)),
		Relations: append([]Relation(nil), g.relations...),
	}
	for _, e := range g.entities {
		snap.Entities = append(snap.Entities, e)
	}
	g.mu.RUnlock()

	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].ID < snap.Entities[j].ID })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal graph snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write graph snapshot: %w", err)
	}

	g.logger.Info("graph snapshot saved",
		zap.String("path", path),
		zap.Int("entities", len(snap.Entities)),
		zap.Int("relations", len(snap.Relations)),
	)
	return nil
}

// LoadSnapshot 从快照文件重建内存图。
// 文件不存在时错误满足 errors.Is(err, os.ErrNotExist)，调用方可据此回退到空图。
func LoadSnapshot(path string, logger *zap.Logger) (*MemoryGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse graph snapshot %s: %w", path, err)
	}

	g := NewMemoryGraph(logger)
	for _, e := range snap.Entities {
		if err := g.AddEntity(e); err != nil {
			return nil, err
		}
	}
	for _, r := range snap.Relations {
		if err := g.AddRelation(r); err != nil {
			return nil, fmt.Errorf("restore graph snapshot %s: %w", path, err)
		}
	}

	g.logger.Info("graph snapshot loaded",
		zap.String("path", path),
		zap.Int("entities", len(snap.Entities)),
		zap.Int("relations", len(snap.Relations)),
	)
	return g, nil
}
