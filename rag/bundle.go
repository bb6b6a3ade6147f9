package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Origin 上下文条目的来源通道。
type Origin string

const (
	OriginVector Origin = "vector" // 向量最近邻
	OriginGraph  Origin = "graph"  // 图谱遍历
)

// Provenance 记录条目的可追溯出处，作为引用返回给调用方。
type Provenance struct {
	Origin           Origin   `json:"origin"`
	ChunkID          string   `json:"chunk_id,omitempty"`
	SourceDocumentID string   `json:"source_document_id,omitempty"`
	EntityID         string   `json:"entity_id,omitempty"`
	Path             []string `json:"path,omitempty"` // 图遍历路径（关系类型序列）
	Hops             int      `json:"hops,omitempty"`
}

// Ref 返回出处的紧凑字符串形式，用于答案引用与审计日志。
func (p Provenance) Ref() string {
	switch p.Origin {
	case OriginGraph:
		if len(p.Path) > 0 {
			return fmt.Sprintf("graph:%s[%s]", p.EntityID, strings.Join(p.Path, "->"))
		}
		return "graph:" + p.EntityID
	default:
		if p.SourceDocumentID != "" {
			return fmt.Sprintf("vector:%s@%s", p.ChunkID, p.SourceDocumentID)
		}
		return "vector:" + p.ChunkID
	}
}

// ContextItem 融合后的一条上下文，Score ∈ [0,1]（已乘权重）。
type ContextItem struct {
	Origin     Origin     `json:"origin"`
	Content    string     `json:"content"`
	Score      float64    `json:"score"`
	Provenance Provenance `json:"provenance"`
}

// Fingerprint 返回条目的去重指纹：来源通道 + 内容的 SHA-256。
// 同一指纹的条目在 bundle 中只保留得分最高的一条。
func (i ContextItem) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(i.Origin))
	h.Write([]byte{0})
	h.Write([]byte(i.Content))
	return hex.EncodeToString(h.Sum(nil))
}

// ContextBundle 一次检索尝试产出的上下文集合。
// Items 已去重、按 Score 降序（同分按指纹升序）排列，
// 且满足条目数与 token 预算约束。
type ContextBundle struct {
	Items       []ContextItem `json:"items"`
	TokenCount  int           `json:"token_count"`
	Sufficiency float64       `json:"sufficiency"` // 评估得分，未评估时为 0
}

// Empty 报告 bundle 是否不含任何条目。
func (b ContextBundle) Empty() bool {
	return len(b.Items) == 0
}

// Citations 返回所有条目的出处，顺序与 Items 一致。
func (b ContextBundle) Citations() []Provenance {
	if len(b.Items) == 0 {
		return nil
	}
	out := make([]Provenance, len(b.Items))
	for i, item := range b.Items {
		out[i] = item.Provenance
	}
	return out
}

// SoftFailure 一次可恢复的分支失败，随尝试历史上报但不中断查询。
type SoftFailure struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

func (f SoftFailure) String() string {
	return f.Component + ": " + f.Message
}
