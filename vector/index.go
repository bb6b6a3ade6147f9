// Package vector 提供向量索引的统一接口与实现。
//
// Index 是检索核心消费的窄接口：最近邻搜索返回按相似度降序、
// 同分按 chunk ID 升序的确定性结果。后端不可达以
// INDEX_UNAVAILABLE 软失败上报，由调用方降级处理。
package vector

import (
	"context"
)

// Chunk 是一段已摄取的文档文本及其嵌入。存储后不可变。
type Chunk struct {
	ID               string         `json:"id"`
	Text             string         `json:"text"`
	Embedding        []float64      `json:"embedding,omitempty"`
	SourceDocumentID string         `json:"source_document_id,omitempty"`
	OffsetStart      int            `json:"offset_start,omitempty"`
	OffsetEnd        int            `json:"offset_end,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Hit 表示一次最近邻搜索命中，Score ∈ [0,1]。
type Hit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Index 向量索引接口。
type Index interface {
	// AddChunks 添加文档块（摄取路径，检索核心只调用 Search）。
	AddChunks(ctx context.Context, chunks []Chunk) error

	// Search 返回与 queryEmbedding 最相近的至多 k 个命中，
	// 按 Score 降序排列，同分按 Chunk.ID 升序保证确定性。
	Search(ctx context.Context, queryEmbedding []float64, k int) ([]Hit, error)

	// Count 返回索引中的块数量。
	Count(ctx context.Context) (int, error)

	// Dimensions 返回索引配置的向量维度，0 表示尚未固定。
	Dimensions() int
}
