package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/corag/types"
)

// MemoryIndex 内存向量索引（用于测试和小规模应用）。
type MemoryIndex struct {
	chunks     []Chunk
	dimensions int
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewMemoryIndex 创建内存向量索引。
// dimensions 为 0 时以第一批写入的向量长度为准。
func NewMemoryIndex(dimensions int, logger *zap.Logger) *MemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryIndex{
		dimensions: dimensions,
		logger:     logger.With(zap.String("component", "memory_index")),
	}
}

// AddChunks 添加文档块。维度不一致返回 DIMENSION_MISMATCH。
func (m *MemoryIndex) AddChunks(ctx context.Context, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return types.NewError(types.ErrDimensionMismatch,
				fmt.Sprintf("chunk %s has no embedding", c.ID)).
				WithComponent("memory_index")
		}
		if m.dimensions == 0 {
			m.dimensions = len(c.Embedding)
		}
		if len(c.Embedding) != m.dimensions {
			return types.NewError(types.ErrDimensionMismatch,
				fmt.Sprintf("chunk %s: expected %d dimensions, got %d", c.ID, m.dimensions, len(c.Embedding))).
				WithComponent("memory_index")
		}
	}

	m.chunks = append(m.chunks, chunks...)
	m.logger.Debug("chunks added", zap.Int("count", len(chunks)), zap.Int("total", len(m.chunks)))
	return nil
}

// Search 余弦相似度搜索，分数映射到 [0,1]。
func (m *MemoryIndex) Search(ctx context.Context, queryEmbedding []float64, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimensions != 0 && len(queryEmbedding) != m.dimensions {
		return nil, types.NewError(types.ErrDimensionMismatch,
			fmt.Sprintf("query: expected %d dimensions, got %d", m.dimensions, len(queryEmbedding))).
			WithComponent("memory_index")
	}

	hits := make([]Hit, 0, len(m.chunks))
	for _, c := range m.chunks {
		sim := cosineSimilarity(queryEmbedding, c.Embedding)
		// 余弦 [-1,1] 线性映射到 [0,1]
		hits = append(hits, Hit{Chunk: c, Score: (sim + 1) / 2})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count 返回索引中的块数量。
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

// Dimensions 返回索引维度。
func (m *MemoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimensions
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
