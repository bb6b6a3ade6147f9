package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/corag/config"
	"github.com/BaSui01/corag/graph"
	"github.com/BaSui01/corag/types"
	"github.com/BaSui01/corag/vector"
)

func TestNewPipelineFromConfigDefaults(t *testing.T) {
	cfg := config.DefaultConfig()

	p, err := NewPipelineFromConfig(cfg, Deps{
		Index:    vector.NewMemoryIndex(4, nil),
		Graph:    graph.NewMemoryGraph(nil),
		Embedder: &stubEmbedder{dims: 4},
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	require.NotNil(t, p)

	// 空索引 + 空图：查询走完整个纠偏环后以 Exhausted 收尾。
	resp, err := p.Run(context.Background(), "what does Nothing match here?")
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, resp.State)
	assert.Equal(t, ConfidenceLow, resp.Confidence)
	assert.NotEmpty(t, resp.Answer)
	assert.Len(t, resp.Attempts, cfg.Retrieval.MaxRetries+1)
}

func TestNewPipelineFromConfigGraphMode(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retrieval.Mode = config.ModeGraph

	g := graph.NewMemoryGraph(nil)
	require.NoError(t, g.AddEntity(graph.Entity{
		ID: "e1", Label: "concept", Name: "Raft",
		Properties: map[string]any{"text": "Raft is a consensus algorithm."},
	}))

	// graph 模式不需要嵌入与向量索引。
	p, err := NewPipelineFromConfig(cfg, Deps{Graph: g})
	require.NoError(t, err)

	resp, err := p.Run(context.Background(), "explain Raft consensus")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	require.NotEmpty(t, resp.Attempts)
	for _, item := range resp.Attempts[0].Bundle.Items {
		assert.Equal(t, OriginGraph, item.Origin)
	}
}

func TestNewPipelineFromConfigLoadsGraphSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "graph.json")

	src := graph.NewMemoryGraph(nil)
	require.NoError(t, src.AddEntity(graph.Entity{
		ID: "e1", Label: "concept", Name: "Raft",
		Properties: map[string]any{"text": "Raft is a consensus algorithm."},
	}))
	require.NoError(t, src.SaveSnapshot(snapshotPath))

	cfg := config.DefaultConfig()
	cfg.Retrieval.Mode = config.ModeGraph
	cfg.Graph.SnapshotPath = snapshotPath

	// Deps.Graph 为 nil：工厂从快照恢复图谱。
	p, err := NewPipelineFromConfig(cfg, Deps{})
	require.NoError(t, err)

	resp, err := p.Run(context.Background(), "explain Raft consensus")
	require.NoError(t, err)
	require.NotEmpty(t, resp.Attempts)
	assert.NotEmpty(t, resp.Attempts[0].Bundle.Items)

	// 快照损坏属致命装配错误
	require.NoError(t, os.WriteFile(snapshotPath, []byte("{broken"), 0o644))
	_, err = NewPipelineFromConfig(cfg, Deps{})
	require.Error(t, err)

	// 快照缺失回退到空图
	cfg.Graph.SnapshotPath = filepath.Join(dir, "absent.json")
	_, err = NewPipelineFromConfig(cfg, Deps{})
	require.NoError(t, err)
}

func TestNewPipelineFromConfigWithCompletionProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Judge.Kind = config.JudgeModel

	index := vector.NewMemoryIndex(4, nil)
	require.NoError(t, index.AddChunks(context.Background(), []vector.Chunk{
		{ID: "c1", Text: "model judged evidence", Embedding: []float64{1, 0, 0, 0}},
	}))

	p, err := NewPipelineFromConfig(cfg, Deps{
		Index:      index,
		Graph:      graph.NewMemoryGraph(nil),
		Embedder:   &stubEmbedder{dims: 4},
		Completion: &stubCompletion{output: `{"score": 0.95, "tags": []}`},
	})
	require.NoError(t, err)

	resp, err := p.Run(context.Background(), "model judged question")
	require.NoError(t, err)
	// model judge 给了 0.95，首轮即接受。
	assert.Equal(t, StateAccepted, resp.State)
	assert.Len(t, resp.Attempts, 1)
}

func TestNewPipelineFromConfigRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retrieval.MixWeightAlpha = 1.5

	_, err := NewPipelineFromConfig(cfg, Deps{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestNewPipelineFromConfigRejectsNilConfig(t *testing.T) {
	_, err := NewPipelineFromConfig(nil, Deps{})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestNewPipelineFromConfigRejectsUnknownScratchpadBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scratchpad.Backend = "etcd"

	_, err := NewPipelineFromConfig(cfg, Deps{
		Index:    vector.NewMemoryIndex(4, nil),
		Graph:    graph.NewMemoryGraph(nil),
		Embedder: &stubEmbedder{dims: 4},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}
