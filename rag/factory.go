package rag

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/corag/config"
	"github.com/BaSui01/corag/embedding"
	"github.com/BaSui01/corag/graph"
	"github.com/BaSui01/corag/scratchpad"
	"github.com/BaSui01/corag/tokenizer"
	"github.com/BaSui01/corag/types"
	"github.com/BaSui01/corag/vector"
)

// Deps 工厂装配时可注入的外部依赖。
// 为 nil 的字段用配置对应的默认实现补齐。
type Deps struct {
	// Index 向量索引。为 nil 时按配置创建 Qdrant 索引。
	Index vector.Index
	// Graph 图存储。为 nil 时创建空的内存图。
	Graph graph.Store
	// Embedder 嵌入提供者。为 nil 时按配置创建 OpenAI 提供者。
	Embedder embedding.Provider
	// Completion LLM 补全提供者。model judge、模型改写与生成依赖它；
	// 为 nil 时评估回退启发式、改写回退规则、生成回退模板。
	Completion CompletionProvider
	// Scratchpad 审计日志。为 nil 时按配置创建。
	Scratchpad scratchpad.Store
	// CacheClient 答案缓存的 Redis 客户端。为 nil 时不启用缓存。
	CacheClient *redis.Client
	// Registry 指标注册表。为 nil 时不上报指标。
	Registry prometheus.Registerer
	// Logger 根日志器。
	Logger *zap.Logger
}

// NewPipelineFromConfig 按配置装配完整的问答流水线。
func NewPipelineFromConfig(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "config is nil").WithComponent("factory")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	counter := tokenizer.NewTiktoken(cfg.Judge.Model, logger)
	alpha := cfg.Retrieval.EffectiveAlpha()

	embedder := deps.Embedder
	if embedder == nil && alpha > 0 {
		var p embedding.Provider = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if cfg.Embedding.RateRPS > 0 {
			p = embedding.NewRateLimited(p, cfg.Embedding.RateRPS, cfg.Embedding.RateBurst)
		}
		embedder = p
	}

	index := deps.Index
	if index == nil && alpha > 0 {
		index = vector.NewQdrantIndex(vector.QdrantConfig{
			Host:                 cfg.Qdrant.Host,
			Port:                 cfg.Qdrant.Port,
			APIKey:               cfg.Qdrant.APIKey,
			Collection:           cfg.Qdrant.Collection,
			Timeout:              cfg.Qdrant.Timeout,
			AutoCreateCollection: true,
			VectorSize:           cfg.Embedding.Dimensions,
		}, logger)
	}

	graphStore := deps.Graph
	if graphStore == nil && alpha < 1 {
		g, err := loadGraphStore(cfg.Graph.SnapshotPath, logger)
		if err != nil {
			return nil, err
		}
		graphStore = g
	}

	fuser, err := NewHybridFuser(embedder, index, graphStore, counter, FuserConfig{
		Alpha:            alpha,
		TopK:             cfg.Retrieval.TopK,
		MaxContextItems:  cfg.Retrieval.MaxContextItems,
		MaxContextTokens: cfg.Retrieval.MaxContextTokens,
		MaxHops:          cfg.Retrieval.MaxHops,
		PerCallTimeout:   cfg.Retrieval.PerCallTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	var judge Judge
	if cfg.Judge.Kind == config.JudgeModel && deps.Completion != nil {
		judge = NewModelJudge(deps.Completion, counter, logger)
	} else {
		judge = NewHeuristicJudge(cfg.Judge.RelevanceThreshold)
	}
	evaluator := NewEvaluator(judge, logger)

	var reformulator Reformulator
	if deps.Completion != nil {
		reformulator = NewLLMReformulator(deps.Completion, logger)
	} else {
		reformulator = NewRuleReformulator(logger)
	}

	scratch := deps.Scratchpad
	if scratch == nil {
		scratch, err = newScratchpadFromConfig(cfg)
		if err != nil {
			return nil, err
		}
	}

	var metrics *Metrics
	if deps.Registry != nil {
		metrics = NewMetrics(deps.Registry)
	}

	controller, err := NewController(fuser, evaluator, reformulator, ControllerConfig{
		AcceptThreshold: cfg.Retrieval.AcceptThreshold,
		MaxRetries:      cfg.Retrieval.MaxRetries,
		QueryTimeout:    cfg.Retrieval.QueryTimeout,
	}, WithScratchpad(scratch), WithMetrics(metrics), WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var generator Generator
	if deps.Completion != nil {
		generator = NewLLMGenerator(deps.Completion, counter, logger)
	} else {
		generator = NewTemplateGenerator()
	}

	opts := []PipelineOption{
		WithPipelineScratchpad(scratch),
		WithPipelineMetrics(metrics),
		WithPipelineLogger(logger),
	}
	if deps.CacheClient != nil {
		opts = append(opts, WithResultCache(
			NewResultCache(deps.CacheClient, cfg.Redis.KeyPrefix, cfg.Redis.CacheTTL, logger)))
	}

	return NewPipeline(controller, generator, opts...)
}

// loadGraphStore 从快照文件恢复图谱；快照缺失或未配置时退回空内存图。
func loadGraphStore(snapshotPath string, logger *zap.Logger) (graph.Store, error) {
	if snapshotPath == "" {
		return graph.NewMemoryGraph(logger), nil
	}
	g, err := graph.LoadSnapshot(snapshotPath, logger)
	if errors.Is(err, os.ErrNotExist) {
		return graph.NewMemoryGraph(logger), nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// newScratchpadFromConfig 按配置创建审计日志后端。
func newScratchpadFromConfig(cfg *config.Config) (scratchpad.Store, error) {
	switch cfg.Scratchpad.Backend {
	case "memory", "":
		return scratchpad.NewMemoryStore(cfg.Scratchpad.MaxEntries), nil
	case "sqlite":
		return scratchpad.NewGormStore(cfg.Scratchpad.Path, cfg.Scratchpad.MaxEntries)
	case "redis":
		return scratchpad.NewRedisStore(scratchpad.RedisStoreConfig{
			Addr:       cfg.Redis.Addr(),
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			MaxEntries: cfg.Scratchpad.MaxEntries,
		})
	default:
		return nil, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("unknown scratchpad backend %q", cfg.Scratchpad.Backend)).WithComponent("factory")
	}
}
