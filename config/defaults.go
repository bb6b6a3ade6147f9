// =============================================================================
// 📦 CoRAG 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/corag/types"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Retrieval:  DefaultRetrievalConfig(),
		Embedding:  DefaultEmbeddingConfig(),
		Judge:      DefaultJudgeConfig(),
		Qdrant:     DefaultQdrantConfig(),
		Graph:      DefaultGraphConfig(),
		Redis:      DefaultRedisConfig(),
		Scratchpad: DefaultScratchpadConfig(),
		Log:        DefaultLogConfig(),
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Mode:             ModeHybrid,
		MixWeightAlpha:   0.6,
		TopK:             8,
		MaxContextItems:  10,
		MaxContextTokens: 3000,
		AcceptThreshold:  0.6,
		MaxRetries:       2,
		MaxHops:          2,
		PerCallTimeout:   10 * time.Second,
		QueryTimeout:     2 * time.Minute,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:      "text-embedding-3-large",
		Dimensions: 3072,
		RateRPS:    10,
		RateBurst:  20,
	}
}

// DefaultJudgeConfig 返回默认评估配置
func DefaultJudgeConfig() JudgeConfig {
	return JudgeConfig{
		Kind:               JudgeHeuristic,
		RelevanceThreshold: 0.5,
		Model:              "gpt-4o",
	}
}

// DefaultQdrantConfig 返回默认 Qdrant 配置
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:       "localhost",
		Port:       6333,
		Collection: "corag_chunks",
		Timeout:    30 * time.Second,
	}
}

// DefaultGraphConfig 返回默认图谱配置
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		SnapshotPath: "corag_graph.json",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:      "localhost",
		Port:      6379,
		KeyPrefix: "corag:",
		CacheTTL:  time.Hour,
	}
}

// DefaultScratchpadConfig 返回默认 scratchpad 配置
func DefaultScratchpadConfig() ScratchpadConfig {
	return ScratchpadConfig{
		Backend:    "memory",
		Path:       "corag_scratchpad.db",
		MaxEntries: 200,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// Validate 验证配置值，非法值属致命配置错误。
func (c *Config) Validate() error {
	r := c.Retrieval

	switch r.Mode {
	case ModeVector, ModeGraph, ModeHybrid:
	default:
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("retrieval.mode must be vector|graph|hybrid, got %q", r.Mode))
	}
	if r.MixWeightAlpha < 0 || r.MixWeightAlpha > 1 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("retrieval.mix_weight_alpha must be in [0,1], got %v", r.MixWeightAlpha))
	}
	if r.AcceptThreshold < 0 || r.AcceptThreshold > 1 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("retrieval.accept_threshold must be in [0,1], got %v", r.AcceptThreshold))
	}
	if r.TopK <= 0 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("retrieval.top_k must be > 0, got %d", r.TopK))
	}
	if r.MaxContextItems <= 0 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("retrieval.max_context_items must be > 0, got %d", r.MaxContextItems))
	}
	if r.MaxRetries < 0 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("retrieval.max_retries must be >= 0, got %d", r.MaxRetries))
	}
	if r.MaxHops < 0 {
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("retrieval.max_hops must be >= 0, got %d", r.MaxHops))
	}

	switch c.Judge.Kind {
	case JudgeHeuristic, JudgeModel:
	default:
		return types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("judge.kind must be heuristic|model, got %q", c.Judge.Kind))
	}

	return nil
}

// EffectiveAlpha 返回检索模式决定的有效混合权重。
// vector 模式恒为 1，graph 模式恒为 0，hybrid 使用配置值。
func (r RetrievalConfig) EffectiveAlpha() float64 {
	switch r.Mode {
	case ModeVector:
		return 1
	case ModeGraph:
		return 0
	default:
		return r.MixWeightAlpha
	}
}

// Addr 返回 Redis 连接地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
