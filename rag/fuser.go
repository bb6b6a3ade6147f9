package rag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/corag/embedding"
	"github.com/BaSui01/corag/graph"
	"github.com/BaSui01/corag/tokenizer"
	"github.com/BaSui01/corag/types"
	"github.com/BaSui01/corag/vector"
)

// Fuser 把一个查询变体变成一个上下文集合。
// 返回的 SoftFailure 列表记录已降级的分支失败；error 仅在致命错误时非空。
type Fuser interface {
	Fuse(ctx context.Context, query string, acc *types.UsageAccumulator) (ContextBundle, []SoftFailure, error)
}

// FuserConfig 混合融合参数。
type FuserConfig struct {
	// Alpha ∈ [0,1]：向量通道权重，图谱通道权重为 1-Alpha。
	// Alpha=1 退化为纯向量检索，Alpha=0 退化为纯图谱检索。
	Alpha float64
	// TopK 向量通道召回条数
	TopK int
	// MaxContextItems bundle 条目上限
	MaxContextItems int
	// MaxContextTokens bundle token 预算，0 表示不限
	MaxContextTokens int
	// MaxHops 图遍历跳数上限
	MaxHops int
	// PerCallTimeout 单次后端调用超时，0 表示不限
	PerCallTimeout time.Duration
}

// HybridFuser 并行执行向量与图谱两条检索分支并做加权融合。
//
// 评分规则：score = α·vectorSim + (1-α)·graphRelevance，
// 其中 graphRelevance = 1/(1+hops)。两条分支各自软失败时降级为
// 另一条分支的结果，双双失败时返回空 bundle（由上层评估触发纠偏）。
type HybridFuser struct {
	embedder embedding.Provider
	index    vector.Index
	graph    graph.Store
	counter  tokenizer.Tokenizer
	cfg      FuserConfig
	logger   *zap.Logger
}

// NewHybridFuser 创建混合融合器。embedder/index 在 Alpha>0 时必填，
// graph 在 Alpha<1 时必填。
func NewHybridFuser(embedder embedding.Provider, index vector.Index, g graph.Store, counter tokenizer.Tokenizer, cfg FuserConfig, logger *zap.Logger) (*HybridFuser, error) {
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		return nil, types.NewError(types.ErrInvalidConfig,
			fmt.Sprintf("fuser alpha must be in [0,1], got %v", cfg.Alpha)).WithComponent("fuser")
	}
	if cfg.Alpha > 0 && (embedder == nil || index == nil) {
		return nil, types.NewError(types.ErrInvalidConfig,
			"vector branch enabled but embedder or index is nil").WithComponent("fuser")
	}
	if cfg.Alpha < 1 && g == nil {
		return nil, types.NewError(types.ErrInvalidConfig,
			"graph branch enabled but graph store is nil").WithComponent("fuser")
	}
	if counter == nil {
		counter = tokenizer.NewEstimator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridFuser{
		embedder: embedder,
		index:    index,
		graph:    g,
		counter:  counter,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "fuser")),
	}, nil
}

// Fuse 执行一次融合检索。
func (f *HybridFuser) Fuse(ctx context.Context, query string, acc *types.UsageAccumulator) (ContextBundle, []SoftFailure, error) {
	var (
		vectorItems []ContextItem
		graphItems  []ContextItem
		soft        []SoftFailure
	)

	// 维度不一致是配置级致命错误，不进入降级路径。
	if f.cfg.Alpha > 0 && f.embedder.Dimensions() > 0 && f.index.Dimensions() > 0 &&
		f.embedder.Dimensions() != f.index.Dimensions() {
		return ContextBundle{}, nil, types.NewError(types.ErrDimensionMismatch,
			fmt.Sprintf("embedder produces %d dims but index expects %d",
				f.embedder.Dimensions(), f.index.Dimensions())).WithComponent("fuser")
	}

	g, gctx := errgroup.WithContext(ctx)
	var vectorFail, graphFail *SoftFailure

	if f.cfg.Alpha > 0 {
		g.Go(func() error {
			items, err := f.vectorBranch(gctx, query, acc)
			if err != nil {
				if types.IsFatal(err) {
					return err
				}
				vectorFail = &SoftFailure{Component: "vector", Message: err.Error()}
				return nil
			}
			vectorItems = items
			return nil
		})
	}

	if f.cfg.Alpha < 1 {
		g.Go(func() error {
			items, err := f.graphBranch(gctx, query)
			if err != nil {
				if types.IsFatal(err) {
					return err
				}
				graphFail = &SoftFailure{Component: "graph", Message: err.Error()}
				return nil
			}
			graphItems = items
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return ContextBundle{}, nil, err
	}

	if vectorFail != nil {
		soft = append(soft, *vectorFail)
		f.logger.Warn("向量分支降级", zap.String("reason", vectorFail.Message))
	}
	if graphFail != nil {
		soft = append(soft, *graphFail)
		f.logger.Warn("图谱分支降级", zap.String("reason", graphFail.Message))
	}

	bundle := f.merge(vectorItems, graphItems)
	f.logger.Debug("融合完成",
		zap.Int("vector_items", len(vectorItems)),
		zap.Int("graph_items", len(graphItems)),
		zap.Int("bundle_items", len(bundle.Items)),
		zap.Int("bundle_tokens", bundle.TokenCount))
	return bundle, soft, nil
}

// vectorBranch 嵌入查询并做最近邻搜索，分数按 α 加权。
func (f *HybridFuser) vectorBranch(ctx context.Context, query string, acc *types.UsageAccumulator) ([]ContextItem, error) {
	cctx, cancel := f.callContext(ctx)
	defer cancel()

	resp, err := f.embedder.Embed(cctx, &embedding.Request{
		Input:     []string{query},
		InputType: embedding.InputTypeQuery,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vectors")
	}
	emb := resp.Embeddings[0].Embedding

	// 优先记录提供者返回的真实用量，未上报时退回本地估算
	usage := types.TokenUsage{
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		Cost:         resp.Usage.Cost,
	}
	if usage.TotalTokens == 0 {
		n := f.counter.CountTokens(query)
		usage.PromptTokens = n
		usage.TotalTokens = n
	}
	acc.Record("embedding", usage)

	sctx, scancel := f.callContext(ctx)
	defer scancel()

	hits, err := f.index.Search(sctx, emb, f.cfg.TopK)
	if err != nil {
		return nil, err
	}

	items := make([]ContextItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, ContextItem{
			Origin:  OriginVector,
			Content: hit.Chunk.Text,
			Score:   f.cfg.Alpha * hit.Score,
			Provenance: Provenance{
				Origin:           OriginVector,
				ChunkID:          hit.Chunk.ID,
				SourceDocumentID: hit.Chunk.SourceDocumentID,
			},
		})
	}
	return items, nil
}

// graphBranch 从查询中抽取实体词、定位种子、做有界遍历，
// 相关度按 1/(1+hops) 衰减后乘 (1-α)。
func (f *HybridFuser) graphBranch(ctx context.Context, query string) ([]ContextItem, error) {
	terms := graph.ExtractQueryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	lctx, lcancel := f.callContext(ctx)
	defer lcancel()

	seeds, err := f.graph.LookupEntities(lctx, terms)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, nil
	}

	tctx, tcancel := f.callContext(ctx)
	defer tcancel()

	hits, err := f.graph.Traverse(tctx, seeds, f.cfg.MaxHops)
	if err != nil {
		return nil, err
	}

	items := make([]ContextItem, 0, len(hits))
	for _, hit := range hits {
		relevance := 1.0 / (1.0 + float64(hit.Hops))
		items = append(items, ContextItem{
			Origin:  OriginGraph,
			Content: entityContent(hit.Entity),
			Score:   (1 - f.cfg.Alpha) * relevance,
			Provenance: Provenance{
				Origin:   OriginGraph,
				EntityID: hit.Entity.ID,
				Path:     relationTypes(hit.Path),
				Hops:     hit.Hops,
			},
		})
	}
	return items, nil
}

// merge 去重（同指纹保留最高分）、确定性排序并裁剪到预算内。
func (f *HybridFuser) merge(vectorItems, graphItems []ContextItem) ContextBundle {
	best := make(map[string]ContextItem, len(vectorItems)+len(graphItems))
	for _, item := range append(vectorItems, graphItems...) {
		fp := item.Fingerprint()
		if prev, ok := best[fp]; !ok || item.Score > prev.Score {
			best[fp] = item
		}
	}

	merged := make([]ContextItem, 0, len(best))
	for _, item := range best {
		merged = append(merged, item)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Fingerprint() < merged[j].Fingerprint()
	})

	if f.cfg.MaxContextItems > 0 && len(merged) > f.cfg.MaxContextItems {
		merged = merged[:f.cfg.MaxContextItems]
	}

	var bundle ContextBundle
	for _, item := range merged {
		cost := f.counter.CountTokens(item.Content)
		if f.cfg.MaxContextTokens > 0 && bundle.TokenCount+cost > f.cfg.MaxContextTokens {
			break
		}
		bundle.Items = append(bundle.Items, item)
		bundle.TokenCount += cost
	}
	return bundle
}

func (f *HybridFuser) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.PerCallTimeout > 0 {
		return context.WithTimeout(ctx, f.cfg.PerCallTimeout)
	}
	return context.WithCancel(ctx)
}

// entityContent 取实体的文本属性作为上下文内容，缺省回退到实体名。
func entityContent(e graph.Entity) string {
	if text, ok := e.Properties["text"].(string); ok && text != "" {
		return text
	}
	return e.Name
}

func relationTypes(path []graph.Relation) []string {
	if len(path) == 0 {
		return nil
	}
	out := make([]string, len(path))
	for i, rel := range path {
		out[i] = rel.Type
	}
	return out
}
