package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/corag/scratchpad"
	"github.com/BaSui01/corag/types"
)

// Confidence 答案置信级别。
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Response 一次查询的完整结果。
type Response struct {
	Answer       string                      `json:"answer"`
	Confidence   Confidence                  `json:"confidence"`
	State        State                       `json:"state"`
	QualityScore float64                     `json:"quality_score"`
	Sources      []string                    `json:"sources,omitempty"`
	Citations    []Provenance                `json:"citations,omitempty"`
	Attempts     []RetrievalAttempt          `json:"attempts"`
	Usage        map[string]types.TokenUsage `json:"usage,omitempty"`
	Cached       bool                        `json:"cached,omitempty"`
}

// Pipeline 把纠偏环和答案生成串成完整的问答入口。
type Pipeline struct {
	controller *Controller
	generator  Generator
	cache      *ResultCache
	scratch    scratchpad.Store
	metrics    *Metrics
	logger     *zap.Logger
}

// NewPipeline 创建问答流水线。cache、scratch、metrics 可为 nil。
func NewPipeline(controller *Controller, generator Generator, opts ...PipelineOption) (*Pipeline, error) {
	if controller == nil || generator == nil {
		return nil, types.NewError(types.ErrInvalidConfig,
			"pipeline requires controller and generator").WithComponent("pipeline")
	}
	p := &Pipeline{
		controller: controller,
		generator:  generator,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "pipeline"))
	return p, nil
}

// PipelineOption 流水线可选依赖。
type PipelineOption func(*Pipeline)

// WithResultCache 启用答案缓存。
func WithResultCache(cache *ResultCache) PipelineOption {
	return func(p *Pipeline) { p.cache = cache }
}

// WithPipelineScratchpad 启用审计日志。
func WithPipelineScratchpad(store scratchpad.Store) PipelineOption {
	return func(p *Pipeline) { p.scratch = store }
}

// WithPipelineMetrics 启用指标上报。
func WithPipelineMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPipelineLogger 设置日志器。
func WithPipelineLogger(logger *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Run 回答一个问题：缓存查找 → 纠偏检索 → 答案生成。
//
// 取消返回 Aborted 终态的 Response 而不是 error；error 仅在致命错误时非空。
func (p *Pipeline) Run(ctx context.Context, question string) (*Response, error) {
	if cached, ok := p.cache.Get(ctx, question); ok {
		p.metrics.ObserveCache(true)
		p.logger.Debug("命中答案缓存")
		return cached, nil
	}
	p.metrics.ObserveCache(false)

	acc := types.NewUsageAccumulator()

	loop, err := p.controller.Run(ctx, question, acc)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		State:        loop.State,
		QualityScore: loop.Sufficiency,
		Attempts:     loop.Attempts,
	}

	if loop.State == StateAborted {
		resp.Confidence = ConfidenceLow
		resp.Usage = acc.Stages()
		return resp, nil
	}

	answer, err := p.generator.Generate(ctx, question, loop.Bundle, acc)
	if err != nil {
		return nil, err
	}
	resp.Answer = answer.Text
	resp.Citations = answer.Citations
	resp.Sources = sourceRefs(answer.Citations)
	resp.Confidence = confidence(loop)
	resp.Usage = acc.Stages()

	p.logStep(ctx, question, fmt.Sprintf("answered with %s confidence after %d attempts",
		resp.Confidence, len(loop.Attempts)), map[string]any{
		"state": string(loop.State), "quality_score": loop.Sufficiency,
	})

	p.cache.Set(ctx, question, resp)
	return resp, nil
}

// confidence 由终态与得分推出置信级别：
// 重试耗尽一律 low；接受后按得分分为 high（>0.7）与 medium。
func confidence(loop *LoopResult) Confidence {
	if loop.State != StateAccepted {
		return ConfidenceLow
	}
	if loop.Sufficiency > 0.7 {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}

// sourceRefs 返回去重后的出处字符串，保持首次出现顺序。
func sourceRefs(citations []Provenance) []string {
	if len(citations) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(citations))
	var refs []string
	for _, c := range citations {
		ref := c.Ref()
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

func (p *Pipeline) logStep(ctx context.Context, query, content string, metadata map[string]any) {
	if p.scratch == nil {
		return
	}
	if err := p.scratch.Log(ctx, scratchpad.NewEntry(query, "Completion", content, metadata)); err != nil {
		p.logger.Warn("审计日志写入失败", zap.Error(err))
	}
}
