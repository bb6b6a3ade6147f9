package rag

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/corag/scratchpad"
	"github.com/BaSui01/corag/types"
)

// State 纠偏环状态。
type State string

const (
	StateRetrieving    State = "retrieving"    // 正在执行检索分支
	StateEvaluating    State = "evaluating"    // 正在评估上下文质量
	StateReformulating State = "reformulating" // 正在改写查询
	StateAccepted      State = "accepted"      // 上下文达标，终态
	StateExhausted     State = "exhausted"     // 重试耗尽，带最佳结果退出，终态
	StateAborted       State = "aborted"       // 调用方取消，终态
)

// Terminal 报告状态是否为终态。
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateExhausted || s == StateAborted
}

// RetrievalAttempt 一次检索尝试的完整记录，附在查询结果中供审计。
type RetrievalAttempt struct {
	ID           string        `json:"id"`
	Index        int           `json:"index"` // 0 为原始查询，≤ MaxRetries
	QueryVariant string        `json:"query_variant"`
	Bundle       ContextBundle `json:"bundle"`
	Sufficiency  float64       `json:"sufficiency"`
	Tags         []string      `json:"tags,omitempty"`
	SoftFailures []SoftFailure `json:"soft_failures,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// LoopResult 纠偏环的产出。
// State 为 Accepted 时 Bundle 是达标的上下文；Exhausted 时是历次尝试中
// 得分最高的（best-seen）上下文并带 low_confidence 标签；
// Aborted 时 Bundle 为取消前的最佳结果（可能为空）。
type LoopResult struct {
	State       State              `json:"state"`
	Bundle      ContextBundle      `json:"bundle"`
	Sufficiency float64            `json:"sufficiency"`
	Tags        []string           `json:"tags,omitempty"`
	Attempts    []RetrievalAttempt `json:"attempts"`
}

// ControllerConfig 纠偏环参数。
type ControllerConfig struct {
	// AcceptThreshold 达标线 ∈ [0,1]，得分 ≥ 该值即接受
	AcceptThreshold float64
	// MaxRetries 改写重试上限，总尝试数为 MaxRetries+1
	MaxRetries int
	// QueryTimeout 整个查询的墙钟超时，0 表示不限
	QueryTimeout time.Duration
}

// Controller 有界纠偏环：检索 → 评估 → {接受 | 改写重试}。
// 单次 Run 是一个独立的状态机实例，不持有跨查询状态，可并发复用。
type Controller struct {
	fuser        Fuser
	evaluator    *Evaluator
	reformulator Reformulator
	scratch      scratchpad.Store
	metrics      *Metrics
	tracer       trace.Tracer
	cfg          ControllerConfig
	logger       *zap.Logger
}

// NewController 创建纠偏环控制器。scratch 与 metrics 可为 nil。
func NewController(fuser Fuser, evaluator *Evaluator, reformulator Reformulator, cfg ControllerConfig, opts ...ControllerOption) (*Controller, error) {
	if fuser == nil || evaluator == nil || reformulator == nil {
		return nil, types.NewError(types.ErrInvalidConfig,
			"controller requires fuser, evaluator and reformulator").WithComponent("controller")
	}
	if cfg.AcceptThreshold < 0 || cfg.AcceptThreshold > 1 {
		return nil, types.NewError(types.ErrInvalidConfig,
			"accept threshold must be in [0,1]").WithComponent("controller")
	}
	if cfg.MaxRetries < 0 {
		return nil, types.NewError(types.ErrInvalidConfig,
			"max retries must be >= 0").WithComponent("controller")
	}

	c := &Controller{
		fuser:        fuser,
		evaluator:    evaluator,
		reformulator: reformulator,
		tracer:       otel.Tracer("corag/rag"),
		cfg:          cfg,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "controller"))
	return c, nil
}

// ControllerOption 控制器可选依赖。
type ControllerOption func(*Controller)

// WithScratchpad 启用审计日志。
func WithScratchpad(store scratchpad.Store) ControllerOption {
	return func(c *Controller) { c.scratch = store }
}

// WithMetrics 启用指标上报。
func WithMetrics(m *Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger 设置日志器。
func WithLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Run 对一个问题执行纠偏检索环。
//
// 调用方取消时以 Aborted 终态返回而不是 error；error 仅在致命错误
// （配置、维度不一致、图查询构造错误）时非空。
func (c *Controller) Run(ctx context.Context, question string, acc *types.UsageAccumulator) (*LoopResult, error) {
	if c.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.QueryTimeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "rag.corrective_loop",
		trace.WithAttributes(attribute.Int("max_retries", c.cfg.MaxRetries)))
	defer span.End()

	result := &LoopResult{State: StateRetrieving}
	variant := question
	bestIdx := -1

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if aborted(ctx) {
			return c.finishAborted(ctx, question, result, bestIdx)
		}

		rec, err := c.runAttempt(ctx, question, variant, attempt, acc)
		if err != nil {
			if aborted(ctx) {
				return c.finishAborted(ctx, question, result, bestIdx)
			}
			span.RecordError(err)
			return nil, err
		}
		result.Attempts = append(result.Attempts, *rec)

		if bestIdx < 0 || rec.Sufficiency > result.Attempts[bestIdx].Sufficiency {
			bestIdx = len(result.Attempts) - 1
		}

		if rec.Sufficiency >= c.cfg.AcceptThreshold {
			result.State = StateAccepted
			result.Bundle = rec.Bundle
			result.Sufficiency = rec.Sufficiency
			result.Tags = rec.Tags
			c.metrics.ObserveAttempt("accepted", rec.Sufficiency, rec.Duration)
			c.metrics.ObserveQuery(StateAccepted)
			c.logStep(ctx, question, "Evaluation", "context accepted", map[string]any{
				"attempt": attempt, "sufficiency": rec.Sufficiency,
			})
			return result, nil
		}

		if attempt == c.cfg.MaxRetries {
			break
		}

		c.metrics.ObserveAttempt("retried", rec.Sufficiency, rec.Duration)
		result.State = StateReformulating

		next, rerr := c.reformulator.Reformulate(ctx, variant, rec.Tags, attempt+1)
		if rerr != nil {
			if aborted(ctx) {
				return c.finishAborted(ctx, question, result, bestIdx)
			}
			// 改写失败不终止查询，用原变体再试一轮。
			c.logger.Warn("改写失败，沿用上一轮变体", zap.Error(rerr))
			next = variant
		}
		c.logStep(ctx, question, "Correction", next, map[string]any{
			"attempt": attempt + 1, "tags": rec.Tags,
		})
		variant = next
	}

	if aborted(ctx) {
		return c.finishAborted(ctx, question, result, bestIdx)
	}

	// 重试耗尽：带最佳结果退出并标记低置信。
	best := result.Attempts[bestIdx]
	result.State = StateExhausted
	result.Bundle = best.Bundle
	result.Sufficiency = best.Sufficiency
	result.Tags = appendUnique(best.Tags, TagLowConfidence)
	c.metrics.ObserveAttempt("exhausted", best.Sufficiency, best.Duration)
	c.metrics.ObserveQuery(StateExhausted)
	c.logStep(ctx, question, "Evaluation", "retries exhausted, using best-seen context", map[string]any{
		"best_attempt": best.Index, "sufficiency": best.Sufficiency,
	})
	return result, nil
}

// runAttempt 执行检索 + 评估一轮。
func (c *Controller) runAttempt(ctx context.Context, question, variant string, index int, acc *types.UsageAccumulator) (*RetrievalAttempt, error) {
	attemptCtx, span := c.tracer.Start(ctx, "rag.attempt",
		trace.WithAttributes(
			attribute.Int("attempt.index", index),
			attribute.String("attempt.variant", variant),
		))
	defer span.End()

	start := time.Now()
	c.logStep(attemptCtx, question, "Retrieval", variant, map[string]any{"attempt": index})

	bundle, soft, err := c.fuser.Fuse(attemptCtx, variant, acc)
	if err != nil {
		return nil, err
	}

	score, tags := c.evaluator.Evaluate(attemptCtx, question, bundle)
	bundle.Sufficiency = score
	span.SetAttributes(
		attribute.Float64("attempt.sufficiency", score),
		attribute.Int("attempt.items", len(bundle.Items)),
	)

	c.logger.Info("检索尝试完成",
		zap.Int("attempt", index),
		zap.String("variant", variant),
		zap.Int("items", len(bundle.Items)),
		zap.Float64("sufficiency", score),
		zap.Strings("tags", tags))

	return &RetrievalAttempt{
		ID:           uuid.NewString(),
		Index:        index,
		QueryVariant: variant,
		Bundle:       bundle,
		Sufficiency:  score,
		Tags:         tags,
		SoftFailures: soft,
		Duration:     time.Since(start),
	}, nil
}

// finishAborted 以 Aborted 终态收尾，保留取消前的最佳结果。
func (c *Controller) finishAborted(ctx context.Context, question string, result *LoopResult, bestIdx int) (*LoopResult, error) {
	result.State = StateAborted
	if bestIdx >= 0 {
		best := result.Attempts[bestIdx]
		result.Bundle = best.Bundle
		result.Sufficiency = best.Sufficiency
		result.Tags = best.Tags
	}
	c.metrics.ObserveQuery(StateAborted)
	c.logStep(context.WithoutCancel(ctx), question, "Completion", "query aborted by caller", nil)
	c.logger.Info("查询被取消", zap.Int("attempts", len(result.Attempts)))
	return result, nil
}

// logStep 写一条审计日志，scratchpad 故障只记 warning。
func (c *Controller) logStep(ctx context.Context, query, step, content string, metadata map[string]any) {
	if c.scratch == nil {
		return
	}
	if err := c.scratch.Log(ctx, scratchpad.NewEntry(query, step, content, metadata)); err != nil {
		c.logger.Warn("审计日志写入失败", zap.String("step", step), zap.Error(err))
	}
}

func aborted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func appendUnique(tags []string, tag string) []string {
	if hasTag(tags, tag) {
		return tags
	}
	out := make([]string, 0, len(tags)+1)
	out = append(out, tags...)
	return append(out, tag)
}
