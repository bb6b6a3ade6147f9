package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/corag/tokenizer"
	"github.com/BaSui01/corag/types"
)

// 缺陷标签。纠偏器依赖这些标签决定改写策略。
const (
	TagEmptyBundle     = "empty_bundle"      // 上下文为空
	TagLowRelevance    = "low_relevance"     // 最高相关度不足
	TagLowDiversity    = "low_diversity"     // 来源通道单一
	TagJudgeParseError = "judge_parse_error" // 模型评估输出不可解析
	TagLowConfidence   = "low_confidence"    // 重试耗尽后的最佳结果
)

// CompletionProvider 文本补全提供者。rag 包对 LLM 的全部依赖收敛于此，
// 评估、改写、生成共用同一个窄接口。
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Judge 上下文质量评估器。返回充分性得分 ∈ [0,1] 与缺陷标签。
// 评估失败属软错误：实现应返回 0 分与说明性标签，而不是 error。
type Judge interface {
	Score(ctx context.Context, question string, bundle ContextBundle) (float64, []string, error)
}

// =============================================================================
// 启发式评估
// =============================================================================

// HeuristicJudge 纯本地的确定性评估器：
// 得分 = 0.7·最高条目分 + 0.3·平均条目分，双通道覆盖时加成 0.1。
type HeuristicJudge struct {
	// RelevanceThreshold 最高条目分低于该值时打 low_relevance 标签
	RelevanceThreshold float64
}

// NewHeuristicJudge 创建启发式评估器。
func NewHeuristicJudge(relevanceThreshold float64) *HeuristicJudge {
	return &HeuristicJudge{RelevanceThreshold: relevanceThreshold}
}

// Score 实现 Judge。对相同输入总是产生相同得分与标签。
func (j *HeuristicJudge) Score(_ context.Context, _ string, bundle ContextBundle) (float64, []string, error) {
	if bundle.Empty() {
		return 0, []string{TagEmptyBundle}, nil
	}

	var maxScore, sum float64
	origins := map[Origin]bool{}
	for _, item := range bundle.Items {
		if item.Score > maxScore {
			maxScore = item.Score
		}
		sum += item.Score
		origins[item.Origin] = true
	}
	mean := sum / float64(len(bundle.Items))

	score := 0.7*maxScore + 0.3*mean
	if len(origins) > 1 {
		score += 0.1
	}
	score = clampScore(score)

	var tags []string
	if maxScore < j.RelevanceThreshold {
		tags = append(tags, TagLowRelevance)
	}
	if len(origins) == 1 && len(bundle.Items) > 1 {
		tags = append(tags, TagLowDiversity)
	}
	return score, tags, nil
}

// =============================================================================
// 模型评估
// =============================================================================

// ModelJudge 用 LLM 评估上下文充分性。
// 输出不可解析或调用失败都按软失败处理：得分 0、标签 judge_parse_error，
// 让纠偏环继续推进而不是中断查询。
type ModelJudge struct {
	provider CompletionProvider
	counter  tokenizer.Tokenizer
	logger   *zap.Logger
}

// NewModelJudge 创建模型评估器。
func NewModelJudge(provider CompletionProvider, counter tokenizer.Tokenizer, logger *zap.Logger) *ModelJudge {
	if counter == nil {
		counter = tokenizer.NewEstimator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelJudge{
		provider: provider,
		counter:  counter,
		logger:   logger.With(zap.String("component", "judge")),
	}
}

// judgeVerdict 是模型评估要求的输出结构。
type judgeVerdict struct {
	Score float64  `json:"score"`
	Tags  []string `json:"tags"`
}

// Score 实现 Judge。
func (j *ModelJudge) Score(ctx context.Context, question string, bundle ContextBundle) (float64, []string, error) {
	if bundle.Empty() {
		return 0, []string{TagEmptyBundle}, nil
	}

	prompt := j.buildPrompt(question, bundle)
	raw, err := j.provider.Complete(ctx, prompt)
	if err != nil {
		j.logger.Warn("模型评估调用失败，按 0 分处理", zap.Error(err))
		return 0, []string{TagJudgeParseError}, nil
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		j.logger.Warn("模型评估输出不可解析",
			zap.String("raw", truncate(raw, 200)), zap.Error(err))
		return 0, []string{TagJudgeParseError}, nil
	}
	return clampScore(verdict.Score), verdict.Tags, nil
}

// judgePromptTokenBudget 评估提示词中上下文部分的 token 上限。
const judgePromptTokenBudget = 2000

func (j *ModelJudge) buildPrompt(question string, bundle ContextBundle) string {
	var sb strings.Builder
	sb.WriteString("You are a retrieval quality judge. Given a question and retrieved context,\n")
	sb.WriteString("rate how sufficient the context is to answer the question.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nContext:\n")
	used := 0
	for i, item := range bundle.Items {
		content := truncate(item.Content, 400)
		used += j.counter.CountTokens(content)
		if used > judgePromptTokenBudget {
			break
		}
		fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, item.Origin, content)
	}
	sb.WriteString("\nRespond with JSON only: {\"score\": <0..1>, \"tags\": [<deficiency tags, e.g. \"")
	sb.WriteString(TagLowRelevance)
	sb.WriteString("\">]}\n")
	return sb.String()
}

// parseVerdict 从模型输出中提取第一个 JSON 对象并反序列化。
func parseVerdict(raw string) (*judgeVerdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, types.NewError(types.ErrJudgeParseError, "no JSON object in judge output")
	}
	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &verdict); err != nil {
		return nil, types.NewError(types.ErrJudgeParseError, "invalid judge JSON").WithCause(err)
	}
	return &verdict, nil
}

// =============================================================================
// 评估封装
// =============================================================================

// Evaluator 把任意 Judge 封装成永不失败的评估入口：
// 错误吸收为 0 分 + judge_parse_error 标签，得分总是收敛到 [0,1]。
type Evaluator struct {
	judge  Judge
	logger *zap.Logger
}

// NewEvaluator 创建评估封装。
func NewEvaluator(judge Judge, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{judge: judge, logger: logger.With(zap.String("component", "evaluator"))}
}

// Evaluate 评估 bundle 并返回得分与缺陷标签。
func (e *Evaluator) Evaluate(ctx context.Context, question string, bundle ContextBundle) (float64, []string) {
	score, tags, err := e.judge.Score(ctx, question, bundle)
	if err != nil {
		e.logger.Warn("评估失败，按 0 分处理", zap.Error(err))
		return 0, []string{TagJudgeParseError}
	}
	return clampScore(score), tags
}

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(0, math.Min(1, s))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
