package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/corag/tokenizer"
	"github.com/BaSui01/corag/types"
)

// Answer 最终答案与引用。
type Answer struct {
	Text      string       `json:"text"`
	Citations []Provenance `json:"citations,omitempty"`
}

// Generator 答案生成器。bundle 为空时也必须产出可用文本。
type Generator interface {
	Generate(ctx context.Context, question string, bundle ContextBundle, acc *types.UsageAccumulator) (*Answer, error)
}

// =============================================================================
// 模板生成
// =============================================================================

// TemplateGenerator 不依赖 LLM 的生成器：把最高分上下文直接拼成
// 摘要式回答。本地测试与无 provider 部署时使用。
type TemplateGenerator struct{}

// NewTemplateGenerator 创建模板生成器。
func NewTemplateGenerator() *TemplateGenerator { return &TemplateGenerator{} }

// Generate 实现 Generator。
func (g *TemplateGenerator) Generate(_ context.Context, question string, bundle ContextBundle, _ *types.UsageAccumulator) (*Answer, error) {
	if bundle.Empty() {
		return &Answer{Text: "No relevant context was found for this question."}, nil
	}
	var sb strings.Builder
	sb.WriteString("Based on the retrieved context:\n")
	for i, item := range bundle.Items {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&sb, "- %s\n", truncate(item.Content, 300))
	}
	return &Answer{
		Text:      strings.TrimRight(sb.String(), "\n"),
		Citations: bundle.Citations(),
	}, nil
}

// =============================================================================
// 模型生成
// =============================================================================

// LLMGenerator 用 LLM 生成接地回答：提示词只允许使用给定上下文，
// 并要求按 [n] 标注引用。provider 调用失败时回退到模板生成，
// 保证查询总能拿到答案文本。
type LLMGenerator struct {
	provider CompletionProvider
	counter  tokenizer.Tokenizer
	fallback *TemplateGenerator
	logger   *zap.Logger
}

// NewLLMGenerator 创建模型生成器。
func NewLLMGenerator(provider CompletionProvider, counter tokenizer.Tokenizer, logger *zap.Logger) *LLMGenerator {
	if counter == nil {
		counter = tokenizer.NewEstimator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMGenerator{
		provider: provider,
		counter:  counter,
		fallback: NewTemplateGenerator(),
		logger:   logger.With(zap.String("component", "generator")),
	}
}

// Generate 实现 Generator。
func (g *LLMGenerator) Generate(ctx context.Context, question string, bundle ContextBundle, acc *types.UsageAccumulator) (*Answer, error) {
	if bundle.Empty() {
		return g.fallback.Generate(ctx, question, bundle, acc)
	}

	prompt := g.buildPrompt(question, bundle)
	raw, err := g.provider.Complete(ctx, prompt)
	if err != nil {
		g.logger.Warn("生成调用失败，回退模板回答", zap.Error(err))
		return g.fallback.Generate(ctx, question, bundle, acc)
	}

	acc.Record("generation", types.TokenUsage{
		PromptTokens:     g.counter.CountTokens(prompt),
		CompletionTokens: g.counter.CountTokens(raw),
		TotalTokens:      g.counter.CountTokens(prompt) + g.counter.CountTokens(raw),
	})

	return &Answer{
		Text:      strings.TrimSpace(raw),
		Citations: bundle.Citations(),
	}, nil
}

func (g *LLMGenerator) buildPrompt(question string, bundle ContextBundle) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using ONLY the context below. ")
	sb.WriteString("Cite supporting items as [n]. If the context is insufficient, say so.\n\nContext:\n")
	for i, item := range bundle.Items {
		fmt.Fprintf(&sb, "[%d] (%s) %s\n", i+1, item.Provenance.Ref(), item.Content)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
