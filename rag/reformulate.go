package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Reformulator 根据缺陷标签把失败的查询改写成下一轮检索的变体。
// attempt 是即将发起的尝试序号（首次改写为 1）。
type Reformulator interface {
	Reformulate(ctx context.Context, question string, tags []string, attempt int) (string, error)
}

// =============================================================================
// 规则改写
// =============================================================================

// 常见填充语，改写时剔除以突出检索关键词。
var fillerPhrases = []string{
	"can you tell me",
	"i want to know",
	"please explain",
	"i need help with",
	"could you help me",
	"i'm looking for",
	"i would like to",
	"can you help me",
}

// 同义替换表，按尝试序号轮换，保证每轮产出不同变体。
var synonymMap = map[string][]string{
	"how":        {"what way", "method"},
	"why":        {"reason", "cause"},
	"what":       {"which", "describe"},
	"best":       {"top", "optimal"},
	"difference": {"comparison", "contrast"},
	"example":    {"instance", "sample"},
	"explain":    {"describe", "clarify"},
	"implement":  {"create", "build"},
	"use":        {"utilize", "apply"},
	"problem":    {"issue", "challenge"},
}

// RuleReformulator 纯本地的确定性改写器：剔除填充语、按轮次做同义替换，
// 并根据缺陷标签追加限定词。相同输入总是产出相同变体。
type RuleReformulator struct {
	logger *zap.Logger
}

// NewRuleReformulator 创建规则改写器。
func NewRuleReformulator(logger *zap.Logger) *RuleReformulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleReformulator{logger: logger.With(zap.String("component", "reformulator"))}
}

// Reformulate 实现 Reformulator。规则改写不会失败。
func (r *RuleReformulator) Reformulate(_ context.Context, question string, tags []string, attempt int) (string, error) {
	if attempt < 1 {
		attempt = 1
	}
	variant := stripFillers(question)

	// 逐轮轮换同义词，让每次重试覆盖不同的词面。
	words := strings.Fields(strings.ToLower(variant))
	replaced := false
	for _, word := range words {
		syns, ok := synonymMap[word]
		if !ok {
			continue
		}
		syn := syns[(attempt-1)%len(syns)]
		next := replaceWordFold(variant, word, syn)
		if next != variant {
			variant = next
			replaced = true
			break
		}
	}

	// 标签驱动的限定词：空结果放宽查询面，低相关收紧主题。
	switch {
	case hasTag(tags, TagEmptyBundle):
		variant += " overview background"
	case hasTag(tags, TagLowRelevance) && !replaced:
		variant += " details"
	}

	variant = strings.TrimSpace(variant)
	if variant == "" || strings.EqualFold(variant, question) {
		// 改写退化时追加轮次限定词，保证变体可区分。
		variant = strings.TrimSpace(question) + fmt.Sprintf(" (detail pass %d)", attempt)
	}

	r.logger.Debug("规则改写",
		zap.Int("attempt", attempt),
		zap.String("variant", variant))
	return variant, nil
}

// stripFillers 剔除填充语并规整首字母。
func stripFillers(query string) string {
	result := strings.ToLower(query)
	for _, filler := range fillerPhrases {
		result = strings.Replace(result, filler, "", 1)
	}
	result = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(result), "?"))
	if len(result) > 0 {
		result = strings.ToUpper(result[:1]) + result[1:]
	}
	return result
}

// replaceWordFold 在大小写不敏感的前提下替换第一个出现的整词。
func replaceWordFold(s, word, repl string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if strings.EqualFold(strings.Trim(f, ".,?!"), word) {
			fields[i] = repl
			return strings.Join(fields, " ")
		}
	}
	return s
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// 模型改写
// =============================================================================

// LLMReformulator 用 LLM 根据缺陷标签改写查询，
// 调用失败或产出空变体时回退到规则改写。
type LLMReformulator struct {
	provider CompletionProvider
	fallback *RuleReformulator
	logger   *zap.Logger
}

// NewLLMReformulator 创建模型改写器。
func NewLLMReformulator(provider CompletionProvider, logger *zap.Logger) *LLMReformulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMReformulator{
		provider: provider,
		fallback: NewRuleReformulator(logger),
		logger:   logger.With(zap.String("component", "reformulator")),
	}
}

// Reformulate 实现 Reformulator。
func (r *LLMReformulator) Reformulate(ctx context.Context, question string, tags []string, attempt int) (string, error) {
	prompt := fmt.Sprintf(`The following search query returned insufficient context (deficiencies: %s).
Rewrite it into a better retrieval query. Keep the original intent, output only the rewritten query.

Query: %s

Rewritten query:`, strings.Join(tags, ", "), question)

	raw, err := r.provider.Complete(ctx, prompt)
	if err != nil {
		r.logger.Warn("模型改写失败，回退规则改写", zap.Error(err))
		return r.fallback.Reformulate(ctx, question, tags, attempt)
	}

	variant := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"`))
	if variant == "" {
		return r.fallback.Reformulate(ctx, question, tags, attempt)
	}
	return variant, nil
}
