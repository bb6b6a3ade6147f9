// Package tokenizer 提供上下文预算所需的 token 计数能力。
//
// 检索核心只需要 CountTokens；编码细节（tiktoken 编码表、CJK 估算）
// 对上层不可见。出错时实现内部回退到字符估算，不向调用方传播错误。
package tokenizer

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数。
	CountTokens(text string) int

	// Name 返回分词器的名称。
	Name() string
}

// Estimator provides a CJK-aware character-based token estimation.
// It needs no encoding data download and is the default when no model
// specific tokenizer is configured.
type Estimator struct {
	name string
}

// NewEstimator creates an Estimator.
func NewEstimator() *Estimator {
	return &Estimator{name: "estimator"}
}

// CountTokens 估算文本的 token 数。
// CJK 字符按 1.5 字符/token，其余按 4 字符/token。
func (e *Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjkCount, otherCount int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			cjkCount++
		} else {
			otherCount++
		}
	}
	tokens := float64(cjkCount)/1.5 + float64(otherCount)/4.0
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}

// Name returns the tokenizer name.
func (e *Estimator) Name() string { return e.name }
