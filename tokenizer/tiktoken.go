package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// modelEncodings 将模型名称映射到其 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
}

// Tiktoken 为 OpenAI 家族模型提供精确的 token 计数。
// 编码表懒加载；加载失败时回退到 Estimator 并记录一次警告。
type Tiktoken struct {
	model    string
	encoding string
	logger   *zap.Logger

	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
	fallback *Estimator
}

// NewTiktoken 为给定模型创建基于 tiktoken 的分词器。
// 未知模型先尝试前缀匹配（如 "gpt-4o-2024" 匹配 "gpt-4o"），否则默认 cl100k_base。
func NewTiktoken(model string, logger *zap.Logger) *Tiktoken {
	if logger == nil {
		logger = zap.NewNop()
	}

	encoding, ok := modelEncodings[model]
	if !ok {
		// 取最长的匹配前缀，保证 "gpt-4o-mini-2024" 落在 gpt-4o-mini 而非 gpt-4。
		best := ""
		for prefix, enc := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix && len(prefix) > len(best) {
				best = prefix
				encoding = enc
				ok = true
			}
		}
	}
	if !ok {
		encoding = "cl100k_base"
	}

	return &Tiktoken{
		model:    model,
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
		fallback: NewEstimator(),
	}
}

func (t *Tiktoken) init() {
	t.once.Do(func() {
		t.enc, t.initErr = tiktoken.GetEncoding(t.encoding)
		if t.initErr != nil {
			t.logger.Warn("tiktoken encoding init failed, falling back to estimator",
				zap.String("encoding", t.encoding),
				zap.Error(t.initErr))
		}
	})
}

// CountTokens 返回文本的精确 token 数，编码不可用时回退到估算。
func (t *Tiktoken) CountTokens(text string) int {
	t.init()
	if t.initErr != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Name returns the tokenizer name.
func (t *Tiktoken) Name() string { return "tiktoken/" + t.encoding }
