package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestEstimatorCountTokens(t *testing.T) {
	est := NewEstimator()

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"short text floors to one", "ab", 1},
		{"ascii roughly four chars per token", "abcdefghijklmnop", 4},
		{"cjk denser than ascii", "检索增强生成", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, est.CountTokens(tt.text))
		})
	}
}

func TestTiktokenEncodingSelection(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "tiktoken/o200k_base"},
		{"gpt-4o-2024-11-20", "tiktoken/o200k_base"},
		{"gpt-4", "tiktoken/cl100k_base"},
		{"some-unknown-model", "tiktoken/cl100k_base"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			tok := NewTiktoken(tt.model, logger)
			assert.Equal(t, tt.want, tok.Name())
		})
	}
}

// 同一模型名可能匹配多个前缀（gpt-4o-mini-* 同时匹配 gpt-4o-mini 与 gpt-4），
// 必须稳定落在最长前缀上。
func TestTiktokenLongestPrefixWins(t *testing.T) {
	logger := zap.NewNop()

	for i := 0; i < 100; i++ {
		tok := NewTiktoken("gpt-4o-mini-2024-07-18", logger)
		assert.Equal(t, "tiktoken/o200k_base", tok.Name())
	}
}
