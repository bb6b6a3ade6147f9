package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleReformulatorStripsFillers(t *testing.T) {
	r := NewRuleReformulator(nil)
	variant, err := r.Reformulate(context.Background(),
		"can you tell me about vector databases?", nil, 1)
	require.NoError(t, err)
	assert.NotContains(t, variant, "can you tell me")
	assert.NotContains(t, variant, "?")
	assert.Contains(t, variant, "vector databases")
}

func TestRuleReformulatorProducesDistinctVariants(t *testing.T) {
	r := NewRuleReformulator(nil)
	question := "how does hybrid retrieval work?"

	v1, err := r.Reformulate(context.Background(), question, nil, 1)
	require.NoError(t, err)
	v2, err := r.Reformulate(context.Background(), question, nil, 2)
	require.NoError(t, err)

	assert.NotEqual(t, question, v1)
	assert.NotEqual(t, v1, v2)
}

func TestRuleReformulatorDeterministic(t *testing.T) {
	r := NewRuleReformulator(nil)
	first, _ := r.Reformulate(context.Background(), "why is the index empty?", []string{TagLowRelevance}, 1)
	second, _ := r.Reformulate(context.Background(), "why is the index empty?", []string{TagLowRelevance}, 1)
	assert.Equal(t, first, second)
}

func TestRuleReformulatorTagDriven(t *testing.T) {
	r := NewRuleReformulator(nil)

	variant, err := r.Reformulate(context.Background(), "nebula storage format", []string{TagEmptyBundle}, 1)
	require.NoError(t, err)
	// 空结果时放宽查询面。
	assert.Contains(t, variant, "overview")
}

func TestRuleReformulatorNeverReturnsOriginal(t *testing.T) {
	r := NewRuleReformulator(nil)
	// 没有填充语、没有可替换词的查询也必须产出可区分的变体。
	variant, err := r.Reformulate(context.Background(), "nebula storage format", nil, 2)
	require.NoError(t, err)
	assert.NotEqual(t, "nebula storage format", variant)
	assert.NotEmpty(t, variant)
}

func TestLLMReformulatorUsesProvider(t *testing.T) {
	provider := &stubCompletion{output: `"hybrid retrieval score fusion algorithm"`}
	r := NewLLMReformulator(provider, nil)

	variant, err := r.Reformulate(context.Background(), "how does fusion work", []string{TagLowRelevance}, 1)
	require.NoError(t, err)
	assert.Equal(t, "hybrid retrieval score fusion algorithm", variant)
	assert.Equal(t, 1, provider.calls)
}

func TestLLMReformulatorFallsBackOnError(t *testing.T) {
	provider := &stubCompletion{err: errors.New("provider down")}
	r := NewLLMReformulator(provider, nil)

	variant, err := r.Reformulate(context.Background(), "how does fusion work?", nil, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, variant)
	assert.NotContains(t, variant, "?")
}

func TestLLMReformulatorFallsBackOnEmptyOutput(t *testing.T) {
	r := NewLLMReformulator(&stubCompletion{output: "   "}, nil)
	variant, err := r.Reformulate(context.Background(), "please explain graph traversal", nil, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, variant)
}
