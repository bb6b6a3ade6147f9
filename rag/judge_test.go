package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCompletion 返回固定输出的补全桩。
type stubCompletion struct {
	output string
	err    error
	calls  int
}

func (s *stubCompletion) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

func bundleOf(items ...ContextItem) ContextBundle {
	return ContextBundle{Items: items}
}

func item(origin Origin, content string, score float64) ContextItem {
	return ContextItem{Origin: origin, Content: content, Score: score,
		Provenance: Provenance{Origin: origin}}
}

func TestHeuristicJudgeEmptyBundle(t *testing.T) {
	j := NewHeuristicJudge(0.5)
	score, tags, err := j.Score(context.Background(), "question", ContextBundle{})
	require.NoError(t, err)
	assert.Zero(t, score)
	assert.Equal(t, []string{TagEmptyBundle}, tags)
}

func TestHeuristicJudgeScoring(t *testing.T) {
	j := NewHeuristicJudge(0.5)

	t.Run("single strong item", func(t *testing.T) {
		score, tags, err := j.Score(context.Background(), "q",
			bundleOf(item(OriginVector, "a", 0.9)))
		require.NoError(t, err)
		assert.InDelta(t, 0.9, score, 1e-9) // 0.7·0.9 + 0.3·0.9
		assert.Empty(t, tags)
	})

	t.Run("weak items tagged low relevance", func(t *testing.T) {
		score, tags, err := j.Score(context.Background(), "q",
			bundleOf(item(OriginVector, "a", 0.2), item(OriginVector, "b", 0.1)))
		require.NoError(t, err)
		assert.Less(t, score, 0.5)
		assert.Contains(t, tags, TagLowRelevance)
		assert.Contains(t, tags, TagLowDiversity)
	})

	t.Run("dual origin bonus", func(t *testing.T) {
		single, _, err := j.Score(context.Background(), "q",
			bundleOf(item(OriginVector, "a", 0.6), item(OriginVector, "b", 0.6)))
		require.NoError(t, err)
		dual, _, err := j.Score(context.Background(), "q",
			bundleOf(item(OriginVector, "a", 0.6), item(OriginGraph, "b", 0.6)))
		require.NoError(t, err)
		assert.Greater(t, dual, single)
	})

	t.Run("score stays in range", func(t *testing.T) {
		score, _, err := j.Score(context.Background(), "q",
			bundleOf(item(OriginVector, "a", 1), item(OriginGraph, "b", 1)))
		require.NoError(t, err)
		assert.LessOrEqual(t, score, 1.0)
	})
}

func TestHeuristicJudgeDeterministic(t *testing.T) {
	j := NewHeuristicJudge(0.5)
	b := bundleOf(item(OriginVector, "a", 0.42), item(OriginGraph, "b", 0.37))
	first, firstTags, _ := j.Score(context.Background(), "q", b)
	second, secondTags, _ := j.Score(context.Background(), "q", b)
	assert.Equal(t, first, second)
	assert.Equal(t, firstTags, secondTags)
}

func TestModelJudgeParsesVerdict(t *testing.T) {
	provider := &stubCompletion{output: `Here is my assessment:
{"score": 0.85, "tags": ["low_diversity"]}`}
	j := NewModelJudge(provider, nil, nil)

	score, tags, err := j.Score(context.Background(), "q", bundleOf(item(OriginVector, "a", 0.9)))
	require.NoError(t, err)
	assert.InDelta(t, 0.85, score, 1e-9)
	assert.Equal(t, []string{TagLowDiversity}, tags)
}

func TestModelJudgeClampsOutOfRangeScore(t *testing.T) {
	provider := &stubCompletion{output: `{"score": 3.2, "tags": []}`}
	j := NewModelJudge(provider, nil, nil)

	score, _, err := j.Score(context.Background(), "q", bundleOf(item(OriginVector, "a", 0.9)))
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestModelJudgeUnparsableOutput(t *testing.T) {
	for name, output := range map[string]string{
		"no json":      "the context looks fine to me",
		"invalid json": `{"score": "very good"}`,
	} {
		t.Run(name, func(t *testing.T) {
			j := NewModelJudge(&stubCompletion{output: output}, nil, nil)
			score, tags, err := j.Score(context.Background(), "q", bundleOf(item(OriginVector, "a", 0.9)))
			require.NoError(t, err)
			assert.Zero(t, score)
			assert.Equal(t, []string{TagJudgeParseError}, tags)
		})
	}
}

func TestModelJudgeProviderFailureIsSoft(t *testing.T) {
	j := NewModelJudge(&stubCompletion{err: errors.New("provider down")}, nil, nil)
	score, tags, err := j.Score(context.Background(), "q", bundleOf(item(OriginVector, "a", 0.9)))
	require.NoError(t, err)
	assert.Zero(t, score)
	assert.Equal(t, []string{TagJudgeParseError}, tags)
}

// failingJudge 总是报错的评估桩。
type failingJudge struct{}

func (failingJudge) Score(context.Context, string, ContextBundle) (float64, []string, error) {
	return 0, nil, errors.New("judge exploded")
}

func TestEvaluatorAbsorbsJudgeErrors(t *testing.T) {
	e := NewEvaluator(failingJudge{}, nil)
	score, tags := e.Evaluate(context.Background(), "q", bundleOf(item(OriginVector, "a", 0.9)))
	assert.Zero(t, score)
	assert.Equal(t, []string{TagJudgeParseError}, tags)
}
