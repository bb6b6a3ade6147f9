package rag

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/corag/scratchpad"
)

func newTestPipeline(t *testing.T, fuser Fuser, judge Judge, cfg ControllerConfig, opts ...PipelineOption) *Pipeline {
	t.Helper()
	c, err := NewController(fuser, NewEvaluator(judge, nil), NewRuleReformulator(nil), cfg)
	require.NoError(t, err)
	p, err := NewPipeline(c, NewTemplateGenerator(), opts...)
	require.NoError(t, err)
	return p
}

func TestPipelineAnswersAcceptedQuery(t *testing.T) {
	fuser := &scriptedFuser{bundles: []ContextBundle{bundleWith("a", 0.9)}}
	judge := &scriptedJudge{scores: []float64{0.9}}
	p := newTestPipeline(t, fuser, judge, ControllerConfig{AcceptThreshold: 0.6, MaxRetries: 2})

	resp, err := p.Run(context.Background(), "what is stored in chunk a?")
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, resp.State)
	assert.Equal(t, ConfidenceHigh, resp.Confidence)
	assert.NotEmpty(t, resp.Answer)
	assert.Len(t, resp.Citations, 1)
	assert.Equal(t, []string{"vector:a"}, resp.Sources)
	assert.Len(t, resp.Attempts, 1)
	assert.False(t, resp.Cached)
}

func TestPipelineConfidenceLevels(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  Confidence
	}{
		{"high above 0.7", 0.9, ConfidenceHigh},
		{"medium between threshold and 0.7", 0.65, ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fuser := &scriptedFuser{bundles: []ContextBundle{bundleWith("a", tt.score)}}
			judge := &scriptedJudge{scores: []float64{tt.score}}
			p := newTestPipeline(t, fuser, judge, ControllerConfig{AcceptThreshold: 0.6, MaxRetries: 0})

			resp, err := p.Run(context.Background(), "confidence check")
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Confidence)
		})
	}
}

func TestPipelineExhaustedIsLowConfidence(t *testing.T) {
	fuser := &scriptedFuser{bundles: []ContextBundle{
		bundleWith("a", 0.1), bundleWith("b", 0.3), bundleWith("c", 0.2),
	}}
	judge := &scriptedJudge{scores: []float64{0.1, 0.3, 0.2}}
	p := newTestPipeline(t, fuser, judge, ControllerConfig{AcceptThreshold: 0.6, MaxRetries: 2})

	resp, err := p.Run(context.Background(), "hard question")
	require.NoError(t, err)

	assert.Equal(t, StateExhausted, resp.State)
	assert.Equal(t, ConfidenceLow, resp.Confidence)
	// 低置信时仍然基于最佳 bundle 产出答案。
	assert.NotEmpty(t, resp.Answer)
	assert.Contains(t, resp.Answer, "content b")
}

func TestPipelineAbortedReturnsWithoutAnswer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, &scriptedFuser{}, &scriptedJudge{},
		ControllerConfig{AcceptThreshold: 0.6, MaxRetries: 2})

	resp, err := p.Run(ctx, "cancelled question")
	require.NoError(t, err)
	assert.Equal(t, StateAborted, resp.State)
	assert.Empty(t, resp.Answer)
	assert.Equal(t, ConfidenceLow, resp.Confidence)
}

func TestPipelineCachesAnswers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewResultCache(client, "corag:", 0, nil)

	fuser := &scriptedFuser{bundles: []ContextBundle{bundleWith("a", 0.9)}}
	judge := &scriptedJudge{scores: []float64{0.9}}
	p := newTestPipeline(t, fuser, judge,
		ControllerConfig{AcceptThreshold: 0.6, MaxRetries: 2},
		WithResultCache(cache))

	first, err := p.Run(context.Background(), "cache me")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := p.Run(context.Background(), "cache me")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	// 第二次命中缓存，检索不再发生。
	assert.Equal(t, 1, fuser.calls)
}

func TestPipelineCacheMissOnDifferentQuestion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewResultCache(client, "corag:", 0, nil)

	fuser := &scriptedFuser{bundles: []ContextBundle{bundleWith("a", 0.9), bundleWith("b", 0.9)}}
	judge := &scriptedJudge{scores: []float64{0.9, 0.9}}
	p := newTestPipeline(t, fuser, judge,
		ControllerConfig{AcceptThreshold: 0.6, MaxRetries: 2},
		WithResultCache(cache))

	_, err := p.Run(context.Background(), "question one")
	require.NoError(t, err)
	_, err = p.Run(context.Background(), "question two")
	require.NoError(t, err)
	assert.Equal(t, 2, fuser.calls)
}

func TestPipelineRecordsUsagePerStage(t *testing.T) {
	provider := &stubCompletion{output: "generated answer"}
	fuser := &scriptedFuser{bundles: []ContextBundle{bundleWith("a", 0.9)}}
	judge := &scriptedJudge{scores: []float64{0.9}}

	c, err := NewController(fuser, NewEvaluator(judge, nil), NewRuleReformulator(nil),
		ControllerConfig{AcceptThreshold: 0.6, MaxRetries: 2})
	require.NoError(t, err)
	p, err := NewPipeline(c, NewLLMGenerator(provider, nil, nil))
	require.NoError(t, err)

	resp, err := p.Run(context.Background(), "usage accounting")
	require.NoError(t, err)
	require.Contains(t, resp.Usage, "generation")
	assert.Greater(t, resp.Usage["generation"].TotalTokens, 0)
}

func TestPipelineWritesCompletionStep(t *testing.T) {
	store := scratchpad.NewMemoryStore(100)
	fuser := &scriptedFuser{bundles: []ContextBundle{bundleWith("a", 0.9)}}
	judge := &scriptedJudge{scores: []float64{0.9}}
	p := newTestPipeline(t, fuser, judge,
		ControllerConfig{AcceptThreshold: 0.6, MaxRetries: 2},
		WithPipelineScratchpad(store))

	_, err := p.Run(context.Background(), "audited question")
	require.NoError(t, err)

	entries, err := store.Load(context.Background(), 100)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "Completion", entries[len(entries)-1].Step)
}
