package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/corag/types"
)

func newTestServer(t *testing.T, status int, resp any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIProviderEmbedQuery(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, map[string]any{
		"data": []map[string]any{
			{"index": 0, "embedding": []float64{0.1, 0.2, 0.3}},
		},
		"model": "text-embedding-3-small",
		"usage": map[string]int{"prompt_tokens": 4, "total_tokens": 4},
	})
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Model:      "text-embedding-3-small",
		Dimensions: 3,
	})

	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 3, p.Dimensions())
}

func TestOpenAIProviderComputesCost(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, map[string]any{
		"data": []map[string]any{
			{"index": 0, "embedding": []float64{0.1}},
		},
		"model": "text-embedding-3-small",
		"usage": map[string]int{"prompt_tokens": 1000, "total_tokens": 1000},
	})
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "text-embedding-3-small",
	})

	resp, err := p.Embed(context.Background(), &Request{Input: []string{"hello"}})
	require.NoError(t, err)
	// $0.02 / 1M tokens × 1000 tokens
	assert.InDelta(t, 0.00002, resp.Usage.Cost, 1e-12)
}

func TestCostForUnknownModelIsZero(t *testing.T) {
	assert.Zero(t, CostFor("some-future-model", 10_000))
	assert.InDelta(t, 0.13, CostFor("text-embedding-3-large", 1_000_000), 1e-9)
}

func TestOpenAIProviderUpstreamError(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError, map[string]string{"error": "boom"})
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key"})

	_, err := p.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestRateLimitedRespectsContextCancellation(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, map[string]any{
		"data":  []map[string]any{{"index": 0, "embedding": []float64{1}}},
		"model": "m",
		"usage": map[string]int{},
	})
	defer srv.Close()

	inner := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key"})
	// One request per minute with burst 1: the second call must block.
	limited := NewRateLimited(inner, 1.0/60.0, 1)

	_, err := limited.EmbedQuery(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limited.EmbedQuery(ctx, "second")
	assert.Error(t, err)
}
