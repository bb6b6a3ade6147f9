package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/corag/types"
)

func TestQdrantIndexSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/chunks/points/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))

		var req struct {
			Vector []float64 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.Limit)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{"id": "x", "score": 0.9, "payload": map[string]any{"chunk_id": "c1", "text": "alpha"}},
				{"id": "y", "score": 0.4, "payload": map[string]any{"chunk_id": "c2", "text": "beta"}},
			},
		})
	}))
	defer srv.Close()

	idx := NewQdrantIndex(QdrantConfig{
		BaseURL:    srv.URL,
		APIKey:     "secret",
		Collection: "chunks",
	}, zap.NewNop())

	hits, err := idx.Search(context.Background(), []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].Chunk.ID)
	assert.Equal(t, "alpha", hits[0].Chunk.Text)
	assert.InDelta(t, 0.95, hits[0].Score, 1e-9)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestQdrantIndexUnreachableIsSoftFailure(t *testing.T) {
	t.Parallel()

	idx := NewQdrantIndex(QdrantConfig{
		BaseURL:    "http://127.0.0.1:1", // nothing listens here
		Collection: "chunks",
	}, zap.NewNop())

	_, err := idx.Search(context.Background(), []float64{1, 0}, 2)
	require.Error(t, err)
	assert.Equal(t, types.ErrIndexUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsSoft(err))
}

func TestQdrantPointIDStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, qdrantPointID("chunk-1"), qdrantPointID("chunk-1"))
	assert.NotEqual(t, qdrantPointID("chunk-1"), qdrantPointID("chunk-2"))
}
