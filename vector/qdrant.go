package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/corag/types"
)

// QdrantConfig configures the Qdrant-backed Index.
//
// Notes:
// - Qdrant point IDs are UUIDs; a stable UUID is derived from Chunk.ID.
// - Chunk text/metadata are stored in the point payload.
type QdrantConfig struct {
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	BaseURL    string        `json:"base_url,omitempty"`
	APIKey     string        `json:"api_key,omitempty"`
	Collection string        `json:"collection"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	AutoCreateCollection bool   `json:"auto_create_collection,omitempty"`
	Distance             string `json:"distance,omitempty"`    // Cosine (default), Dot, Euclid
	VectorSize           int    `json:"vector_size,omitempty"` // Optional override; defaults to len(embedding)
}

// QdrantIndex implements Index using Qdrant's REST API.
type QdrantIndex struct {
	cfg QdrantConfig

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantIndex creates a Qdrant-backed Index.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantIndex{
		cfg:     cfg,
		baseURL: baseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With(zap.String("component", "qdrant_index")),
	}
}

var qdrantNamespace = uuid.MustParse("8f6b3a52-1d2e-4c7a-9b0f-6a4d8e2c5f13")

func qdrantPointID(chunkID string) string {
	// Stable UUID derived from chunk ID (supports any string input).
	return uuid.NewSHA1(qdrantNamespace, []byte(chunkID)).String()
}

// Dimensions 返回配置的向量维度。
func (s *QdrantIndex) Dimensions() int { return s.cfg.VectorSize }

func (s *QdrantIndex) ensureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return types.NewError(types.ErrInvalidConfig, "qdrant collection is required").WithComponent("qdrant_index")
	}
	if vectorSize <= 0 {
		return types.NewError(types.ErrInvalidConfig, "qdrant vector size must be > 0").WithComponent("qdrant_index")
	}

	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     vectorSize,
				"distance": s.cfg.Distance,
			},
		}

		endpoint := fmt.Sprintf("%s/collections/%s", s.baseURL, url.PathEscape(s.cfg.Collection))
		reqBody, _ := json.Marshal(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(reqBody))
		if err != nil {
			s.ensureErr = err
			return
		}
		s.applyHeaders(req)

		resp, err := s.client.Do(req)
		if err != nil {
			s.ensureErr = unavailable(err)
			return
		}
		defer resp.Body.Close()

		// Qdrant returns 409 if collection exists.
		if resp.StatusCode == http.StatusConflict {
			s.ensureErr = nil
			return
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			s.ensureErr = fmt.Errorf("qdrant create collection failed: status=%d body=%s", resp.StatusCode, string(raw))
			return
		}
		s.ensureErr = nil
	})

	return s.ensureErr
}

func (s *QdrantIndex) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		// Qdrant convention.
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func unavailable(err error) error {
	return types.NewError(types.ErrIndexUnavailable, err.Error()).
		WithRetryable(true).
		WithComponent("qdrant_index")
}

func (s *QdrantIndex) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusServiceUnavailable {
		raw, _ := io.ReadAll(resp.Body)
		return unavailable(fmt.Errorf("qdrant request failed: status=%d body=%s", resp.StatusCode, string(raw)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AddChunks upserts chunks as Qdrant points.
func (s *QdrantIndex) AddChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return types.NewError(types.ErrInvalidConfig, "qdrant collection is required").WithComponent("qdrant_index")
	}

	vectorSize := s.cfg.VectorSize
	for i, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk[%d] has empty id", i)
		}
		if len(c.Embedding) == 0 {
			return types.NewError(types.ErrDimensionMismatch,
				fmt.Sprintf("chunk %s has no embedding", c.ID)).WithComponent("qdrant_index")
		}
		if vectorSize == 0 {
			vectorSize = len(c.Embedding)
		}
		if len(c.Embedding) != vectorSize {
			return types.NewError(types.ErrDimensionMismatch,
				fmt.Sprintf("chunk %s: expected %d dimensions, got %d", c.ID, vectorSize, len(c.Embedding))).
				WithComponent("qdrant_index")
		}
	}

	if err := s.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float64      `json:"vector"`
		Payload map[string]any `json:"payload,omitempty"`
	}

	points := make([]point, 0, len(chunks))
	for _, c := range chunks {
		payload := map[string]any{
			"chunk_id":           c.ID,
			"text":               c.Text,
			"source_document_id": c.SourceDocumentID,
			"offset_start":       c.OffsetStart,
			"offset_end":         c.OffsetEnd,
			"metadata":           c.Metadata,
		}
		points = append(points, point{
			ID:      qdrantPointID(c.ID),
			Vector:  c.Embedding,
			Payload: payload,
		})
	}

	req := struct {
		Points []point `json:"points"`
	}{Points: points}

	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(s.cfg.Collection))
	var resp any
	if err := s.doJSON(ctx, http.MethodPut, path, req, &resp); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(chunks)))
	return nil
}

// Search 执行最近邻搜索。余弦分数映射到 [0,1]，同分按 chunk ID 升序。
func (s *QdrantIndex) Search(ctx context.Context, queryEmbedding []float64, k int) ([]Hit, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, types.NewError(types.ErrInvalidConfig, "qdrant collection is required").WithComponent("qdrant_index")
	}
	if k <= 0 {
		return nil, nil
	}
	if len(queryEmbedding) == 0 {
		return nil, types.NewError(types.ErrDimensionMismatch, "query embedding is required").WithComponent("qdrant_index")
	}
	if s.cfg.VectorSize != 0 && len(queryEmbedding) != s.cfg.VectorSize {
		return nil, types.NewError(types.ErrDimensionMismatch,
			fmt.Sprintf("query: expected %d dimensions, got %d", s.cfg.VectorSize, len(queryEmbedding))).
			WithComponent("qdrant_index")
	}

	req := struct {
		Vector      []float64 `json:"vector"`
		Limit       int       `json:"limit"`
		WithPayload bool      `json:"with_payload"`
		WithVector  bool      `json:"with_vector"`
	}{
		Vector:      queryEmbedding,
		Limit:       k,
		WithPayload: true,
		WithVector:  false,
	}

	type qdrantResult struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	var resp struct {
		Result []qdrantResult `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		c := Chunk{
			ID:               payloadString(r.Payload, "chunk_id"),
			Text:             payloadString(r.Payload, "text"),
			SourceDocumentID: payloadString(r.Payload, "source_document_id"),
		}
		if md, ok := r.Payload["metadata"].(map[string]any); ok {
			c.Metadata = md
		}
		// Qdrant cosine score 已在 [-1,1]，映射到 [0,1] 并夹緊边界。
		score := (r.Score + 1) / 2
		score = math.Max(0, math.Min(1, score))
		hits = append(hits, Hit{Chunk: c, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})

	return hits, nil
}

// Count 返回集合中的点数。
func (s *QdrantIndex) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
