package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ResultCache 按问题缓存完整查询结果的 Redis 缓存。
// 缓存故障全部按未命中处理，绝不让缓存问题影响查询本身。
type ResultCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewResultCache 创建结果缓存。ttl ≤ 0 时使用 1 小时。
func NewResultCache(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "result_cache")),
	}
}

// Get 查找缓存的查询结果，未命中返回 (nil, false)。
func (c *ResultCache) Get(ctx context.Context, question string) (*Response, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.key(question)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("缓存读取失败", zap.Error(err))
		}
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("缓存条目损坏，忽略", zap.Error(err))
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

// Set 写入查询结果，失败只记日志。
func (c *ResultCache) Set(ctx context.Context, question string, resp *Response) {
	if c == nil || c.client == nil || resp == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("缓存序列化失败", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(question), data, c.ttl).Err(); err != nil {
		c.logger.Warn("缓存写入失败", zap.Error(err))
	}
}

func (c *ResultCache) key(question string) string {
	sum := sha256.Sum256([]byte(question))
	return c.keyPrefix + "answer:" + hex.EncodeToString(sum[:])
}
