package scratchpad

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed scratchpad suitable for distributed
// deployments. Entries live in a single list key, trimmed to MaxEntries.
type RedisStore struct {
	client     *redis.Client
	key        string
	maxEntries int
}

// RedisStoreConfig configures RedisStore.
type RedisStoreConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	MaxEntries int
}

// NewRedisStore creates a Redis-backed scratchpad store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "corag:"
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 200
	}

	return &RedisStore{
		client:     client,
		key:        keyPrefix + "scratchpad",
		maxEntries: maxEntries,
	}, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks store health.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Log appends an entry and trims the list to maxEntries.
func (s *RedisStore) Log(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal scratchpad entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, int64(-s.maxEntries), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append scratchpad entry: %w", err)
	}
	return nil
}

// Load returns the most recent limit entries in chronological order.
func (s *RedisStore) Load(ctx context.Context, limit int) ([]Entry, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	raw, err := s.client.LRange(ctx, s.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load scratchpad entries: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// 跳过坏条目而不是失败：审计日志不应阻塞查询
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Clear removes all entries.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
