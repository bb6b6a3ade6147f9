// Package scratchpad 提供检索流水线的结构化审计日志。
//
// 每个查询的检索、评估、纠偏、生成步骤都会落到 scratchpad，
// 供上层展示与事后审计。提供内存、SQLite（GORM）和 Redis 三种后端。
package scratchpad

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry 一条审计日志。
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Query     string         `json:"query"`
	Step      string         `json:"step"` // Retrieval / Evaluation / Correction / Completion ...
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Store scratchpad 存储接口。
type Store interface {
	// Log 记录一条审计日志。
	Log(ctx context.Context, entry Entry) error

	// Load 返回最近 limit 条日志，按时间升序。
	Load(ctx context.Context, limit int) ([]Entry, error)

	// Clear 清空日志。
	Clear(ctx context.Context) error
}

// NewEntry 构造一条带 ID 和时间戳的日志。
func NewEntry(query, step, content string, metadata map[string]any) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Query:     query,
		Step:      step,
		Content:   content,
		Metadata:  metadata,
	}
}

// MemoryStore 内存 scratchpad（用于测试和单进程场景）。
type MemoryStore struct {
	entries []Entry
	maxSize int
	mu      sync.RWMutex
}

// NewMemoryStore 创建内存 scratchpad。maxSize <= 0 表示不限。
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{maxSize: maxSize}
}

// Log 记录一条日志，超过上限时丢弃最旧的。
func (s *MemoryStore) Log(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if s.maxSize > 0 && len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	return nil
}

// Load 返回最近 limit 条日志。
func (s *MemoryStore) Load(ctx context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Clear 清空日志。
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}
