package scratchpad

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// entryRecord 是 Entry 的 GORM 映射。Metadata 序列化为 JSON 文本。
type entryRecord struct {
	ID        string    `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	Query     string
	Step      string
	Content   string
	Metadata  string
}

func (entryRecord) TableName() string { return "scratchpad_entries" }

// GormStore 基于 GORM + SQLite 的持久化 scratchpad。
type GormStore struct {
	db         *gorm.DB
	maxEntries int
}

// NewGormStore 打开（或创建）SQLite 数据库并迁移表结构。
// path 可以是 ":memory:" 用于测试。maxEntries <= 0 表示不限。
func NewGormStore(path string, maxEntries int) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open scratchpad database: %w", err)
	}

	if err := db.AutoMigrate(&entryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormStore{db: db, maxEntries: maxEntries}, nil
}

// Log 记录一条日志，超过上限时删除最旧的。
func (s *GormStore) Log(ctx context.Context, entry Entry) error {
	metadata := ""
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal scratchpad metadata: %w", err)
		}
		metadata = string(data)
	}

	rec := entryRecord{
		ID:        entry.ID,
		Timestamp: entry.Timestamp,
		Query:     entry.Query,
		Step:      entry.Step,
		Content:   entry.Content,
		Metadata:  metadata,
	}
	// 插入与裁剪放在同一事务里，并发写入不会把表裁过头
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert scratchpad entry: %w", err)
		}

		if s.maxEntries <= 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&entryRecord{}).Count(&count).Error; err != nil {
			return err
		}
		if over := count - int64(s.maxEntries); over > 0 {
			var oldest []entryRecord
			if err := tx.Order("timestamp asc").
				Limit(int(over)).
				Find(&oldest).Error; err != nil {
				return err
			}
			if len(oldest) > 0 {
				if err := tx.Delete(&oldest).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Load 返回最近 limit 条日志，按时间升序。
func (s *GormStore) Load(ctx context.Context, limit int) ([]Entry, error) {
	q := s.db.WithContext(ctx).Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var records []entryRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load scratchpad entries: %w", err)
	}

	// 反转为时间升序
	entries := make([]Entry, len(records))
	for i, rec := range records {
		e := Entry{
			ID:        rec.ID,
			Timestamp: rec.Timestamp,
			Query:     rec.Query,
			Step:      rec.Step,
			Content:   rec.Content,
		}
		if rec.Metadata != "" {
			_ = json.Unmarshal([]byte(rec.Metadata), &e.Metadata)
		}
		entries[len(records)-1-i] = e
	}
	return entries, nil
}

// Clear 清空日志。
func (s *GormStore) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&entryRecord{}).Error
}
