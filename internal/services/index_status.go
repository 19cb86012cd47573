package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/studyhub/backend-go/internal/config"
	"github.com/studyhub/backend-go/internal/knowledge"
	"github.com/studyhub/backend-go/internal/logger"
)

// 索引任务状态
const (
	IndexStatusPending = "pending"
	IndexStatusRunning = "running"
	IndexStatusDone    = "done"
	IndexStatusFailed  = "failed"
)

// IndexStatus 某个租户最近一次索引运行的状态快照
type IndexStatus struct {
	Status             string    `json:"status"`
	MaterialsProcessed int       `json:"materials_processed"`
	MaterialsAdded     int       `json:"materials_added"`
	FailedMaterials    int       `json:"failed_materials"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IndexStatusStore Redis索引状态缓存。Redis未配置时所有操作静默跳过，
// 状态查询返回未知而非报错。
type IndexStatusStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIndexStatusStore 创建索引状态缓存
func NewIndexStatusStore(cfg *config.RedisConfig) *IndexStatusStore {
	store := &IndexStatusStore{}
	if cfg == nil || !cfg.Enabled {
		return store
	}

	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}

	store.client = redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	store.ttl = ttl
	return store
}

func (s *IndexStatusStore) statusKey(userID, topicID uint) string {
	return fmt.Sprintf("study:index:status:%d:%d", userID, topicID)
}

// Set 记录索引状态
func (s *IndexStatusStore) Set(ctx context.Context, userID, topicID uint, status IndexStatus) {
	if s == nil || s.client == nil {
		return
	}

	status.UpdatedAt = time.Now()
	data, err := json.Marshal(status)
	if err != nil {
		return
	}

	if err := s.client.Set(ctx, s.statusKey(userID, topicID), data, s.ttl).Err(); err != nil {
		logger.Warn("failed to cache index status",
			zap.Uint("user_id", userID), zap.Uint("topic_id", topicID), zap.Error(err))
	}
}

// SetFromReport 从索引报告记录最终状态
func (s *IndexStatusStore) SetFromReport(ctx context.Context, userID, topicID uint, report *knowledge.IndexReport) {
	if report == nil {
		return
	}
	status := IndexStatusDone
	if !report.Success {
		status = IndexStatusFailed
	}
	s.Set(ctx, userID, topicID, IndexStatus{
		Status:             status,
		MaterialsProcessed: report.MaterialsProcessed,
		MaterialsAdded:     report.MaterialsAdded,
		FailedMaterials:    len(report.Errors),
	})
}

// Get 查询索引状态。缓存未命中或Redis不可用时返回(nil, nil)。
func (s *IndexStatusStore) Get(ctx context.Context, userID, topicID uint) (*IndexStatus, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}

	data, err := s.client.Get(ctx, s.statusKey(userID, topicID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index status: %w", err)
	}

	var status IndexStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to decode index status: %w", err)
	}
	return &status, nil
}

// Clear 删除索引状态（集合删除后调用）
func (s *IndexStatusStore) Clear(ctx context.Context, userID, topicID uint) {
	if s == nil || s.client == nil {
		return
	}
	if err := s.client.Del(ctx, s.statusKey(userID, topicID)).Err(); err != nil {
		logger.Warn("failed to clear index status", zap.Error(err))
	}
}

// Close 关闭Redis连接
func (s *IndexStatusStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
