package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/studyhub/backend-go/internal/kafka"
	"github.com/studyhub/backend-go/internal/knowledge"
	"github.com/studyhub/backend-go/internal/logger"
	"github.com/studyhub/backend-go/internal/models"
)

// IndexJob 一次后台索引任务
type IndexJob struct {
	Materials []models.Material
	UserID    uint
	TopicID   uint
}

// IndexWorker 后台索引工作者。上传侧入队后立即返回，
// 单个goroutine顺序消费，结果只通过日志、状态缓存和指标观察，
// 永远不回传给触发方。
type IndexWorker struct {
	indexer *knowledge.Indexer
	status  *IndexStatusStore
	metrics *MetricsService

	jobs chan IndexJob
	wg   sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewIndexWorker 创建索引工作者
func NewIndexWorker(indexer *knowledge.Indexer, status *IndexStatusStore, metrics *MetricsService, queueSize int) *IndexWorker {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &IndexWorker{
		indexer: indexer,
		status:  status,
		metrics: metrics,
		jobs:    make(chan IndexJob, queueSize),
	}
}

// Start 启动消费循环
func (w *IndexWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Enqueue 投递索引任务。队列满或工作者已停止时丢弃并告警，
// 上传响应绝不因索引阻塞或失败。
// 入队与关停共用一把锁：send和close不可能交错，任何时序下都不会panic。
func (w *IndexWorker) Enqueue(job IndexJob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		logger.Warn("index worker stopped, dropping job",
			zap.Uint("user_id", job.UserID), zap.Uint("topic_id", job.TopicID))
		return false
	}

	select {
	case w.jobs <- job:
		if w.status != nil {
			w.status.Set(context.Background(), job.UserID, job.TopicID, IndexStatus{Status: IndexStatusPending})
		}
		if w.metrics != nil {
			w.metrics.SetQueueDepth(len(w.jobs))
		}
		return true
	default:
		logger.Warn("index queue full, dropping job",
			zap.Uint("user_id", job.UserID), zap.Uint("topic_id", job.TopicID))
		return false
	}
}

// Stop 停止接收新任务并等待在途任务完成。可重复调用。
func (w *IndexWorker) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.jobs)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *IndexWorker) run() {
	defer w.wg.Done()

	for job := range w.jobs {
		w.process(job)
		if w.metrics != nil {
			w.metrics.SetQueueDepth(len(w.jobs))
		}
	}
}

func (w *IndexWorker) process(job IndexJob) {
	ctx := context.Background()

	if w.status != nil {
		w.status.Set(ctx, job.UserID, job.TopicID, IndexStatus{Status: IndexStatusRunning})
	}

	report, err := w.indexer.IndexMaterials(ctx, job.Materials, job.UserID, job.TopicID)
	if err != nil {
		logger.Error("index job failed",
			zap.Uint("user_id", job.UserID),
			zap.Uint("topic_id", job.TopicID),
			zap.Error(err))
		if w.status != nil {
			w.status.Set(ctx, job.UserID, job.TopicID, IndexStatus{
				Status:             IndexStatusFailed,
				MaterialsProcessed: len(job.Materials),
			})
		}
		return
	}

	if w.status != nil {
		w.status.SetFromReport(ctx, job.UserID, job.TopicID, report)
	}
	if w.metrics != nil {
		w.metrics.RecordIndexed(report.MaterialsAdded, len(report.Errors))
		w.metrics.RecordChunks(report.ChunksStored)
	}
	if err := kafka.PublishIndexEvent(report.CollectionName, job.UserID, job.TopicID,
		report.MaterialsProcessed, report.MaterialsAdded, len(report.Errors), report.Success); err != nil {
		logger.Warn("failed to publish index event", zap.Error(err))
	}
}
