package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/studyhub/backend-go/internal/config"
	"github.com/studyhub/backend-go/internal/knowledge"
	"github.com/studyhub/backend-go/internal/logger"
	"github.com/studyhub/backend-go/internal/models"
)

// StudyService 核心管道的对外门面。外围CRUD层只通过它触发索引、
// 检索调试、生成与删除，不直接接触管道组件。
type StudyService struct {
	embedder  knowledge.Embedder
	store     knowledge.VectorStore
	generator *knowledge.Generator
	chat      *knowledge.ChatOrchestrator
	worker    *IndexWorker
	status    *IndexStatusStore
	metrics   *MetricsService

	topK          int
	minScore      float64
	searchTimeout time.Duration
}

// NewStudyService 创建学习服务门面
func NewStudyService(
	cfg *config.Config,
	embedder knowledge.Embedder,
	store knowledge.VectorStore,
	generator *knowledge.Generator,
	chat *knowledge.ChatOrchestrator,
	worker *IndexWorker,
	status *IndexStatusStore,
	metrics *MetricsService,
) *StudyService {
	return &StudyService{
		embedder:      embedder,
		store:         store,
		generator:     generator,
		chat:          chat,
		worker:        worker,
		status:        status,
		metrics:       metrics,
		topK:          cfg.Knowledge.TopK,
		minScore:      cfg.Knowledge.MinScore,
		searchTimeout: time.Duration(cfg.Knowledge.SearchTTL) * time.Second,
	}
}

// EnqueueIndexing 上传落库后触发后台索引，立即返回。
// 结果通过日志、状态缓存与指标观察。
func (s *StudyService) EnqueueIndexing(materials []models.Material, userID, topicID uint) error {
	if userID == 0 || topicID == 0 {
		return knowledge.ErrInvalidTenant
	}

	if !s.worker.Enqueue(IndexJob{Materials: materials, UserID: userID, TopicID: topicID}) {
		logger.Warn("indexing job not accepted",
			zap.Uint("user_id", userID), zap.Uint("topic_id", topicID))
	}
	return nil
}

// IndexingStatus 查询最近一次索引运行的状态
func (s *StudyService) IndexingStatus(ctx context.Context, userID, topicID uint) (*IndexStatus, error) {
	if userID == 0 || topicID == 0 {
		return nil, knowledge.ErrInvalidTenant
	}
	return s.status.Get(ctx, userID, topicID)
}

// Search 只读检索接口，用于调试与巡检
func (s *StudyService) Search(ctx context.Context, query string, userID, topicID uint, topK int) ([]knowledge.RetrievalResult, error) {
	if userID == 0 || topicID == 0 {
		return nil, knowledge.ErrInvalidTenant
	}
	if topK <= 0 {
		topK = s.topK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := s.store.Search(ctx, knowledge.SearchQuery{
		Collection: knowledge.CollectionName(userID, topicID),
		Vector:     vec,
		TopK:       topK,
		MinScore:   s.minScore,
		Timeout:    s.searchTimeout,
	})
	if s.metrics != nil {
		s.metrics.ObserveSearch(time.Since(start))
	}
	return results, err
}

// GenerateNote 生成学习笔记
func (s *StudyService) GenerateNote(ctx context.Context, goal string, userID, topicID uint) (*models.StudyNote, error) {
	note, err := s.generator.GenerateNote(ctx, goal, userID, topicID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordGeneration("note", note.Fallback)
	}
	return note, nil
}

// GenerateQuiz 生成测验
func (s *StudyService) GenerateQuiz(ctx context.Context, title, difficulty string, userID, topicID uint) (*models.Quiz, error) {
	quiz, err := s.generator.GenerateQuiz(ctx, title, difficulty, userID, topicID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordGeneration("quiz", quiz.Fallback)
	}
	return quiz, nil
}

// Chat 处理一轮学习问答
func (s *StudyService) Chat(ctx context.Context, req knowledge.ChatRequest) (*models.ChatReply, error) {
	reply, err := s.chat.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordGeneration("chat", reply.Fallback)
	}
	return reply, nil
}

// RemoveMaterial 显式级联：资料删除后清掉它在向量库中的分块
func (s *StudyService) RemoveMaterial(ctx context.Context, userID, topicID, materialID uint) error {
	if userID == 0 || topicID == 0 {
		return knowledge.ErrInvalidTenant
	}
	name := knowledge.CollectionName(userID, topicID)
	if err := s.store.DeleteByMaterial(ctx, name, materialID); err != nil {
		return err
	}
	logger.Info("material chunks removed",
		zap.String("collection", name), zap.Uint("material_id", materialID))
	return nil
}

// DeleteCollection 主题删除时清空整个租户集合
func (s *StudyService) DeleteCollection(ctx context.Context, userID, topicID uint) (bool, error) {
	if userID == 0 || topicID == 0 {
		return false, knowledge.ErrInvalidTenant
	}

	name := knowledge.CollectionName(userID, topicID)
	existed, err := s.store.DeleteCollection(ctx, name)
	if err != nil {
		return false, err
	}
	if s.status != nil {
		s.status.Clear(ctx, userID, topicID)
	}
	logger.Info("collection deleted", zap.String("collection", name), zap.Bool("existed", existed))
	return existed, nil
}
