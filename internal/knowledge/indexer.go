package knowledge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studyhub/backend-go/internal/logger"
	"github.com/studyhub/backend-go/internal/models"
)

// MaterialError 单份资料的处理失败记录
type MaterialError struct {
	MaterialID uint   `json:"material_id"`
	Reason     string `json:"reason"`
}

// IndexReport 一次批量索引的汇总结果。部分成功仍算成功。
type IndexReport struct {
	CollectionName     string          `json:"collection_name"`
	CollectionCreated  bool            `json:"collection_created"`
	CollectionExisted  bool            `json:"collection_existed"`
	MaterialsProcessed int             `json:"materials_processed"`
	MaterialsAdded     int             `json:"materials_added"`
	ChunksStored       int             `json:"chunks_stored"`
	Errors             []MaterialError `json:"errors,omitempty"`
	Success            bool            `json:"success"`
}

// IndexerOptions 索引编排器配置
type IndexerOptions struct {
	MaxMaterials    int           // 单次批量上限，超出的资料留给下一次
	MaterialTimeout time.Duration // 单份资料的处理时间预算
}

// Indexer 索引编排器：提取→分块→向量化→入库。
// 资料按输入顺序逐一处理，单份失败只记录不中断。
type Indexer struct {
	extractor *Extractor
	chunker   *Chunker
	embedder  Embedder
	store     VectorStore
	opts      IndexerOptions
}

// NewIndexer 创建索引编排器
func NewIndexer(extractor *Extractor, chunker *Chunker, embedder Embedder, store VectorStore, opts IndexerOptions) *Indexer {
	if opts.MaxMaterials <= 0 {
		opts.MaxMaterials = 20
	}
	if opts.MaterialTimeout <= 0 {
		opts.MaterialTimeout = 90 * time.Second
	}
	return &Indexer{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		opts:      opts,
	}
}

// IndexMaterials 批量索引一批资料到(userID, topicID)对应的集合。
// 租户键非法立即报错；除此之外任何单份资料的失败都聚合进报告。
func (idx *Indexer) IndexMaterials(ctx context.Context, materials []models.Material, userID, topicID uint) (*IndexReport, error) {
	if userID == 0 || topicID == 0 {
		return nil, ErrInvalidTenant
	}

	report := &IndexReport{
		CollectionName: CollectionName(userID, topicID),
	}

	created, err := idx.store.CreateCollection(ctx, report.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %s: %w", report.CollectionName, err)
	}
	report.CollectionCreated = created.Created
	report.CollectionExisted = created.Existed

	batch := materials
	if len(batch) > idx.opts.MaxMaterials {
		logger.Warn("material batch truncated",
			zap.Int("requested", len(batch)),
			zap.Int("max", idx.opts.MaxMaterials))
		batch = batch[:idx.opts.MaxMaterials]
	}

	for _, material := range batch {
		report.MaterialsProcessed++

		stored, err := idx.indexOne(ctx, report.CollectionName, material, userID, topicID)
		if err != nil {
			report.Errors = append(report.Errors, MaterialError{
				MaterialID: material.MaterialID,
				Reason:     err.Error(),
			})
			logger.Error("material indexing failed",
				zap.Uint("material_id", material.MaterialID),
				zap.String("file_name", material.FileName),
				zap.Error(err))
			continue
		}
		report.MaterialsAdded++
		report.ChunksStored += stored
	}

	report.Success = report.MaterialsAdded >= 1
	logger.Info("material batch indexed",
		zap.String("collection", report.CollectionName),
		zap.Int("processed", report.MaterialsProcessed),
		zap.Int("added", report.MaterialsAdded),
		zap.Int("failed", len(report.Errors)))

	return report, nil
}

// indexOne 处理单份资料，整个流程共享一个时间预算。返回入库的分块数。
func (idx *Indexer) indexOne(parent context.Context, collection string, material models.Material, userID, topicID uint) (int, error) {
	ctx, cancel := context.WithTimeout(parent, idx.opts.MaterialTimeout)
	defer cancel()

	text, err := idx.extractor.ExtractFile(material.FilePath, material.FileType)
	if err != nil {
		return 0, err
	}

	chunks := idx.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: %s contains no extractable text", ErrExtractionFailed, material.FileName)
	}

	docs := make([]Document, 0, len(chunks))
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("material %d timed out after %d chunks: %w",
				material.MaterialID, len(docs), err)
		}

		vec, err := idx.embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %d: %w", chunk.Index, err)
		}

		docs = append(docs, Document{
			Text:          chunk.Text,
			Embedding:     vec,
			EmbeddingMode: idx.embedder.Mode(),
			Metadata: ChunkMetadata{
				MaterialID:  material.MaterialID,
				UserID:      userID,
				TopicID:     topicID,
				FileName:    material.FileName,
				FileType:    material.FileType,
				ChunkIndex:  chunk.Index,
				StartOffset: chunk.StartOffset,
			},
		})
	}

	result, err := idx.store.AddDocuments(ctx, collection, docs)
	if err != nil {
		return 0, fmt.Errorf("add documents: %w", err)
	}
	if result.Added == 0 {
		return 0, fmt.Errorf("no chunks stored: %s", result.Err)
	}
	if result.Err != "" {
		// 部分写入成功即算资料入库，剩余的只记警告
		logger.Warn("partial chunk write",
			zap.Uint("material_id", material.MaterialID),
			zap.Int("added", result.Added),
			zap.Int("total", len(docs)),
			zap.String("reason", result.Err))
	}

	return result.Added, nil
}
