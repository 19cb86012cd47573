package knowledge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/studyhub/backend-go/internal/logger"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Database   string
	VectorSize int
	UseTLS     bool
	Timeout    time.Duration
}

type milvusVectorStore struct {
	milvusClient client.Client
	vectorSize   int
}

// NewMilvusVectorStore 创建Milvus向量存储
func NewMilvusVectorStore(opts MilvusOptions) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorStore{
		milvusClient: milvusClient,
		vectorSize:   opts.VectorSize,
	}, nil
}

// CreateCollection 幂等创建租户集合，已存在时报告Existed
func (s *milvusVectorStore) CreateCollection(ctx context.Context, name string) (CreateResult, error) {
	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return CreateResult{}, fmt.Errorf("failed to check collection: %w", err)
	}
	if hasCollection {
		return CreateResult{Existed: true}, nil
	}

	schema := &entity.Schema{
		CollectionName: name,
		Description:    "study material chunks",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     true,
			},
			{
				Name:     "material_id",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "user_id",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "topic_id",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "start_offset",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "file_name",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "file_type",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "32",
				},
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "65535",
				},
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", s.vectorSize),
				},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		// 并发创建同名集合时后到者按已存在处理
		exists, checkErr := s.milvusClient.HasCollection(ctx, name)
		if checkErr == nil && exists {
			return CreateResult{Existed: true}, nil
		}
		return CreateResult{}, fmt.Errorf("failed to create collection: %w", err)
	}

	var index entity.Index
	var indexErr error
	index, indexErr = entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if indexErr != nil {
		index, indexErr = entity.NewIndexIvfFlat(entity.COSINE, 128)
		if indexErr != nil {
			return CreateResult{}, fmt.Errorf("failed to create index: %w", indexErr)
		}
	}
	if err := s.milvusClient.CreateIndex(ctx, name, "vector", index, false); err != nil {
		// 索引创建失败不影响使用，只记录警告
		logger.Warn("failed to create vector index", zap.String("collection", name), zap.Error(err))
	}

	if err := s.milvusClient.LoadCollection(ctx, name, false); err != nil {
		logger.Warn("failed to load collection", zap.String("collection", name), zap.Error(err))
	}

	return CreateResult{Created: true}, nil
}

// AddDocuments 批量写入分块向量
func (s *milvusVectorStore) AddDocuments(ctx context.Context, name string, docs []Document) (AddResult, error) {
	if len(docs) == 0 {
		return AddResult{}, nil
	}
	if _, err := s.CreateCollection(ctx, name); err != nil {
		return AddResult{}, err
	}

	materialIDs := make([]int64, 0, len(docs))
	userIDs := make([]int64, 0, len(docs))
	topicIDs := make([]int64, 0, len(docs))
	chunkIndexes := make([]int64, 0, len(docs))
	startOffsets := make([]int64, 0, len(docs))
	fileNames := make([]string, 0, len(docs))
	fileTypes := make([]string, 0, len(docs))
	contents := make([]string, 0, len(docs))
	vectors := make([][]float32, 0, len(docs))

	var result AddResult
	var firstErr string
	skipped := 0
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			skipped++
			if firstErr == "" {
				firstErr = fmt.Sprintf("material %d chunk %d: empty embedding",
					doc.Metadata.MaterialID, doc.Metadata.ChunkIndex)
			}
			continue
		}
		embedding := doc.Embedding
		if len(embedding) != s.vectorSize {
			// 维度不一致时补零/截断，保证插入不被整批拒绝
			padded := make([]float32, s.vectorSize)
			copy(padded, embedding)
			embedding = padded
		}
		materialIDs = append(materialIDs, int64(doc.Metadata.MaterialID))
		userIDs = append(userIDs, int64(doc.Metadata.UserID))
		topicIDs = append(topicIDs, int64(doc.Metadata.TopicID))
		chunkIndexes = append(chunkIndexes, int64(doc.Metadata.ChunkIndex))
		startOffsets = append(startOffsets, int64(doc.Metadata.StartOffset))
		fileNames = append(fileNames, doc.Metadata.FileName)
		fileTypes = append(fileTypes, doc.Metadata.FileType)
		contents = append(contents, doc.Text)
		vectors = append(vectors, embedding)
	}

	if len(contents) > 0 {
		_, err := s.milvusClient.Insert(ctx, name, "",
			entity.NewColumnInt64("material_id", materialIDs),
			entity.NewColumnInt64("user_id", userIDs),
			entity.NewColumnInt64("topic_id", topicIDs),
			entity.NewColumnInt64("chunk_index", chunkIndexes),
			entity.NewColumnInt64("start_offset", startOffsets),
			entity.NewColumnVarChar("file_name", fileNames),
			entity.NewColumnVarChar("file_type", fileTypes),
			entity.NewColumnVarChar("content", contents),
			entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
		)
		if err != nil {
			return AddResult{}, fmt.Errorf("milvus insert failed: %w", err)
		}
		result.Added = len(contents)

		if err := s.milvusClient.Flush(ctx, name, false); err != nil {
			logger.Warn("failed to flush collection", zap.String("collection", name), zap.Error(err))
		}
	}

	if skipped > 0 {
		result.Err = fmt.Sprintf("%d of %d documents rejected: %s", skipped, len(docs), firstErr)
	}
	return result, nil
}

// Search 向量检索。集合不存在返回空结果；超过软截止时返回空结果而非错误。
func (s *milvusVectorStore) Search(ctx context.Context, query SearchQuery) ([]RetrievalResult, error) {
	if len(query.Vector) == 0 {
		return []RetrievalResult{}, nil
	}
	if query.TopK <= 0 {
		query.TopK = 10
	}

	hasCollection, err := s.milvusClient.HasCollection(ctx, query.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection: %w", err)
	}
	if !hasCollection {
		return []RetrievalResult{}, nil
	}

	searchCtx := ctx
	if query.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, query.Timeout)
		defer cancel()
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		searchCtx,
		query.Collection,
		[]string{},
		"",
		[]string{"material_id", "user_id", "topic_id", "chunk_index", "start_offset", "file_name", "file_type", "content"},
		[]entity.Vector{entity.FloatVector(query.Vector)},
		"vector",
		entity.COSINE,
		query.TopK,
		sp,
	)
	if err != nil {
		// 软截止：超时按部分结果（此处为空）处理，不向调用方冒泡
		if searchCtx.Err() != nil && ctx.Err() == nil {
			logger.Warn("milvus search timed out, returning empty results",
				zap.String("collection", query.Collection))
			return []RetrievalResult{}, nil
		}
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	if len(searchResults) == 0 {
		return []RetrievalResult{}, nil
	}
	sr := searchResults[0]
	if sr.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", sr.Err)
	}
	if sr.ResultCount == 0 {
		return []RetrievalResult{}, nil
	}

	columns := map[string]entity.Column{}
	for _, field := range sr.Fields {
		columns[field.Name()] = field
	}
	int64At := func(name string, i int) int64 {
		if col, ok := columns[name].(*entity.ColumnInt64); ok && i < len(col.Data()) {
			return col.Data()[i]
		}
		return 0
	}
	stringAt := func(name string, i int) string {
		if col, ok := columns[name].(*entity.ColumnVarChar); ok && i < len(col.Data()) {
			return col.Data()[i]
		}
		return ""
	}

	results := make([]RetrievalResult, 0, sr.ResultCount)
	for i := 0; i < sr.ResultCount; i++ {
		score := float64(0)
		if i < len(sr.Scores) {
			score = float64(sr.Scores[i])
		}
		if score < query.MinScore {
			continue
		}
		results = append(results, RetrievalResult{
			Text:  stringAt("content", i),
			Score: score,
			Metadata: ChunkMetadata{
				MaterialID:  uint(int64At("material_id", i)),
				UserID:      uint(int64At("user_id", i)),
				TopicID:     uint(int64At("topic_id", i)),
				ChunkIndex:  int(int64At("chunk_index", i)),
				StartOffset: int(int64At("start_offset", i)),
				FileName:    stringAt("file_name", i),
				FileType:    stringAt("file_type", i),
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// DeleteByMaterial 删除某份资料的全部分块
func (s *milvusVectorStore) DeleteByMaterial(ctx context.Context, name string, materialID uint) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !hasCollection {
		return nil
	}

	expr := fmt.Sprintf("material_id == %d", materialID)
	if err := s.milvusClient.Delete(ctx, name, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}

	if err := s.milvusClient.Flush(ctx, name, false); err != nil {
		logger.Warn("failed to flush after delete", zap.String("collection", name), zap.Error(err))
	}
	return nil
}

// DeleteCollection 删除整个租户集合
func (s *milvusVectorStore) DeleteCollection(ctx context.Context, name string) (bool, error) {
	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	if !hasCollection {
		return false, nil
	}
	if err := s.milvusClient.DropCollection(ctx, name); err != nil {
		return false, fmt.Errorf("milvus drop collection failed: %w", err)
	}
	return true, nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
