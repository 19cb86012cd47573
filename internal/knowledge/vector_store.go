package knowledge

import (
	"context"
	"fmt"
	"time"
)

// ChunkMetadata 随每个分块存储的定位信息
type ChunkMetadata struct {
	MaterialID  uint   `json:"material_id"`
	UserID      uint   `json:"user_id"`
	TopicID     uint   `json:"topic_id"`
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type"`
	ChunkIndex  int    `json:"chunk_index"`
	StartOffset int    `json:"start_offset"`
}

// Document 向量库写入单元：分块文本 + 向量 + 元数据
type Document struct {
	Text          string
	Embedding     []float32
	EmbeddingMode string
	Metadata      ChunkMetadata
}

// CreateResult 集合创建结果
type CreateResult struct {
	Created bool
	Existed bool
}

// AddResult 批量写入结果。部分失败不回滚已写入的记录。
type AddResult struct {
	Added int
	Err   string // 非致命的失败描述，空串表示全部成功
}

// SearchQuery 相似度检索请求
type SearchQuery struct {
	Collection string
	Vector     []float32
	TopK       int
	MinScore   float64
	Timeout    time.Duration // 软截止：超时返回已算出的部分排名，不报错
}

// RetrievalResult 检索结果，按相似度降序
type RetrievalResult struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Score    float64       `json:"score"`
}

// VectorStore 向量存储抽象。集合按(userID, topicID)租户隔离，
// 检索不存在的集合是正常状态，返回空结果而非错误。
type VectorStore interface {
	CreateCollection(ctx context.Context, name string) (CreateResult, error)
	AddDocuments(ctx context.Context, name string, docs []Document) (AddResult, error)
	Search(ctx context.Context, query SearchQuery) ([]RetrievalResult, error)
	DeleteByMaterial(ctx context.Context, name string, materialID uint) error
	DeleteCollection(ctx context.Context, name string) (bool, error)
	Ready() bool
}

// CollectionName 租户集合命名：同一(user, topic)永远映射到同一集合
func CollectionName(userID, topicID uint) string {
	return fmt.Sprintf("user_%d_topic_%d", userID, topicID)
}
