package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// memoryCollection 单个租户的内存分区。分区之间互不竞争，
// 分区内写入是纯追加，读写锁足以保证安全。
type memoryCollection struct {
	mu   sync.RWMutex
	mode string // 首批写入的向量模式，后续批次必须一致
	docs []Document
}

// MemoryVectorStore 内存向量存储，暴力余弦检索。
// 默认provider，mock模式与测试都跑在它上面。
type MemoryVectorStore struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		collections: make(map[string]*memoryCollection),
	}
}

// CreateCollection 幂等创建：并发调用同一集合名，后到者观察到Existed
func (s *MemoryVectorStore) CreateCollection(ctx context.Context, name string) (CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return CreateResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; ok {
		return CreateResult{Existed: true}, nil
	}
	s.collections[name] = &memoryCollection{}
	return CreateResult{Created: true}, nil
}

func (s *MemoryVectorStore) getCollection(name string, create bool) *memoryCollection {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[name]
	if !ok && create {
		coll = &memoryCollection{}
		s.collections[name] = coll
	}
	return coll
}

// AddDocuments 追加分块。单条失败（空向量、模式混用）只降低Added计数，
// 已写入的记录不回滚。
func (s *MemoryVectorStore) AddDocuments(ctx context.Context, name string, docs []Document) (AddResult, error) {
	if err := ctx.Err(); err != nil {
		return AddResult{}, err
	}
	if len(docs) == 0 {
		return AddResult{}, nil
	}

	coll := s.getCollection(name, true)
	coll.mu.Lock()
	defer coll.mu.Unlock()

	var result AddResult
	var skipped []string
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			skipped = append(skipped, fmt.Sprintf("material %d chunk %d: empty embedding",
				doc.Metadata.MaterialID, doc.Metadata.ChunkIndex))
			continue
		}
		// 防御混用：集合记住首批向量的来源模式
		if doc.EmbeddingMode != "" {
			if coll.mode == "" {
				coll.mode = doc.EmbeddingMode
			} else if coll.mode != doc.EmbeddingMode {
				skipped = append(skipped, fmt.Sprintf("material %d chunk %d: embedding mode %q conflicts with collection mode %q",
					doc.Metadata.MaterialID, doc.Metadata.ChunkIndex, doc.EmbeddingMode, coll.mode))
				continue
			}
		}
		coll.docs = append(coll.docs, doc)
		result.Added++
	}

	if len(skipped) > 0 {
		result.Err = fmt.Sprintf("%d of %d documents rejected: %s",
			len(skipped), len(docs), skipped[0])
	}
	return result, nil
}

// Search 全量余弦相似度扫描。软截止：超过Timeout返回已算出的部分排名。
// 检索不存在的集合返回空结果。
func (s *MemoryVectorStore) Search(ctx context.Context, query SearchQuery) ([]RetrievalResult, error) {
	coll := s.getCollection(query.Collection, false)
	if coll == nil {
		return []RetrievalResult{}, nil
	}
	if len(query.Vector) == 0 {
		return []RetrievalResult{}, nil
	}
	if query.TopK <= 0 {
		query.TopK = 10
	}

	var deadline time.Time
	if query.Timeout > 0 {
		deadline = time.Now().Add(query.Timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}

	coll.mu.RLock()
	defer coll.mu.RUnlock()

	type scored struct {
		order int
		score float64
	}

	var hits []scored
	for i := range coll.docs {
		// 每批检查一次软截止，超时带着部分排名返回
		if i%256 == 0 && !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		score := cosineSimilarity(query.Vector, coll.docs[i].Embedding)
		if score >= query.MinScore {
			hits = append(hits, scored{order: i, score: score})
		}
	}

	// 稳定排序：同分按写入顺序
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].score > hits[j].score
	})
	if len(hits) > query.TopK {
		hits = hits[:query.TopK]
	}

	results := make([]RetrievalResult, 0, len(hits))
	for _, h := range hits {
		doc := coll.docs[h.order]
		results = append(results, RetrievalResult{
			Text:     doc.Text,
			Metadata: doc.Metadata,
			Score:    h.score,
		})
	}
	return results, nil
}

// DeleteByMaterial 删除某份资料的全部分块（资料删除后的级联失效）
func (s *MemoryVectorStore) DeleteByMaterial(ctx context.Context, name string, materialID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	coll := s.getCollection(name, false)
	if coll == nil {
		return nil
	}

	coll.mu.Lock()
	defer coll.mu.Unlock()

	kept := coll.docs[:0]
	for _, doc := range coll.docs {
		if doc.Metadata.MaterialID != materialID {
			kept = append(kept, doc)
		}
	}
	coll.docs = kept
	return nil
}

// DeleteCollection 删除整个租户集合，返回集合是否存在过
func (s *MemoryVectorStore) DeleteCollection(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.collections[name]
	delete(s.collections, name)
	return ok, nil
}

func (s *MemoryVectorStore) Ready() bool {
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
