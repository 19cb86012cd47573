package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/studyhub/backend-go/internal/knowledge"
)

func newBareWorker(queueSize int) *IndexWorker {
	indexer := knowledge.NewIndexer(
		knowledge.NewExtractor(),
		knowledge.NewChunker(100, 20),
		knowledge.NewMockEmbedder(16),
		knowledge.NewMemoryVectorStore(),
		knowledge.IndexerOptions{MaxMaterials: 20, MaterialTimeout: 5 * time.Second},
	)
	return NewIndexWorker(indexer, NewIndexStatusStore(nil), nil, queueSize)
}

func TestEnqueueAfterStopReturnsFalse(t *testing.T) {
	worker := newBareWorker(4)
	worker.Start()
	worker.Stop()

	// 关停后入队只是被丢弃，调用方永远不会失败
	assert.False(t, worker.Enqueue(IndexJob{UserID: 1, TopicID: 1}))
}

func TestEnqueueRacingStopNeverPanics(t *testing.T) {
	// 入队方与关停并发竞争，任何时序下都不允许panic
	for i := 0; i < 50; i++ {
		worker := newBareWorker(2)
		worker.Start()

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					worker.Enqueue(IndexJob{UserID: 1, TopicID: 1})
				}
			}()
		}

		worker.Stop()
		wg.Wait()
	}
}

func TestStopIsIdempotent(t *testing.T) {
	worker := newBareWorker(2)
	worker.Start()

	worker.Stop()
	worker.Stop()
}
