package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/studyhub/backend-go/internal/config"
	"github.com/studyhub/backend-go/internal/kafka"
	"github.com/studyhub/backend-go/internal/knowledge"
	"github.com/studyhub/backend-go/internal/logger"
	"github.com/studyhub/backend-go/internal/services"
)

func main() {
	// .env缺失是正常情况（容器环境直接注入环境变量）
	_ = godotenv.Load()

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.AppConfig

	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.MockMode() {
		logger.Info("no API credential configured, running in mock mode")
	}

	if cfg.Kafka.Enabled {
		if err := kafka.InitProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic); err != nil {
			logger.Warn("kafka unavailable, index events will not be published", zap.Error(err))
		}
	}

	embedder := buildEmbedder(cfg)
	store := buildVectorStore(cfg)
	completion := buildCompletionClient(cfg)

	chunker := knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
	indexer := knowledge.NewIndexer(knowledge.NewExtractor(), chunker, embedder, store, knowledge.IndexerOptions{
		MaxMaterials:    cfg.Knowledge.MaxMaterials,
		MaterialTimeout: time.Duration(cfg.Knowledge.MaterialTTL) * time.Second,
	})

	generator := knowledge.NewGenerator(embedder, store, completion, knowledge.GeneratorOptions{
		TopK:            cfg.Knowledge.TopK,
		MinScore:        cfg.Knowledge.MinScore,
		SearchTimeout:   time.Duration(cfg.Knowledge.SearchTTL) * time.Second,
		GenerateTimeout: time.Duration(cfg.Knowledge.GenerateTTL) * time.Second,
		NoteMaxTokens:   cfg.AI.NoteMaxTokens,
		QuizMaxTokens:   cfg.AI.QuizMaxTokens,
		Temperature:     cfg.AI.Temperature,
	})

	chat := knowledge.NewChatOrchestrator(embedder, store, completion, knowledge.ChatOptions{
		TopK:          cfg.Knowledge.TopK,
		MinScore:      cfg.Knowledge.MinScore,
		SearchTimeout: time.Duration(cfg.Knowledge.ChatSearchTTL) * time.Second,
		ChatTimeout:   time.Duration(cfg.Knowledge.ChatTTL) * time.Second,
		MaxTokens:     cfg.AI.ChatMaxTokens,
		Temperature:   cfg.AI.ChatTemperature,
	})

	statusStore := services.NewIndexStatusStore(&cfg.Redis)
	defer statusStore.Close()

	var metrics *services.MetricsService
	if cfg.Prometheus.Enabled {
		metrics = services.NewMetricsService()
	}

	worker := services.NewIndexWorker(indexer, statusStore, metrics, 64)
	worker.Start()

	study := services.NewStudyService(cfg, embedder, store, generator, chat, worker, statusStore, metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// 只读巡检接口：检索调试与索引状态查询
	mux.HandleFunc("/debug/search", debugSearchHandler(study))
	mux.HandleFunc("/debug/index-status", indexStatusHandler(study))
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("🚀 Starting StudyRAG service", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
	worker.Stop()
	if producer := kafka.GetProducer(); producer != nil {
		_ = producer.Close()
	}
}

// buildEmbedder 按配置选择向量化实现，进程启动时一次性确定
func buildEmbedder(cfg *config.Config) knowledge.Embedder {
	if cfg.MockMode() {
		return knowledge.NewMockEmbedder(cfg.Knowledge.VectorStore.VectorSize)
	}
	return knowledge.NewOpenAIEmbedder(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.EmbeddingModel)
}

// buildVectorStore 按配置选择向量存储，Milvus不可用时退回内存存储
func buildVectorStore(cfg *config.Config) knowledge.VectorStore {
	if cfg.Knowledge.VectorStore.Provider == "milvus" {
		store, err := knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
			Address:    cfg.Knowledge.VectorStore.Milvus.Address,
			Username:   cfg.Knowledge.VectorStore.Milvus.Username,
			Password:   cfg.Knowledge.VectorStore.Milvus.Password,
			Database:   cfg.Knowledge.VectorStore.Milvus.Database,
			UseTLS:     cfg.Knowledge.VectorStore.Milvus.TLS,
			VectorSize: cfg.Knowledge.VectorStore.VectorSize,
		})
		if err == nil {
			logger.Info("using milvus vector store",
				zap.String("address", cfg.Knowledge.VectorStore.Milvus.Address))
			return store
		}
		logger.Warn("milvus unavailable, falling back to memory vector store", zap.Error(err))
	}
	return knowledge.NewMemoryVectorStore()
}

func buildCompletionClient(cfg *config.Config) knowledge.CompletionClient {
	if cfg.MockMode() {
		return &knowledge.NoopCompletionClient{}
	}
	return knowledge.NewOpenAICompletionClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.ChatModel)
}

func tenantParams(r *http.Request) (uint, uint) {
	userID, _ := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 32)
	topicID, _ := strconv.ParseUint(r.URL.Query().Get("topic_id"), 10, 32)
	return uint(userID), uint(topicID)
}

func debugSearchHandler(study *services.StudyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, topicID := tenantParams(r)
		topK, _ := strconv.Atoi(r.URL.Query().Get("top_k"))

		results, err := study.Search(r.Context(), r.URL.Query().Get("q"), userID, topicID, topK)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(results)
	}
}

func indexStatusHandler(study *services.StudyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, topicID := tenantParams(r)

		status, err := study.IndexingStatus(r.Context(), userID, topicID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if status == nil {
			http.Error(w, "no recent indexing run", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	}
}
