package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Prometheus PrometheusConfig
	AI         AIConfig
	Knowledge  KnowledgeConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr    string
	DB      int
	TTL     int // 索引状态缓存过期时间（秒）
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type PrometheusConfig struct {
	Enabled bool
}

type AIConfig struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	EmbeddingModel  string
	NoteMaxTokens   int
	QuizMaxTokens   int
	ChatMaxTokens   int
	Temperature     float64
	ChatTemperature float64
}

type KnowledgeConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	MaxMaterials  int // 单次索引批次上限
	MaterialTTL   int // 单份资料处理时间预算（秒）
	TopK          int
	MinScore      float64
	SearchTTL     int // 生成检索超时（秒）
	GenerateTTL   int // 生成调用超时（秒）
	ChatSearchTTL int // 聊天检索超时（秒）
	ChatTTL       int // 聊天调用超时（秒）
	VectorStore   VectorStoreConfig
}

type VectorStoreConfig struct {
	Provider   string // memory | milvus
	VectorSize int
	Milvus     MilvusConfig
}

type MilvusConfig struct {
	Address  string
	Username string
	Password string
	Database string
	TLS      bool
}

var AppConfig *Config

// LoadConfig 加载配置（默认值 + 环境变量覆盖）
func LoadConfig() error {
	viper.SetDefault("server.port", "8002")
	viper.SetDefault("server.env", "development")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", 3600)
	viper.SetDefault("redis.enabled", false)

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "material-index-events")
	viper.SetDefault("kafka.enabled", false)

	viper.SetDefault("prometheus.enabled", false)

	// AI配置默认值
	viper.SetDefault("ai.base_url", "")
	viper.SetDefault("ai.chat_model", "gpt-4o-mini")
	viper.SetDefault("ai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("ai.note_max_tokens", 2000)
	viper.SetDefault("ai.quiz_max_tokens", 1500)
	viper.SetDefault("ai.chat_max_tokens", 1000)
	viper.SetDefault("ai.temperature", 0.7)
	viper.SetDefault("ai.chat_temperature", 0.3)

	// 知识库配置默认值
	viper.SetDefault("knowledge.chunk_size", 800)
	viper.SetDefault("knowledge.chunk_overlap", 120)
	viper.SetDefault("knowledge.max_materials", 20)
	viper.SetDefault("knowledge.material_ttl", 90)
	viper.SetDefault("knowledge.top_k", 10)
	viper.SetDefault("knowledge.min_score", 0.6)
	viper.SetDefault("knowledge.search_ttl", 15)
	viper.SetDefault("knowledge.generate_ttl", 25)
	viper.SetDefault("knowledge.chat_search_ttl", 10)
	viper.SetDefault("knowledge.chat_ttl", 15)
	viper.SetDefault("knowledge.vector_store.provider", "memory")
	viper.SetDefault("knowledge.vector_store.vector_size", 1536)
	viper.SetDefault("knowledge.vector_store.milvus.address", "localhost:19530")
	viper.SetDefault("knowledge.vector_store.milvus.database", "default")
	viper.SetDefault("knowledge.vector_store.milvus.tls", false)

	viper.SetEnvPrefix("STUDYHUB")
	viper.AutomaticEnv()

	if port := os.Getenv("PORT"); port != "" {
		viper.Set("server.port", port)
	}
	if env := os.Getenv("ENV"); env != "" {
		viper.Set("server.env", env)
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		viper.Set("redis.addr", redisAddr)
		viper.Set("redis.enabled", true)
	}
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		viper.Set("kafka.brokers", brokers)
		viper.Set("kafka.enabled", true)
	}
	if kafkaTopic := os.Getenv("KAFKA_TOPIC"); kafkaTopic != "" {
		viper.Set("kafka.topic", kafkaTopic)
	}
	if prometheusEnabled := os.Getenv("PROMETHEUS_ENABLED"); prometheusEnabled == "true" {
		viper.Set("prometheus.enabled", true)
	}

	// AI配置环境变量：密钥缺失时整个系统运行在mock模式
	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" {
		viper.Set("ai.api_key", openaiKey)
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		viper.Set("ai.base_url", baseURL)
	}
	if chatModel := os.Getenv("CHAT_MODEL"); chatModel != "" {
		viper.Set("ai.chat_model", chatModel)
	}
	if embeddingModel := os.Getenv("EMBEDDING_MODEL"); embeddingModel != "" {
		viper.Set("ai.embedding_model", embeddingModel)
	}

	if provider := os.Getenv("VECTOR_STORE_PROVIDER"); provider != "" {
		viper.Set("knowledge.vector_store.provider", provider)
	}
	if milvusAddr := os.Getenv("MILVUS_ADDRESS"); milvusAddr != "" {
		viper.Set("knowledge.vector_store.milvus.address", milvusAddr)
		viper.Set("knowledge.vector_store.provider", "milvus")
	}

	AppConfig = &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:    viper.GetString("redis.addr"),
			DB:      viper.GetInt("redis.db"),
			TTL:     viper.GetInt("redis.ttl"),
			Enabled: viper.GetBool("redis.enabled"),
		},
		Kafka: KafkaConfig{
			Brokers: viper.GetStringSlice("kafka.brokers"),
			Topic:   viper.GetString("kafka.topic"),
			Enabled: viper.GetBool("kafka.enabled"),
		},
		Prometheus: PrometheusConfig{
			Enabled: viper.GetBool("prometheus.enabled"),
		},
		AI: AIConfig{
			APIKey:          viper.GetString("ai.api_key"),
			BaseURL:         viper.GetString("ai.base_url"),
			ChatModel:       viper.GetString("ai.chat_model"),
			EmbeddingModel:  viper.GetString("ai.embedding_model"),
			NoteMaxTokens:   viper.GetInt("ai.note_max_tokens"),
			QuizMaxTokens:   viper.GetInt("ai.quiz_max_tokens"),
			ChatMaxTokens:   viper.GetInt("ai.chat_max_tokens"),
			Temperature:     viper.GetFloat64("ai.temperature"),
			ChatTemperature: viper.GetFloat64("ai.chat_temperature"),
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:     viper.GetInt("knowledge.chunk_size"),
			ChunkOverlap:  viper.GetInt("knowledge.chunk_overlap"),
			MaxMaterials:  viper.GetInt("knowledge.max_materials"),
			MaterialTTL:   viper.GetInt("knowledge.material_ttl"),
			TopK:          viper.GetInt("knowledge.top_k"),
			MinScore:      viper.GetFloat64("knowledge.min_score"),
			SearchTTL:     viper.GetInt("knowledge.search_ttl"),
			GenerateTTL:   viper.GetInt("knowledge.generate_ttl"),
			ChatSearchTTL: viper.GetInt("knowledge.chat_search_ttl"),
			ChatTTL:       viper.GetInt("knowledge.chat_ttl"),
			VectorStore: VectorStoreConfig{
				Provider:   viper.GetString("knowledge.vector_store.provider"),
				VectorSize: viper.GetInt("knowledge.vector_store.vector_size"),
				Milvus: MilvusConfig{
					Address:  viper.GetString("knowledge.vector_store.milvus.address"),
					Username: viper.GetString("knowledge.vector_store.milvus.username"),
					Password: viper.GetString("knowledge.vector_store.milvus.password"),
					Database: viper.GetString("knowledge.vector_store.milvus.database"),
					TLS:      viper.GetBool("knowledge.vector_store.milvus.tls"),
				},
			},
		},
	}

	return nil
}

// GetAppConfig 获取全局配置
func GetAppConfig() *Config {
	if AppConfig == nil {
		_ = LoadConfig()
	}
	return AppConfig
}

// MockMode 判断是否运行在mock模式（未配置外部服务密钥）
func (c *Config) MockMode() bool {
	return strings.TrimSpace(c.AI.APIKey) == ""
}
