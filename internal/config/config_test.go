package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("REDIS_ADDR")
	os.Unsetenv("KAFKA_BROKERS")
	os.Unsetenv("VECTOR_STORE_PROVIDER")
	os.Unsetenv("MILVUS_ADDRESS")

	require.NoError(t, LoadConfig())
	cfg := AppConfig

	assert.Equal(t, "8002", cfg.Server.Port)
	assert.Equal(t, 800, cfg.Knowledge.ChunkSize)
	assert.Equal(t, 120, cfg.Knowledge.ChunkOverlap)
	assert.Equal(t, 20, cfg.Knowledge.MaxMaterials)
	assert.Equal(t, 90, cfg.Knowledge.MaterialTTL)
	assert.Equal(t, 10, cfg.Knowledge.TopK)
	assert.InDelta(t, 0.6, cfg.Knowledge.MinScore, 1e-9)
	assert.Equal(t, 15, cfg.Knowledge.SearchTTL)
	assert.Equal(t, 25, cfg.Knowledge.GenerateTTL)
	assert.Equal(t, 10, cfg.Knowledge.ChatSearchTTL)
	assert.Equal(t, 15, cfg.Knowledge.ChatTTL)
	assert.Equal(t, "memory", cfg.Knowledge.VectorStore.Provider)
	assert.Equal(t, 1536, cfg.Knowledge.VectorStore.VectorSize)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestMockModeWithoutCredential(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")
	require.NoError(t, LoadConfig())

	// 未配置密钥时整个系统运行在mock模式，这是正常的运行形态
	assert.True(t, AppConfig.MockMode())
}

func TestMockModeWithCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	require.NoError(t, LoadConfig())
	assert.False(t, AppConfig.MockMode())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("MILVUS_ADDRESS", "milvus:19530")
	require.NoError(t, LoadConfig())
	cfg := AppConfig

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "milvus", cfg.Knowledge.VectorStore.Provider)
	assert.Equal(t, "milvus:19530", cfg.Knowledge.VectorStore.Milvus.Address)
}
