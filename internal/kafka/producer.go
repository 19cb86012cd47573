package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/studyhub/backend-go/internal/logger"
)

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// MaterialIndexEvent 一次索引运行的审计事件
type MaterialIndexEvent struct {
	CollectionName     string    `json:"collection_name"`
	UserID             uint      `json:"user_id"`
	TopicID            uint      `json:"topic_id"`
	MaterialsProcessed int       `json:"materials_processed"`
	MaterialsAdded     int       `json:"materials_added"`
	FailedMaterials    int       `json:"failed_materials"`
	Success            bool      `json:"success"`
	Timestamp          time.Time `json:"timestamp"`
}

var globalProducer *Producer

// InitProducer 初始化Kafka生产者
func InitProducer(brokers []string, topic string) error {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return fmt.Errorf("failed to create kafka producer: %w", err)
	}

	globalProducer = &Producer{
		producer: producer,
		topic:    topic,
	}

	logger.Info("kafka producer initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return nil
}

// GetProducer 获取全局生产者实例
func GetProducer() *Producer {
	return globalProducer
}

// SendEvent 发送索引事件到Kafka
func (p *Producer) SendEvent(event *MaterialIndexEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer not initialized")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.CollectionName),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("user_id"),
				Value: []byte(fmt.Sprintf("%d", event.UserID)),
			},
			{
				Key:   []byte("topic_id"),
				Value: []byte(fmt.Sprintf("%d", event.TopicID)),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("failed to send kafka event", zap.Error(err))
		return fmt.Errorf("failed to send event: %w", err)
	}

	logger.Debug("kafka event sent",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("collection", event.CollectionName))

	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// PublishIndexEvent 发布索引事件（便捷方法）。Kafka未配置时静默跳过，
// 审计事件丢失不影响主流程。
func PublishIndexEvent(collectionName string, userID, topicID uint, processed, added, failed int, success bool) error {
	producer := GetProducer()
	if producer == nil {
		logger.Debug("kafka producer not configured, skipping index event")
		return nil
	}

	return producer.SendEvent(&MaterialIndexEvent{
		CollectionName:     collectionName,
		UserID:             userID,
		TopicID:            topicID,
		MaterialsProcessed: processed,
		MaterialsAdded:     added,
		FailedMaterials:    failed,
		Success:            success,
		Timestamp:          time.Now(),
	})
}
