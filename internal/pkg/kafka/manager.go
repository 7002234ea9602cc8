package kafka

import (
	"Parley/internal/api/config"
	"Parley/internal/repository"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
)

// ConsumerManager 管理所有 Kafka 消费者
type ConsumerManager struct {
	metadataConsumer sarama.ConsumerGroup
	metadataHandler  sarama.ConsumerGroupHandler
	metadataTopic    string
}

// NewConsumerManager 构造函数
func NewConsumerManager(cfg *config.Config, repo repository.ChatRepo) (*ConsumerManager, error) {
	saramaCfg := newSaramaConfig(cfg.Kafka)

	metadataConsumer, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.KafkaMetadataConsumer.GroupID, saramaCfg)
	if err != nil {
		return nil, err
	}

	return &ConsumerManager{
		metadataConsumer: metadataConsumer,
		metadataHandler:  NewMetadataHandler(repo),
		metadataTopic:    cfg.KafkaMetadataConsumer.Topic,
	}, nil
}

// Start 启动所有消费者，ctx 取消后关闭并返回
func (m *ConsumerManager) Start(ctx context.Context) error {
	go func() {
		for err := range m.metadataConsumer.Errors() {
			log.Error("metadata consumer error", "err", err)
		}
	}()

	go func() {
		log.Info("Metadata consumer started", "topic", m.metadataTopic)
		for {
			if err := m.metadataConsumer.Consume(ctx, []string{m.metadataTopic}, m.metadataHandler); err != nil {
				log.Error("Error from consumer", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	<-ctx.Done()
	log.Info("Kafka Manager shutting down...")

	if err := m.metadataConsumer.Close(); err != nil {
		log.Error("Failed to close metadata consumer", "err", err)
	}
	return nil
}
