package kafka

import (
	"Parley/internal/api/config"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
)

// MessageProducer 把新消息写入 kafka_message_events.topic，key 为会话ID保证同一会话有序
type MessageProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewMessageProducer(kafkaCfg config.KafkaConfig, topic string) (*MessageProducer, error) {
	producer, err := sarama.NewSyncProducer(kafkaCfg.Brokers, newSaramaConfig(kafkaCfg))
	if err != nil {
		return nil, err
	}
	return newMessageProducer(producer, topic), nil
}

func newMessageProducer(producer sarama.SyncProducer, topic string) *MessageProducer {
	return &MessageProducer{producer: producer, topic: topic}
}

func (s *MessageProducer) PublishMessage(ctx context.Context, key string, payload []byte) error {
	partition, offset, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return err
	}
	log.DebugContext(ctx, "message event produced", "topic", s.topic, "partition", partition, "offset", offset)
	return nil
}

func (s *MessageProducer) Close() error {
	return s.producer.Close()
}
