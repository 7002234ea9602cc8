package kafka

import (
	"Parley/internal/repository"
	"context"
	"errors"
	log "log/slog"

	"github.com/IBM/sarama"
)

// MetadataUpdate 下游（AI 打分等）回写的消息附加信息
type MetadataUpdate struct {
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	Metadata       map[string]any `json:"metadata"`
}

// MetadataHandler 消费 metadata 更新并合并到消息的 metadata 字段
type MetadataHandler struct {
	repo repository.ChatRepo
}

func NewMetadataHandler(repo repository.ChatRepo) *MetadataHandler {
	return &MetadataHandler{repo: repo}
}

func (s *MetadataHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info("metadata consumer setup")
	return nil
}

func (s *MetadataHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info("metadata consumer cleanup")
	return nil
}

func (s *MetadataHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log.Info("topic-metadata consume claim", "partition", claim.Partition())
	err := pullMessageBatch(session, claim, s.logic)
	if err != nil {
		log.Error("process batch error", "err", err)
		return err
	}
	log.Info("topic-metadata consume claim end")
	return nil
}

// logic 解析失败或消息不存在时直接跳过，其余错误交给 processBatch 退避重试
func (s *MetadataHandler) logic(ctx context.Context, msg *sarama.ConsumerMessage) error {
	update, err := toMetadataUpdate(msg)
	if err != nil {
		log.Warn("skip malformed metadata update", "offset", msg.Offset, "err", err)
		return nil
	}

	err = s.repo.MergeMessageMetadata(ctx, update.ConversationID, update.MessageID, update.Metadata)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("metadata for unknown message", "conversation_id", update.ConversationID, "message_id", update.MessageID)
		return nil
	}
	return err
}
