package kafka

import (
	"Parley/internal/pkg/errclass"
	"Parley/internal/pkg/metrics"
	"context"
	"errors"
	log "log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

const (
	batchSize    = 32
	batchTimeout = 1 * time.Second
	retryBase    = 100 * time.Millisecond
	retryMax     = 5 * time.Second
)

type LogicFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

// pullMessageBatch 拉取一批消息并执行业务逻辑
func pullMessageBatch(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim, logic LogicFunc) error {
	batch := make([]*sarama.ConsumerMessage, 0, batchSize)
	ticker := time.NewTicker(batchTimeout)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				if len(batch) > 0 {
					processBatch(session, batch, logic)
				}
				return nil
			}
			batch = append(batch, msg)
			if len(batch) >= batchSize {
				processBatch(session, batch, logic)
				// 清空缓冲区 & 重值定时器
				batch = make([]*sarama.ConsumerMessage, 0, batchSize)
				ticker.Reset(batchTimeout)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				processBatch(session, batch, logic)
				batch = make([]*sarama.ConsumerMessage, 0, batchSize)
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// processBatch 并发处理一批消息。可重试错误（网络、限流）按指数退避重试直到成功或会话结束，
// 其他错误记录后跳过，避免单条坏消息阻塞分区
func processBatch(session sarama.ConsumerGroupSession, messages []*sarama.ConsumerMessage, logic LogicFunc) {
	var wg sync.WaitGroup

	for _, msg := range messages {
		wg.Add(1)

		go func(m *sarama.ConsumerMessage) {
			defer wg.Done()
			handleWithRetry(session.Context(), m, logic)
		}(msg)
	}

	wg.Wait()

	if len(messages) > 0 {
		lastMsg := messages[len(messages)-1]
		session.MarkMessage(lastMsg, "")
	}
}

func handleWithRetry(ctx context.Context, m *sarama.ConsumerMessage, logic LogicFunc) {
	retryInterval := retryBase
	for {
		err := logic(ctx, m)
		if err == nil {
			return
		}

		class := errclass.Classify(err)
		metrics.StoreFailures.WithLabelValues(string(class)).Inc()
		if !class.Retryable() {
			log.ErrorContext(ctx, "drop message after non-retryable error",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "class", class, "err", err)
			return
		}

		log.WarnContext(ctx, "process message error, retrying",
			"topic", m.Topic, "offset", m.Offset, "retry_in", retryInterval, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryInterval):
		}

		retryInterval = min(retryInterval*2, retryMax)
	}
}

// toMetadataUpdate 将kafka消息转换为metadata更新
func toMetadataUpdate(msg *sarama.ConsumerMessage) (*MetadataUpdate, error) {
	var update MetadataUpdate
	if err := json.Unmarshal(msg.Value, &update); err != nil {
		return nil, err
	}

	if update.ConversationID == "" || update.MessageID == "" {
		return nil, errors.New("conversation id or message id is empty")
	}

	if len(update.Metadata) == 0 {
		return nil, errors.New("metadata is empty")
	}

	return &update, nil
}
