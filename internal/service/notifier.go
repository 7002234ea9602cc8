package service

import (
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/redis"
	"context"
	log "log/slog"
	"time"

	"github.com/goccy/go-json"
)

// Event 提交成功后的变更通知
type Event struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversationId"`
	MessageIDs     []string          `json:"messageIds,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	Status         model.Status      `json:"status,omitempty"`
	Message        *model.Message    `json:"message,omitempty"`
	Ref            *model.MessageRef `json:"ref,omitempty"` // 仅排队消息重放成功时携带
	At             time.Time         `json:"at"`
}

// Notifier fans committed changes out to listeners. Publishing is best
// effort; the store stays the source of truth.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// Notifiers 依次通知多个 Notifier
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, evt Event) {
	for _, n := range ns {
		n.Notify(ctx, evt)
	}
}

type redisNotifier struct{}

// NewRedisNotifier 通过 Redis pub/sub 推送到 im:conversation:<cid>
func NewRedisNotifier() Notifier {
	return redisNotifier{}
}

func (redisNotifier) Notify(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.ErrorContext(ctx, "encode event failed", "type", evt.Type, "err", err)
		return
	}
	if _, err = redis.Publish(ctx, consts.IMConversationChannel+evt.ConversationID, payload); err != nil {
		log.WarnContext(ctx, "publish event failed", "type", evt.Type, "conversation_id", evt.ConversationID, "err", err)
	}
}

// MessagePublisher is the outbound message-created stream.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, key string, payload []byte) error
}

type streamNotifier struct {
	pub MessagePublisher
}

// NewStreamNotifier 把新消息事件写入消息流，供下游（例如 AI 打分）消费
func NewStreamNotifier(pub MessagePublisher) Notifier {
	return streamNotifier{pub: pub}
}

func (s streamNotifier) Notify(ctx context.Context, evt Event) {
	if evt.Type != consts.EventMessageCreated || evt.Message == nil {
		return
	}
	payload, err := json.Marshal(evt.Message)
	if err != nil {
		log.ErrorContext(ctx, "encode message failed", "message_id", evt.Message.ID, "err", err)
		return
	}
	if err = s.pub.PublishMessage(ctx, evt.ConversationID, payload); err != nil {
		log.WarnContext(ctx, "stream message failed", "message_id", evt.Message.ID, "err", err)
	}
}
