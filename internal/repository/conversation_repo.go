package repository

import (
	"Parley/internal/model"
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
)

// ChatRepo 会话与消息的文档存储，读后写一律走 RunTransaction，冲突时由存储重跑 fn
type ChatRepo interface {
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx ChatTx) error) error

	GetConversation(ctx context.Context, convID string) (*model.Conversation, error)
	GetMessage(ctx context.Context, convID, msgID string) (*model.Message, error)
	MessageExists(ctx context.Context, convID, msgID string) (bool, error)
	// FilterExistingMessages 按输入顺序返回已可见的消息ID
	FilterExistingMessages(ctx context.Context, convID string, msgIDs []string) ([]string, error)
	// MergeMessageMetadata 合并 metadata，不改动投递状态
	MergeMessageMetadata(ctx context.Context, convID, msgID string, metadata map[string]any) error
}

// ChatTx 事务内可用的读取与原子字段操作，计数器只能自增或清零
type ChatTx interface {
	GetConversation(ctx context.Context, convID string) (*model.Conversation, error)
	InsertConversation(ctx context.Context, conv *model.Conversation) error
	// RecordMessageSent 更新 lastMessage，除发送者外未读数 +1，并清除所有人的删除标记
	RecordMessageSent(ctx context.Context, conv *model.Conversation, msg *model.Message) error
	ResetUnread(ctx context.Context, convID, userID string) error
	RemoveParticipant(ctx context.Context, convID, userID string, adminIDs []string) error
	UpdateGroupInfo(ctx context.Context, convID string, info GroupInfo) error
	SetUserFlag(ctx context.Context, convID string, flag model.UserFlag, userID string, value bool) error

	GetMessage(ctx context.Context, convID, msgID string) (*model.Message, error)
	InsertMessage(ctx context.Context, msg *model.Message) error
	UpdateMessage(ctx context.Context, convID, msgID string, patch MessagePatch) error
}

// MessagePatch 单条消息的原子更新，空字段不写
type MessagePatch struct {
	Status    model.Status
	AddReader string
}

func (p MessagePatch) Empty() bool {
	return p.Status == "" && p.AddReader == ""
}

type GroupInfo struct {
	Name      *string
	PhotoURL  *string
	UpdatedAt time.Time
}
