package dto

import "time"

// CreateConversationReq 创建会话并发送第一条消息
type CreateConversationReq struct {
	Type           string   `json:"type" binding:"required,oneof=direct group"`
	ParticipantIDs []string `json:"participant_ids" binding:"required"`
	MessageText    string   `json:"message_text"`
	GroupName      string   `json:"group_name"`
	GroupPhotoURL  string   `json:"group_photo_url" binding:"omitempty,url"`
}

type CreateConversationResp struct {
	ConversationID string        `json:"conversation_id"`
	Message        MessageRefDTO `json:"message"`
	Created        bool          `json:"created"`
	Queued         bool          `json:"queued"`
}

// SendMessageReq 向已有会话发送消息
type SendMessageReq struct {
	Text string `json:"text"`
}

type SendMessageResp struct {
	Message MessageRefDTO `json:"message"`
	Queued  bool          `json:"queued"`
}

// MessageRefDTO state 为 pending 时只有 local_id，confirmed 时只有 store_id
type MessageRefDTO struct {
	State   string      `json:"state"`
	LocalID string      `json:"local_id,omitempty"`
	StoreID string      `json:"store_id,omitempty"`
	Message *MessageDTO `json:"message"`
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	SenderID       string                 `json:"sender_id"`
	Text           string                 `json:"text"`
	Timestamp      time.Time              `json:"timestamp"`
	Status         string                 `json:"status"`
	ReadBy         []string               `json:"read_by"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// MarkConversationReadReq 批量已读
type MarkConversationReadReq struct {
	MessageIDs []string `json:"message_ids" binding:"required,max=500,dive,required"`
}

type MarkConversationReadResp struct {
	Updated int  `json:"updated"`
	Skipped int  `json:"skipped"`
	Queued  bool `json:"queued"`
}

// UpdateGroupReq 字段为空表示不修改
type UpdateGroupReq struct {
	GroupName     *string `json:"group_name"`
	GroupPhotoURL *string `json:"group_photo_url" binding:"omitempty,url"`
}

type SetFlagReq struct {
	Flag  string `json:"flag" binding:"required,oneof=archived muted deleted"`
	Value *bool  `json:"value" binding:"required"`
}

type ReadReceiptSettingReq struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type ReadReceiptSettingResp struct {
	Enabled bool `json:"enabled"`
}

// MessagePathReq 单条消息回执的路径参数
type MessagePathReq struct {
	ConversationID string `binding:"required,max=256"`
	MessageID      string `binding:"required,max=128"`
}
