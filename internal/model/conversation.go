package model

import "time"

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// LastMessage 会话列表展示用的最后一条消息快照
type LastMessage struct {
	Text      string    `bson:"text" json:"text"`
	SenderID  string    `bson:"sender_id" json:"senderId"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// Conversation 会话文档 conversations/{id}
type Conversation struct {
	ID                   string           `bson:"_id" json:"id"`
	Type                 ConversationType `bson:"type" json:"type"`
	ParticipantIDs       []string         `bson:"participant_ids" json:"participantIds"`
	UnreadCount          map[string]int   `bson:"unread_count" json:"unreadCount"`
	ArchivedBy           map[string]bool  `bson:"archived_by" json:"archivedBy"`
	DeletedBy            map[string]bool  `bson:"deleted_by" json:"deletedBy"`
	MutedBy              map[string]bool  `bson:"muted_by" json:"mutedBy"`
	LastMessage          *LastMessage     `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	LastMessageTimestamp time.Time        `bson:"last_message_timestamp" json:"lastMessageTimestamp"`
	GroupName            string           `bson:"group_name,omitempty" json:"groupName,omitempty"`
	GroupPhotoURL        string           `bson:"group_photo_url,omitempty" json:"groupPhotoURL,omitempty"`
	CreatorID            string           `bson:"creator_id,omitempty" json:"creatorId,omitempty"`
	AdminIDs             []string         `bson:"admin_ids,omitempty" json:"adminIds,omitempty"`
	CreatedAt            time.Time        `bson:"created_at" json:"createdAt"`
	UpdatedAt            time.Time        `bson:"updated_at" json:"updatedAt"`
}

// NewConversation builds a conversation with every per-user map initialised for
// all participants.
func NewConversation(id string, typ ConversationType, participantIDs []string, now time.Time) *Conversation {
	c := &Conversation{
		ID:             id,
		Type:           typ,
		ParticipantIDs: append([]string(nil), participantIDs...),
		UnreadCount:    make(map[string]int, len(participantIDs)),
		ArchivedBy:     make(map[string]bool, len(participantIDs)),
		DeletedBy:      make(map[string]bool, len(participantIDs)),
		MutedBy:        make(map[string]bool, len(participantIDs)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, uid := range participantIDs {
		c.UnreadCount[uid] = 0
		c.ArchivedBy[uid] = false
		c.DeletedBy[uid] = false
		c.MutedBy[uid] = false
	}
	return c
}

func (c *Conversation) IsMember(userID string) bool {
	return contains(c.ParticipantIDs, userID)
}

func (c *Conversation) IsAdmin(userID string) bool {
	return contains(c.AdminIDs, userID)
}

// Recipients returns every participant except the sender.
func (c *Conversation) Recipients(senderID string) []string {
	res := make([]string, 0, len(c.ParticipantIDs))
	for _, uid := range c.ParticipantIDs {
		if uid != senderID {
			res = append(res, uid)
		}
	}
	return res
}

// AdminsAfterRemoval returns the admin set once userID has left. When the last
// admin leaves, the first remaining participant is promoted.
func (c *Conversation) AdminsAfterRemoval(userID string) []string {
	admins := remove(c.AdminIDs, userID)
	remaining := remove(c.ParticipantIDs, userID)
	if len(admins) == 0 && len(remaining) > 0 && c.Type == ConversationGroup {
		admins = []string{remaining[0]}
	}
	return admins
}

// UserFlag names a per-user boolean map on the conversation.
type UserFlag string

const (
	FlagArchived UserFlag = "archived_by"
	FlagDeleted  UserFlag = "deleted_by"
	FlagMuted    UserFlag = "muted_by"
)

func (f UserFlag) Valid() bool {
	return f == FlagArchived || f == FlagDeleted || f == FlagMuted
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	res := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			res = append(res, s)
		}
	}
	return res
}
