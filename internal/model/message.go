package model

import "time"

// MaxMessageLength is the default upper bound on trimmed message text.
const MaxMessageLength = 1000

// Message 消息文档 conversations/{cid}/messages/{mid}
type Message struct {
	ID             string         `bson:"_id" json:"id"`
	ConversationID string         `bson:"conversation_id" json:"conversationId"`
	SenderID       string         `bson:"sender_id" json:"senderId"`
	Text           string         `bson:"text" json:"text"`
	Timestamp      time.Time      `bson:"timestamp" json:"timestamp"`
	Status         Status         `bson:"status" json:"status"`
	ReadBy         []string       `bson:"read_by" json:"readBy"`
	Metadata       map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// NewMessage builds a message in the sending state, already read by its sender.
func NewMessage(id, conversationID, senderID, text string, now time.Time) *Message {
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Timestamp:      now,
		Status:         StatusSending,
		ReadBy:         []string{senderID},
	}
}

func (m *Message) ReadByUser(userID string) bool {
	return contains(m.ReadBy, userID)
}

func (m *Message) Snapshot() LastMessage {
	return LastMessage{Text: m.Text, SenderID: m.SenderID, Timestamp: m.Timestamp}
}

type RefState string

const (
	RefPending   RefState = "pending"
	RefConfirmed RefState = "confirmed"
)

// MessageRef is what a send returns: either a locally synthesised placeholder
// still waiting in the retry queue, or a message the store has accepted.
type MessageRef struct {
	State   RefState `json:"state"`
	LocalID string   `json:"localId,omitempty"`
	StoreID string   `json:"storeId,omitempty"`
	Message *Message `json:"message"`
}

func PendingRef(localID string, msg *Message) MessageRef {
	return MessageRef{State: RefPending, LocalID: localID, Message: msg}
}

func ConfirmedRef(storeID string, msg *Message) MessageRef {
	return MessageRef{State: RefConfirmed, StoreID: storeID, Message: msg}
}

// ID returns whichever id is current for the ref.
func (r MessageRef) ID() string {
	if r.State == RefConfirmed {
		return r.StoreID
	}
	return r.LocalID
}

// Confirm moves a pending ref to confirmed once the store id is known. The
// local id stays so clients can swap their placeholder.
func (r MessageRef) Confirm(storeID string, msg *Message) MessageRef {
	return MessageRef{State: RefConfirmed, LocalID: r.LocalID, StoreID: storeID, Message: msg}
}
