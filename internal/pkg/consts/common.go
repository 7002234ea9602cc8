package consts

// gin context keys
const (
	UserID = "user_id"
)

const (
	UserIDHeader  = "X-User-ID"
	TraceIDHeader = "X-Trace-ID"
)

// pub/sub event types
const (
	EventMessageCreated      = "message.created"
	EventMessageStatus       = "message.status"
	EventMessagesRead        = "messages.read"
	EventConversationCreated = "conversation.created"
	EventConversationUpdated = "conversation.updated"
)
