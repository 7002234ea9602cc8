package consts

const (
	IMConversationChannel = "im:conversation:"
	ReadReceiptSettingKey = "im:settings:receipts:"
)
