package model

import "time"

// UserSettings 用户级隐私设置
type UserSettings struct {
	UserID              string    `bson:"_id" json:"userId"`
	ReadReceiptsEnabled bool      `bson:"read_receipts_enabled" json:"readReceiptsEnabled"`
	UpdatedAt           time.Time `bson:"updated_at" json:"updatedAt"`
}
