package repository

import "context"

// SettingsRepo 用户隐私设置
type SettingsRepo interface {
	// ReadReceiptsEnabled defaults to true for users without stored settings.
	ReadReceiptsEnabled(ctx context.Context, userID string) (bool, error)
	SetReadReceipts(ctx context.Context, userID string, enabled bool) error
}
