package redis

import (
	"Parley/internal/pkg/consts"
	"Parley/internal/repository"
	"context"
	log "log/slog"
	"strconv"
	"time"
)

// settingsCache 读回执开关的读穿缓存，写入时删除缓存
type settingsCache struct {
	next repository.SettingsRepo
	ttl  time.Duration
}

func NewCachedSettingsRepo(next repository.SettingsRepo, ttl time.Duration) repository.SettingsRepo {
	return &settingsCache{next: next, ttl: ttl}
}

func (s *settingsCache) ReadReceiptsEnabled(ctx context.Context, userID string) (bool, error) {
	key := consts.ReadReceiptSettingKey + userID
	if v, err := GetValue(ctx, key); err == nil && v != "" {
		if enabled, perr := strconv.ParseBool(v); perr == nil {
			return enabled, nil
		}
	} else if err != nil {
		log.WarnContext(ctx, "receipt setting cache read failed", "user_id", userID, "err", err)
	}

	enabled, err := s.next.ReadReceiptsEnabled(ctx, userID)
	if err != nil {
		return false, err
	}
	if err = SetWithExpiration(ctx, key, strconv.FormatBool(enabled), s.ttl); err != nil {
		log.WarnContext(ctx, "receipt setting cache write failed", "user_id", userID, "err", err)
	}
	return enabled, nil
}

func (s *settingsCache) SetReadReceipts(ctx context.Context, userID string, enabled bool) error {
	if err := s.next.SetReadReceipts(ctx, userID, enabled); err != nil {
		return err
	}
	if err := DeleteKey(ctx, consts.ReadReceiptSettingKey+userID); err != nil {
		log.WarnContext(ctx, "receipt setting cache invalidation failed", "user_id", userID, "err", err)
	}
	return nil
}
