package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotInitialized 未调用 InitRedis（本地开发未配置 redis）
var ErrNotInitialized = errors.New("redis client not initialized")

func client() (*redis.Client, error) {
	if Rdb == nil {
		return nil, ErrNotInitialized
	}
	return Rdb, nil
}

// SetWithExpiration 设置键值对并设置过期时间
func SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	rdb, err := client()
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, value, expiration).Err()
}

// GetValue 获取字符串类型的值，键不存在时返回空串
func GetValue(ctx context.Context, key string) (string, error) {
	rdb, err := client()
	if err != nil {
		return "", err
	}
	value, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

func DeleteKey(ctx context.Context, key string) error {
	rdb, err := client()
	if err != nil {
		return err
	}
	return rdb.Del(ctx, key).Err()
}

// Publish 向频道发布消息，返回收到消息的订阅者数量
func Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	rdb, err := client()
	if err != nil {
		return 0, err
	}
	return rdb.Publish(ctx, channel, payload).Result()
}
