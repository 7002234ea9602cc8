package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Cfg 全局可访问的配置实例
var Cfg *Config

// LoadConfig 从文件加载配置并填充到 Cfg，环境变量 PARLEY_* 覆盖同名配置项
func LoadConfig() error {
	return LoadConfigFrom("./configs")
}

// LoadConfigFrom reads config.yaml from dir. A missing file is not an error,
// defaults and environment variables still apply.
func LoadConfigFrom(dir string) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	Cfg = &cfg
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.index", "logstash-parley")

	v.SetDefault("mongo.url", "mongodb://localhost:27017/?replicaSet=rs0")
	v.SetDefault("mongo.database", "parley")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.receipt_cache_ttl", "10m")

	v.SetDefault("kafka.consumer.session_timeout", 10)
	v.SetDefault("kafka.consumer.heartbeat_interval", 3)
	v.SetDefault("kafka.consumer.rebalance_timeout", 60)
	v.SetDefault("kafka_message_events.topic", "parley.message.created")
	v.SetDefault("kafka_metadata_consumer.topic", "parley.message.metadata")
	v.SetDefault("kafka_metadata_consumer.group_id", "parley-metadata")

	v.SetDefault("retry_queue.path", "./data/retryqueue")
	v.SetDefault("retry_queue.interval", "30s")
	v.SetDefault("retry_queue.max_retries", 0)
	v.SetDefault("retry_queue.batch_fallback_after", 3)
	v.SetDefault("retry_queue.sync_writes", true)
	v.SetDefault("retry_queue.drain_cron", "@every 1m")

	v.SetDefault("chat.max_group_size", 50)
	v.SetDefault("chat.max_message_length", 1000)
}
