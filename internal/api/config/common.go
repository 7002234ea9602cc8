package config

import "time"

// Config 配置主体
type Config struct {
	Server                ServerConfig          `mapstructure:"server"`
	Log                   LogConfig             `mapstructure:"log"`
	Mongo                 MongoConfig           `mapstructure:"mongo"`
	Redis                 RedisConfig           `mapstructure:"redis"`
	Kafka                 KafkaConfig           `mapstructure:"kafka"`
	KafkaMessageEvents    KafkaProducerTopic    `mapstructure:"kafka_message_events"`
	KafkaMetadataConsumer KafkaMetadataConsumer `mapstructure:"kafka_metadata_consumer"`
	RetryQueue            RetryQueueConfig      `mapstructure:"retry_queue"`
	Chat                  ChatConfig            `mapstructure:"chat"`
}

// ServerConfig Server配置
type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LogConfig 日志配置，Remote 为空时只输出到 stdout
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Remote string `mapstructure:"remote"`
	Index  string `mapstructure:"index"`
	Token  string `mapstructure:"token"`
}

type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	ReceiptCacheTTL time.Duration `mapstructure:"receipt_cache_ttl"`
}

type KafkaConfig struct {
	Brokers  []string       `mapstructure:"brokers"`
	Sasl     SaslConfig     `mapstructure:"sasl"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ConsumerConfig struct {
	SessionTimeout    int `mapstructure:"session_timeout"`
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
	RebalanceTimeout  int `mapstructure:"rebalance_timeout"`
}

type KafkaProducerTopic struct {
	Topic string `mapstructure:"topic"`
}

type KafkaMetadataConsumer struct {
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// RetryQueueConfig 离线重试队列
type RetryQueueConfig struct {
	Path               string        `mapstructure:"path"`
	Interval           time.Duration `mapstructure:"interval"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BatchFallbackAfter int           `mapstructure:"batch_fallback_after"`
	SyncWrites         bool          `mapstructure:"sync_writes"`
	DrainCron          string        `mapstructure:"drain_cron"`
}

type ChatConfig struct {
	MaxGroupSize     int `mapstructure:"max_group_size"`
	MaxMessageLength int `mapstructure:"max_message_length"`
}
