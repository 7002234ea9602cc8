package dto

import "time"

// RetryItemDTO 离线重试队列条目
type RetryItemDTO struct {
	ID            uint64     `json:"id"`
	OperationType string     `json:"operation_type"`
	RetryCount    int        `json:"retry_count"`
	Timestamp     time.Time  `json:"timestamp"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

type RetryQueueResp struct {
	Depth int             `json:"depth"`
	Items []*RetryItemDTO `json:"items"`
}

type DrainResp struct {
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Dropped   int `json:"dropped"`
	Skipped   int `json:"skipped"`
}
