package job

import (
	"Parley/internal/pkg/logger"
	"Parley/internal/pkg/retryqueue"
	"context"
	log "log/slog"
	"time"
)

// RetryDrainJob 兜底的定时重放，网络恢复事件丢失时仍能清空离线队列
type RetryDrainJob struct {
	queue   *retryqueue.Queue
	timeout time.Duration
}

func NewRetryDrainJob(queue *retryqueue.Queue, timeout time.Duration) *RetryDrainJob {
	return &RetryDrainJob{
		queue:   queue,
		timeout: timeout,
	}
}

func (s *RetryDrainJob) Run() {
	ctx := logger.WithTraceID(context.Background(), "job-retry_drain")
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	depth, err := s.queue.Len()
	if err != nil {
		log.ErrorContext(ctx, "read retry queue depth error", "err", err)
		return
	}
	if depth == 0 {
		return
	}

	log.InfoContext(ctx, "RetryDrainJob processing", "depth", depth)
	stats, err := s.queue.Drain(ctx)
	if err != nil {
		log.ErrorContext(ctx, "retry drain job failed", "err", err)
		return
	}
	log.InfoContext(ctx, "RetryDrainJob finished",
		"succeeded", stats.Succeeded, "retried", stats.Retried, "dropped", stats.Dropped, "skipped", stats.Skipped)
}
