package handler

import (
	"Parley/internal/api/dto"
	"Parley/internal/pkg/response"
	"Parley/internal/pkg/retryqueue"
	"Parley/internal/service"

	"github.com/gin-gonic/gin"
)

type RetryQueueHandler struct {
	queue *retryqueue.Queue
}

func NewRetryQueueHandler(queue *retryqueue.Queue) *RetryQueueHandler {
	return &RetryQueueHandler{queue: queue}
}

// List 查看待重放的操作
func (s *RetryQueueHandler) List(c *gin.Context) {
	items, err := s.queue.Items()
	if err != nil {
		response.Error(c, service.ErrUnexpected)
		return
	}

	res := &dto.RetryQueueResp{Depth: len(items), Items: make([]*dto.RetryItemDTO, 0, len(items))}
	for _, it := range items {
		item := &dto.RetryItemDTO{
			ID:            it.ID,
			OperationType: string(it.OperationType),
			RetryCount:    it.RetryCount,
			Timestamp:     it.Timestamp,
			LastError:     it.LastError,
		}
		if !it.LastAttempt.IsZero() {
			last := it.LastAttempt
			item.LastAttempt = &last
		}
		res.Items = append(res.Items, item)
	}
	response.Success(c, res)
}

// Drain 网络恢复时由客户端或运维触发，同步执行一轮重放
func (s *RetryQueueHandler) Drain(c *gin.Context) {
	stats, err := s.queue.Drain(c)
	if err != nil {
		response.Error(c, service.ErrUnexpected)
		return
	}
	response.Success(c, dto.DrainResp{
		Succeeded: stats.Succeeded,
		Retried:   stats.Retried,
		Dropped:   stats.Dropped,
		Skipped:   stats.Skipped,
	})
}
