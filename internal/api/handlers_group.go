package api

import "Parley/internal/api/handler"

// HandlersGroup 所有 Handler 的集合
type HandlersGroup struct {
	IMHandler         *handler.IMHandler
	RetryQueueHandler *handler.RetryQueueHandler
}
