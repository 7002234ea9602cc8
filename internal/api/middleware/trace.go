package middleware

import (
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/logger"
	"context"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 上游传入的 trace id 只接受短的字母数字串，其余重新生成
var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(consts.TraceIDHeader)
		if !traceIDPattern.MatchString(traceID) {
			traceID = "req-" + uuid.NewString()
		}

		c.Set(logger.TraceIDKey, traceID)
		//nolint:staticcheck
		ctx := context.WithValue(c.Request.Context(), logger.TraceIDKey, traceID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(consts.TraceIDHeader, traceID)
		c.Next()
	}
}
