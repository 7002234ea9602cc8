package middleware

import (
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/response"
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

// IdentityMiddleware 网关完成鉴权后通过 X-User-ID 传入当前用户
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(consts.UserIDHeader))
		if userID == "" {
			response.Fail(c, response.Unauthorized, "缺少用户身份")
			c.Abort()
			return
		}

		c.Set(consts.UserID, userID)
		//nolint:staticcheck
		newCtx := context.WithValue(c.Request.Context(), consts.UserID, userID)
		c.Request = c.Request.WithContext(newCtx)

		c.Next()
	}
}
