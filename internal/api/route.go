package api

import (
	"Parley/internal/api/config"
	"Parley/internal/api/middleware"
	"Parley/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.CORSMiddleware(corsOrigins()))
	logger.SetupGin(r)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		imGroup := apiGroup.Group("/im")
		imGroup.Use(middleware.IdentityMiddleware())
		{
			imGroup.POST("/conversations", group.IMHandler.CreateConversation)
			imGroup.POST("/conversations/:cid/messages", group.IMHandler.SendMessage)
			imGroup.POST("/conversations/:cid/messages/:mid/delivered", group.IMHandler.MarkDelivered)
			imGroup.POST("/conversations/:cid/messages/:mid/read", group.IMHandler.MarkRead)
			imGroup.POST("/conversations/:cid/read", group.IMHandler.MarkConversationRead)
			imGroup.POST("/conversations/:cid/leave", group.IMHandler.LeaveConversation)
			imGroup.DELETE("/conversations/:cid/participants/:uid", group.IMHandler.RemoveParticipant)
			imGroup.PUT("/conversations/:cid/group", group.IMHandler.UpdateGroupInfo)
			imGroup.PUT("/conversations/:cid/flags", group.IMHandler.SetFlag)

			imGroup.GET("/settings/read-receipts", group.IMHandler.GetReadReceiptSetting)
			imGroup.PUT("/settings/read-receipts", group.IMHandler.SetReadReceiptSetting)

			imGroup.GET("/retry-queue", group.RetryQueueHandler.List)
			imGroup.POST("/retry-queue/drain", group.RetryQueueHandler.Drain)
		}
	}

	return r
}

func corsOrigins() []string {
	if config.Cfg == nil {
		return nil
	}
	return config.Cfg.Server.CORSOrigins
}
