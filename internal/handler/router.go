package handler

import (
	"im-client/pkg/logger"
	"im-client/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// NewRouter 组装控制接口路由
func NewRouter(h *ChatHandler, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(logger.LoggerMiddleware())      // 自定义日志中间件
	router.Use(logger.ErrorLoggerMiddleware()) // 错误日志中间件

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/session", h.GetSession)
		v1.POST("/login", h.Login)
		v1.POST("/logout", h.Logout)

		v1.POST("/room", h.EnterRoom)
		v1.DELETE("/room", h.LeaveRoom)
		v1.POST("/rooms", h.CreateRoom)
		v1.GET("/rooms/:id", h.GetRoom)

		v1.GET("/snapshot", h.GetSnapshot)
		v1.GET("/snapshot/stream", h.StreamSnapshot)
		v1.GET("/notices", h.GetNotices)

		messages := v1.Group("/messages")
		{
			messages.POST("", h.SendMessage)                  // 发送消息
			messages.POST("/:id/replies", h.Reply)            // 线程回复
			messages.GET("/:id/replies", h.Thread)            // 拉取线程
			messages.GET("/:id/thread", h.ThreadInfo)         // 线程概况
			messages.GET("/:id/attachment", h.Attachment)     // 附件地址
			messages.POST("/:id/reactions", h.ToggleReaction) // 切换表情
			messages.POST("/:id/visibility", h.Visibility)    // 可见比例
		}

		v1.POST("/typing", h.Typing)
		v1.POST("/attachments", h.SendAttachment)
	}
	return router
}
