package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/middleware"
	"github.com/xxxsen/kbchat/internal/repo"
)

type RouterDeps struct {
	Health     *HealthHandler
	Chat       *ChatHandler
	KB         *KBHandler
	Keys       *repo.APIKeyRepo
	ChatRate   int
	UploadRate int
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Health.Check)

	authed := api.Group("")
	authed.Use(middleware.APIKeyAuth(deps.Keys))
	authed.Use(middleware.RateLimit(deps.ChatRate))

	kb := authed.Group("/kb")
	kb.POST("/documents", middleware.RateLimit(deps.UploadRate), deps.KB.Upload)
	kb.GET("/documents", deps.KB.List)
	kb.GET("/documents/:id", deps.KB.Get)
	kb.GET("/documents/:id/status", deps.KB.Status)
	kb.DELETE("/documents/:id", deps.KB.Delete)
	kb.POST("/search", deps.KB.Search)

	chat := authed.Group("/chat")
	chat.POST("/message", deps.Chat.Message)
	chat.GET("/history/:sessionId", deps.Chat.History)
	chat.DELETE("/sessions/:sessionId", deps.Chat.DeleteSession)
}
