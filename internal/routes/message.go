package routes

import (
	"github.com/MiHiii/vinaside-backend/internal/handlers"
	"github.com/MiHiii/vinaside-backend/internal/middleware"
	"github.com/gin-gonic/gin"
)

func RegisterMessageRoutes(r gin.IRouter) {
	messages := r.Group("/messages")
	messages.Use(middleware.AuthMiddleware())
	{
		messages.POST("", handlers.SendMessage)
		messages.GET("", middleware.AdminOnly(), handlers.ListAllMessages)

		// Fixed paths must be registered before /:id
		messages.GET("/conversations", handlers.GetConversations)
		messages.GET("/conversation", handlers.GetConversationMessages) // ?otherUserId=...
		messages.PATCH("/conversation/read", handlers.MarkConversationRead)
		messages.GET("/unread-count", handlers.GetUnreadCount)
		messages.GET("/partners", handlers.GetChatPartners)
		messages.POST("/reactions/add", handlers.AddReaction)
		messages.POST("/reactions/remove", handlers.RemoveReaction)

		messages.GET("/:id", handlers.GetMessage)
		messages.PATCH("/:id/read", handlers.MarkMessageRead)
		messages.POST("/:id/reactions/toggle/:type", handlers.ToggleReaction)
		messages.DELETE("/:id", handlers.DeleteMessage)
	}
}
