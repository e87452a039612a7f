package api

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/handlers"
	"github.com/charlesng35/liveclass/internal/middleware"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/:id/read", handler.MarkRead)
	}
}

func registerEventRoutes(api *gin.RouterGroup, handler *handlers.EventHandler) {
	api.POST("/events", middleware.RequireRole(iauth.RoleAdmin), handler.Ingest)
}
