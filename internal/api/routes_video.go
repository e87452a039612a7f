package api

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/handlers"
	"github.com/charlesng35/liveclass/internal/middleware"
)

func registerVideoSessionRoutes(api *gin.RouterGroup, handler *handlers.VideoSessionHandler) {
	group := api.Group("/video/sessions")
	{
		group.POST("", middleware.RequireRole(iauth.RoleTeacher, iauth.RoleAdmin), handler.Create)
		group.GET("/active", middleware.RequireRole(iauth.RoleAdmin), handler.ListActive)
		group.GET("/class/:classSessionID", handler.GetByClass)
		group.GET("/teacher/:teacherID", handler.ListForTeacher)
		group.GET("/student/:studentID", handler.ListForStudent)

		group.GET("/:id", handler.Get)
		group.POST("/:id/join", handler.Join)
		group.POST("/:id/end", handler.End)
		group.POST("/:id/cancel", handler.Cancel)
		group.POST("/:id/recording/start", handler.StartRecording)
	}
}

func registerWebhookRoutes(api *gin.RouterGroup, handler *handlers.RecordingWebhookHandler) {
	api.POST("/webhooks/recording", handler.Recording)
}
