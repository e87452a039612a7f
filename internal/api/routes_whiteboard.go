package api

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/handlers"
	"github.com/charlesng35/liveclass/internal/middleware"
)

func registerWhiteboardRoutes(api *gin.RouterGroup, handler *handlers.WhiteboardHandler) {
	group := api.Group("/whiteboard")
	{
		group.POST("/open", middleware.RequireRole(iauth.RoleTeacher, iauth.RoleAdmin), handler.Open)
		group.POST("/access", handler.Access)

		group.POST("/snapshots", handler.SaveSnapshot)
		group.GET("/snapshots/:id", handler.Snapshot)
		group.GET("/sessions/:classSessionID/snapshots", handler.SessionSnapshots)
		group.GET("/courses/:courseID/snapshots", handler.CourseSnapshots)

		group.GET("/:classSessionID/state", handler.GetState)
		group.PUT("/:classSessionID/state", handler.PutState)
		group.GET("/:classSessionID/status", handler.Status)
		group.POST("/:classSessionID/disconnect", handler.Disconnect)
		group.DELETE("/:classSessionID", handler.Close)
	}
}
