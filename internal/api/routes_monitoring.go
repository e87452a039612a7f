package api

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/handlers"
	"github.com/charlesng35/liveclass/internal/middleware"
)

func registerMonitoringRoutes(api *gin.RouterGroup, handler *handlers.MonitoringHandler) {
	if api == nil || handler == nil {
		return
	}

	group := api.Group("/monitoring")
	group.GET("/summary", middleware.RequireRole(iauth.RoleAdmin), handler.Summary)
}
