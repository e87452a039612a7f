package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/app"
	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/events"
	"github.com/charlesng35/liveclass/internal/handlers"
	"github.com/charlesng35/liveclass/internal/middleware"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/services"
)

// Dependencies carries the services the HTTP surface is built on.
// Whiteboards is optional; its routes are not registered when it is nil.
type Dependencies struct {
	Config        *app.Config
	DB            *gorm.DB
	JWT           *iauth.JWTService
	Sessions      *services.VideoSessionService
	Whiteboards   *services.WhiteboardService
	Notifications *services.NotificationService
	Bus           *events.Bus
	Hub           *realtime.Hub
	Monitoring    *monitoring.Module
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return fmt.Errorf("config must be provided")
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Sessions == nil:
		return fmt.Errorf("video session service must be provided")
	case d.Notifications == nil:
		return fmt.Errorf("notification service must be provided")
	case d.Bus == nil:
		return fmt.Errorf("event bus must be provided")
	case d.Hub == nil:
		return fmt.Errorf("realtime hub must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers the API routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders(cfg.Server.HSTS))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	registerHealthRoutes(r, cfg, deps.Monitoring)

	if cfg.Monitoring.Prometheus.Enabled && deps.Monitoring != nil {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(deps.Monitoring.Handler()))
	}

	public := r.Group("/api")
	registerWebhookRoutes(public, handlers.NewRecordingWebhookHandler(deps.Sessions, cfg.Video.WebhookSecret))
	// The websocket carries its own token since browsers cannot set headers on upgrades.
	public.GET("/realtime", handlers.NewRealtimeHandler(deps.Hub, deps.JWT).Stream)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	registerVideoSessionRoutes(api, handlers.NewVideoSessionHandler(deps.Sessions))
	if deps.Whiteboards != nil {
		registerWhiteboardRoutes(api, handlers.NewWhiteboardHandler(deps.Whiteboards, deps.Sessions))
	}
	registerNotificationRoutes(api, handlers.NewNotificationHandler(deps.Notifications))
	if cfg.Events.IngestEnabled {
		registerEventRoutes(api, handlers.NewEventHandler(deps.Bus))
	}
	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(deps.Monitoring, cfg))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
