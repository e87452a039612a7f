package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/api"
	"github.com/charlesng35/liveclass/internal/app"
	"github.com/charlesng35/liveclass/internal/app/maintenance"
	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/cache"
	"github.com/charlesng35/liveclass/internal/database"
	"github.com/charlesng35/liveclass/internal/events"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/monitoring/checks"
	"github.com/charlesng35/liveclass/internal/provider"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/internal/scheduler"
	"github.com/charlesng35/liveclass/internal/services"
)

const (
	healthCheckTimeout  = 3 * time.Second
	membershipTimeout   = 3 * time.Second
	schedulerStaleAfter = 3 * time.Hour
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB            *gorm.DB
	Store         cache.Store
	Monitoring    *monitoring.Module
	JWT           *iauth.JWTService
	Hub           *realtime.Hub
	Bus           *events.Bus
	Sessions      *services.VideoSessionService
	Whiteboards   *services.WhiteboardService
	Notifications *services.NotificationService
	Reconciler    *scheduler.Reconciler
	Cleaner       *maintenance.Cleaner
	Router        *gin.Engine
}

// providerFactory builds the external room provisioners. Tests substitute in-memory fakes.
type providerFactory struct {
	Rooms  func(cfg app.VideoConfig) (provider.RoomProvisioner, error)
	Boards func(cfg app.WhiteboardConfig) (provider.WhiteboardProvisioner, error)
}

func defaultProviders() providerFactory {
	return providerFactory{
		Rooms: func(cfg app.VideoConfig) (provider.RoomProvisioner, error) {
			return provider.NewRTCClient(cfg.RTCConfig())
		},
		Boards: func(cfg app.WhiteboardConfig) (provider.WhiteboardProvisioner, error) {
			return provider.NewWhiteboardClient(cfg.ClientConfig())
		},
	}
}

// bootstrapRuntime initialises the database, engines, background sweeps and the HTTP router.
func bootstrapRuntime(cfg *app.Config, providers providerFactory, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Monitoring, err = monitoring.NewModule(monitoring.Options{})
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	monitoring.SetModule(stack.Monitoring)

	stack.Store, err = cfg.Cache.NewStore(stack.DB, time.Now)
	if err != nil {
		return nil, fmt.Errorf("initialise cache store: %w", err)
	}

	stack.JWT, err = iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	rooms, err := providers.Rooms(cfg.Video)
	if err != nil {
		return nil, fmt.Errorf("initialise media provider: %w", err)
	}

	locks := services.NewKeyedMutex()
	stack.Bus = events.NewBus()

	// The hub authorises class streams against the session service, which in turn publishes
	// through the hub, so the authorizer is bound once the service exists.
	var authorize realtime.Authorizer
	stack.Hub = realtime.NewHub(
		realtime.WithAuthorizer(func(userID, stream string) bool { return authorize(userID, stream) }),
		realtime.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	)

	stack.Notifications, err = services.NewNotificationService(stack.DB, stack.Hub)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	stack.Sessions, err = services.NewVideoSessionService(stack.DB, rooms,
		services.WithJoinWindow(cfg.Video.JoinWindow),
		services.WithRetryAttempts(cfg.Video.RetryAttempts),
		services.WithSessionLocks(locks),
		services.WithLifecyclePublisher(events.NewLifecyclePublisher(stack.Bus, stack.Notifications)),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise video session service: %w", err)
	}
	authorize = realtime.MembershipAuthorizer(stack.Sessions, membershipTimeout)

	if cfg.Whiteboard.Enabled() {
		boards, err := providers.Boards(cfg.Whiteboard)
		if err != nil {
			return nil, fmt.Errorf("initialise whiteboard provider: %w", err)
		}
		stack.Whiteboards, err = services.NewWhiteboardService(stack.DB, boards,
			services.WithWhiteboardLocks(locks),
			services.WithCredentialCache(services.NewCredentialCache(stack.Store, cfg.Cache.CredentialTTL)),
			services.WithStateStore(stack.Store),
			services.WithMaxCapacity(cfg.Whiteboard.DefaultCapacity),
			services.WithRoomLifetime(cfg.Whiteboard.RoomLifetime),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise whiteboard service: %w", err)
		}
	} else {
		log.Warn("whiteboard provider credentials missing; whiteboard features disabled")
	}

	listeners, err := events.NewListeners(stack.Sessions, stack.whiteboardEngine())
	if err != nil {
		return nil, fmt.Errorf("initialise event listeners: %w", err)
	}
	listeners.Register(stack.Bus)

	registerHealthChecks(stack, cfg)

	if cfg.Scheduler.Enabled {
		stack.Reconciler = newReconciler(stack, cfg)
		if err := stack.Reconciler.Start(); err != nil {
			return nil, fmt.Errorf("start reconciliation sweeps: %w", err)
		}
	}

	if cfg.Retention.Enabled {
		stack.Cleaner = newCleaner(stack, cfg)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start retention cleanup: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:        cfg,
		DB:            stack.DB,
		JWT:           stack.JWT,
		Sessions:      stack.Sessions,
		Whiteboards:   stack.Whiteboards,
		Notifications: stack.Notifications,
		Bus:           stack.Bus,
		Hub:           stack.Hub,
		Monitoring:    stack.Monitoring,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func newReconciler(stack *runtimeStack, cfg *app.Config) *scheduler.Reconciler {
	opts := []scheduler.Option{
		scheduler.WithConfig(cfg.Scheduler.ReconcilerConfig()),
		scheduler.WithNotifier(stack.Notifications),
		scheduler.WithReminderMarks(stack.Store),
	}
	if stack.Whiteboards != nil {
		opts = append(opts, scheduler.WithWhiteboards(stack.Whiteboards))
	}
	if purger, ok := stack.Store.(scheduler.ExpiredPurger); ok {
		opts = append(opts, scheduler.WithPurger(purger))
	}
	return scheduler.NewReconciler(stack.Sessions, opts...)
}

func newCleaner(stack *runtimeStack, cfg *app.Config) *maintenance.Cleaner {
	return maintenance.NewCleaner(stack.DB,
		maintenance.WithNotificationRetentionDays(cfg.Retention.NotificationDays),
		maintenance.WithWhiteboardRetentionDays(cfg.Retention.ClosedWhiteboardDays),
		maintenance.WithSchedule(cfg.Retention.Spec),
	)
}

func (s *runtimeStack) whiteboardEngine() events.WhiteboardEngine {
	if s.Whiteboards == nil {
		return nil
	}
	return s.Whiteboards
}

func registerHealthChecks(stack *runtimeStack, cfg *app.Config) {
	health := stack.Monitoring.Health()
	health.RegisterLiveness(checks.Database(stack.DB, healthCheckTimeout))
	health.RegisterReadiness(checks.Database(stack.DB, healthCheckTimeout))
	health.RegisterReadiness(checks.Providers())
	health.RegisterReadiness(checks.Realtime(stack.Hub))
	if cfg.Scheduler.Enabled {
		health.RegisterReadiness(checks.Scheduler(schedulerStaleAfter))
	}
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Reconciler != nil {
		stopCtx := s.Reconciler.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			log.Warn("reconciliation sweeps still running at shutdown")
		}
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			log.Warn("retention cleanup still running at shutdown")
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config, log *zap.Logger) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		closeDatabase(db, log)
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log.Info("database connected", zap.String("driver", strings.ToLower(dbCfg.Driver)))
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
