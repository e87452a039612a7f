package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/monitoring"
)

const defaultDatabaseTimeout = 2 * time.Second

// Database returns a readiness probe that pings the session store.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	check := monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError("database", err, time.Since(start))
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return monitoring.ResultFromError("database", err, time.Since(start))
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
	check.Timeout = chooseTimeout(timeout, defaultDatabaseTimeout)
	return check
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
