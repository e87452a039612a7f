package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/app"
	"github.com/charlesng35/liveclass/internal/monitoring"
)

type probe func(ctx context.Context) monitoring.HealthReport

// registerHealthRoutes mounts the probes at the root for orchestrators and under /api for
// clients that only reach the API prefix. With health checks disabled the paths answer 404.
func registerHealthRoutes(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	var health *monitoring.HealthManager
	if cfg != nil && cfg.Monitoring.Health.Enabled && mon != nil {
		health = mon.Health()
	}

	for _, group := range []gin.IRouter{r, r.Group("/api")} {
		if health == nil {
			group.GET("/health", healthDisabled)
			group.GET("/health/live", healthDisabled)
			group.GET("/health/ready", healthDisabled)
			continue
		}
		group.GET("/health", healthProbe(health.EvaluateReadiness, false))
		group.GET("/health/live", healthProbe(health.EvaluateLiveness, true))
		group.GET("/health/ready", healthProbe(health.EvaluateReadiness, true))
	}
}

// healthProbe answers 503 when the report failed. The summary form omits per-check details.
func healthProbe(evaluate probe, detailed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := evaluate(c.Request.Context())

		code := http.StatusOK
		if !report.Success {
			code = http.StatusServiceUnavailable
		}
		body := gin.H{
			"success":    report.Success,
			"status":     report.Status,
			"checked_at": time.Now().UTC(),
		}
		if detailed {
			body["checks"] = report.Checks
		}
		c.JSON(code, body)
	}
}

func healthDisabled(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "status": "disabled"})
}
