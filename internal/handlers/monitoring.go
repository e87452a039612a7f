package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/app"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/pkg/response"
)

// MonitoringHandler surfaces monitoring summaries for administrators.
type MonitoringHandler struct {
	module *monitoring.Module
	cfg    *app.Config
}

// NewMonitoringHandler constructs a monitoring handler. Returns nil when monitoring is disabled.
func NewMonitoringHandler(module *monitoring.Module, cfg *app.Config) *MonitoringHandler {
	if module == nil || cfg == nil {
		return nil
	}
	if !cfg.Monitoring.Health.Enabled && !cfg.Monitoring.Prometheus.Enabled {
		return nil
	}
	return &MonitoringHandler{module: module, cfg: cfg}
}

// Summary returns session, whiteboard, sweep and provider statistics plus the scrape endpoint.
func (h *MonitoringHandler) Summary(c *gin.Context) {
	endpoint := strings.TrimSpace(h.cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}

	response.Success(c, http.StatusOK, gin.H{
		"summary": h.module.Summary(),
		"prometheus": gin.H{
			"enabled":  h.cfg.Monitoring.Prometheus.Enabled,
			"endpoint": endpoint,
		},
	})
}
