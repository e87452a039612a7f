package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/monitoring"
)

func TestMetricsMiddlewareObservesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mod, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	monitoring.SetModule(mod)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/video/sessions/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/video/sessions/abc", nil))
	require.Equal(t, http.StatusOK, w.Code)

	families, err := mod.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, family := range families {
		if family.GetName() != "liveclass_api_latency_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["path"] == "video/sessions/:id" && labels["status"] == "200" {
				found = true
				require.Equal(t, uint64(1), metric.GetHistogram().GetSampleCount())
			}
		}
	}
	require.True(t, found)
}

func TestMetricsMiddlewareSkipsWebsocketUpgrades(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mod, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	monitoring.SetModule(mod)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/realtime", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/realtime", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	families, err := mod.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == "liveclass_api_latency_seconds" {
			require.Empty(t, family.GetMetric())
		}
	}
}
