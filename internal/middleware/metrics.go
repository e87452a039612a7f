package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/monitoring"
)

// Metrics records request latency labelled by route template. Websocket upgrades are skipped:
// a stream lives for the whole session and would swamp the latency histogram.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		monitoring.ObserveAPILatency(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
