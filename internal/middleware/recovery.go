package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
	"github.com/charlesng35/liveclass/pkg/response"
)

// Recovery turns a handler panic into a 500 envelope. Responses already on the wire, such as
// hijacked websocket streams, are only logged.
func Recovery() gin.HandlerFunc {
	log := logger.WithModule("http")
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Error("handler panic",
				zap.String("route", c.FullPath()),
				zap.String("path", c.Request.URL.Path),
				zap.String("user_id", c.GetString(CtxUserIDKey)),
				zap.String("request_id", c.GetString(CtxRequestIDKey)),
				zap.Any("error", r),
				zap.ByteString("stack", debug.Stack()),
			)
			if !c.Writer.Written() {
				response.Error(c, errors.ErrInternalServer)
			}
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithMessage(fmt.Sprintf("route %s not found", c.Request.URL.Path)))
}
