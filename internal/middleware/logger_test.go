package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/pkg/logger"
)

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, logger.Init("debug"))

	r := gin.New()
	r.Use(Logger())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxRequestIDKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))
	require.Equal(t, w.Header().Get(RequestIDHeader), w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	r.ServeHTTP(w, req)
	require.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	require.Equal(t, "req-42", w.Body.String())
}
