package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/middleware"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUser returns the authenticated user id, writing a 401 when the request carries none.
func currentUser(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.GetString(middleware.CtxUserIDKey))
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// isAdmin reports whether the caller's token carries the ADMIN role.
func isAdmin(c *gin.Context) bool {
	value, ok := c.Get(middleware.CtxClaimsKey)
	if !ok {
		return false
	}
	claims, ok := value.(*iauth.Claims)
	return ok && claims.HasRole(iauth.RoleAdmin)
}
