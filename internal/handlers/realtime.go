package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/liveclass/internal/auth"
	"github.com/charlesng35/liveclass/internal/realtime"
	"github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated WebSocket streams.
type RealtimeHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt}
}

// Stream validates the caller and upgrades the request to the hub. Browsers cannot set headers
// on websocket requests, so the token may also arrive in the query string.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}

	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	streams := gatherStreams(c)
	if len(streams) == 0 {
		streams = []string{realtime.StreamNotifications}
	}
	for _, stream := range streams {
		if !h.hub.Allowed(userID, stream) {
			response.Error(c, errors.ErrForbidden.WithMessage("stream "+stream+" is not available"))
			return
		}
	}

	h.hub.Serve(userID, streams, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	for _, queryStream := range c.QueryArray("stream") {
		if normalized := strings.TrimSpace(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := strings.TrimSpace(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}

	return uniqueStreams(streams)
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
