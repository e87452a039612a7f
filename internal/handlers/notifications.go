package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/services"
	"github.com/charlesng35/liveclass/pkg/response"
)

// NotificationHandler exposes the caller's notification inbox.
type NotificationHandler struct {
	service *services.NotificationService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List returns notifications for the current user, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	items, err := h.service.ListForUser(requestContext(c), services.ListNotificationsInput{
		UserID:     userID,
		UnreadOnly: parseBoolQuery(c, "unread", false),
		Limit:      parseIntQuery(c, "limit", 25),
		Offset:     parseIntQuery(c, "offset", 0),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	response.List(c, items)
}

// MarkRead marks one notification read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	notification, err := h.service.MarkRead(requestContext(c), userID, strings.TrimSpace(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, notification)
}

// MarkAllRead marks every unread notification of the caller read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	updated, err := h.service.MarkAllRead(requestContext(c), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}
